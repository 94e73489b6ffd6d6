package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores the journal in PostgreSQL for deployments where several
// hosts share one account.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(cctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	if _, err := pool.Exec(cctx, PostgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Append holds an exclusive table lock for the transaction so sequence
// numbers become visible to readers in order.
func (j *Postgres) Append(ctx context.Context, events ...Event) ([]Event, error) {
	if len(events) == 0 {
		return nil, nil
	}
	tx, err := j.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `LOCK TABLE pm_events IN EXCLUSIVE MODE`); err != nil {
		return nil, fmt.Errorf("journal lock: %w", err)
	}

	out := make([]Event, len(events))
	for i, e := range events {
		err := tx.QueryRow(ctx, `
			INSERT INTO pm_events (time, type, market_id, position_id, payload)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING seq`,
			formatTime(e.Time), string(e.Type), e.MarketID, e.PositionID, []byte(e.Payload),
		).Scan(&e.Seq)
		if err != nil {
			return nil, fmt.Errorf("journal append %s: %w", e.Type, err)
		}
		out[i] = e
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("journal commit: %w", err)
	}
	return out, nil
}

func (j *Postgres) Since(ctx context.Context, after int64) ([]Event, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT seq, time, type, market_id, position_id, payload
		FROM pm_events
		WHERE seq > $1
		ORDER BY seq ASC`, after)
	if err != nil {
		return nil, err
	}
	return scanPgEvents(rows)
}

func (j *Postgres) ForPosition(ctx context.Context, positionID string) ([]Event, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT seq, time, type, market_id, position_id, payload
		FROM pm_events
		WHERE position_id = $1
		ORDER BY seq ASC`, positionID)
	if err != nil {
		return nil, err
	}
	return scanPgEvents(rows)
}

func (j *Postgres) SaveSnapshot(ctx context.Context, s Snapshot) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = j.pool.Exec(ctx, `
		INSERT INTO pm_snapshots (seq, time, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (seq) DO UPDATE SET time = EXCLUDED.time, body = EXCLUDED.body`,
		s.Seq, formatTime(s.Time), body,
	)
	return err
}

func (j *Postgres) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	var body []byte
	err := j.pool.QueryRow(ctx, `SELECT body FROM pm_snapshots ORDER BY seq DESC LIMIT 1`).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrNoSnapshot
		}
		return Snapshot{}, err
	}
	var s Snapshot
	if err := json.Unmarshal(body, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

func (j *Postgres) Close() error {
	j.pool.Close()
	return nil
}

func scanPgEvents(rows pgx.Rows) ([]Event, error) {
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e       Event
			ts, typ string
			payload []byte
		)
		if err := rows.Scan(&e.Seq, &ts, &typ, &e.MarketID, &e.PositionID, &payload); err != nil {
			return nil, err
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		e.Time = t
		e.Type = EventType(typ)
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
