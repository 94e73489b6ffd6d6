package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the journal database at path. File databases
// run in WAL mode with a busy timeout so overlapping processes wait for
// each other instead of failing.
func NewSQLite(path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) Append(ctx context.Context, events ...Event) ([]Event, error) {
	if len(events) == 0 {
		return nil, nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("journal begin: %w", err)
	}
	defer tx.Rollback()

	out := make([]Event, len(events))
	for i, e := range events {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (time, type, market_id, position_id, payload)
			VALUES (?, ?, ?, ?, ?)`,
			formatTime(e.Time), string(e.Type), e.MarketID, e.PositionID, string(e.Payload),
		)
		if err != nil {
			return nil, fmt.Errorf("journal append %s: %w", e.Type, err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		e.Seq = seq
		out[i] = e
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("journal commit: %w", err)
	}
	return out, nil
}

func (j *SQLite) Since(ctx context.Context, after int64) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, time, type, market_id, position_id, payload
		FROM events
		WHERE seq > ?
		ORDER BY seq ASC`, after)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (j *SQLite) ForPosition(ctx context.Context, positionID string) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, time, type, market_id, position_id, payload
		FROM events
		WHERE position_id = ?
		ORDER BY seq ASC`, positionID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (j *SQLite) SaveSnapshot(ctx context.Context, s Snapshot) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots (seq, time, body)
		VALUES (?, ?, ?)`,
		s.Seq, formatTime(s.Time), string(body),
	)
	return err
}

func (j *SQLite) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	var body string
	row := j.db.QueryRowContext(ctx, `SELECT body FROM snapshots ORDER BY seq DESC LIMIT 1`)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrNoSnapshot
		}
		return Snapshot{}, err
	}
	var s Snapshot
	if err := json.Unmarshal([]byte(body), &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e       Event
			ts, typ string
			payload string
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

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad journal time %q: %w", s, err)
	}
	return t.UTC(), nil
}
