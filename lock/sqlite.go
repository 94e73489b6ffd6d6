package lock

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rustyeddy/pmtrader/pkg/id"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cycle_lock (
	name TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
`

// SQLite is a lock row in a SQLite file, for processes on one host that
// share a journal file but have no Redis. Rows expire after TTL unless the
// holder is alive to extend them.
type SQLite struct {
	db   *sql.DB
	name string
	ttl  time.Duration
	poll time.Duration
}

func NewSQLite(path, name string, ttl time.Duration) (*SQLite, error) {
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SQLite{db: db, name: name, ttl: ttl, poll: 50 * time.Millisecond}, nil
}

func (s *SQLite) Acquire(ctx context.Context, timeout time.Duration) (Release, error) {
	owner := id.New()
	err := poll(ctx, timeout, s.poll, func(ctx context.Context) (bool, error) {
		return s.try(ctx, owner)
	})
	if err != nil {
		return nil, err
	}

	l := keepAlive(s.ttl, func(ctx context.Context) (bool, error) {
		return s.renew(ctx, owner)
	})

	var once sync.Once
	var rerr error
	return func() error {
		once.Do(func() {
			lost := l.end()
			_, rerr = s.db.Exec(`DELETE FROM cycle_lock WHERE name = ? AND owner = ?`, s.name, owner)
			if rerr == nil {
				rerr = lost
			}
		})
		return rerr
	}, nil
}

func (s *SQLite) renew(ctx context.Context, owner string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE cycle_lock SET expires_at = ? WHERE name = ? AND owner = ?`,
		time.Now().Add(s.ttl).UnixNano(), s.name, owner)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *SQLite) try(ctx context.Context, owner string) (bool, error) {
	now := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite lock: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cycle_lock WHERE name = ? AND expires_at < ?`,
		s.name, now.UnixNano()); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO cycle_lock (name, owner, expires_at) VALUES (?, ?, ?)`,
		s.name, owner, now.Add(s.ttl).UnixNano())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
