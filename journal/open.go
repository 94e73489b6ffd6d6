package journal

import (
	"context"
	"fmt"
)

// Open returns the backend named by kind: sqlite (default), postgres or
// memory. For sqlite dsn is a file path.
func Open(ctx context.Context, kind, dsn string) (Journal, error) {
	switch kind {
	case "", "sqlite":
		if dsn == "" {
			return nil, fmt.Errorf("sqlite journal needs a path")
		}
		return NewSQLite(dsn)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres journal needs a dsn")
		}
		return NewPostgres(ctx, dsn)
	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown journal type %q", kind)
}
