// journal/schema.go
package journal

// Times are stored as RFC3339Nano text so both backends return exactly what
// was written.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	time TEXT NOT NULL,
	type TEXT NOT NULL,
	market_id TEXT NOT NULL DEFAULT '',
	position_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_position ON events(position_id);

CREATE TABLE IF NOT EXISTS snapshots (
	seq INTEGER PRIMARY KEY,
	time TEXT NOT NULL,
	body TEXT NOT NULL
);
`

const PostgresSchema = `
CREATE TABLE IF NOT EXISTS pm_events (
	seq BIGSERIAL PRIMARY KEY,
	time TEXT NOT NULL,
	type TEXT NOT NULL,
	market_id TEXT NOT NULL DEFAULT '',
	position_id TEXT NOT NULL DEFAULT '',
	payload JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pm_events_position ON pm_events(position_id);

CREATE TABLE IF NOT EXISTS pm_snapshots (
	seq BIGINT PRIMARY KEY,
	time TEXT NOT NULL,
	body JSONB NOT NULL
);
`
