package store

// Schema for the snapshot database. Timestamps are Unix milliseconds.
// The meta table's last_run pointer is the commit marker: a run is only
// considered committed once records, run row, report row, and the pointer
// are all written, which happens in one transaction.
const schema = `
CREATE TABLE IF NOT EXISTS records (
	identity_key     TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	native_id        TEXT NOT NULL DEFAULT '',
	game_date        TEXT NOT NULL DEFAULT '',
	start_time       TEXT NOT NULL DEFAULT '',
	home             TEXT NOT NULL DEFAULT '',
	away             TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT '',
	details_json     TEXT NOT NULL DEFAULT '{}',
	first_seen_run   TEXT NOT NULL,
	last_changed_run TEXT NOT NULL,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind);
CREATE INDEX IF NOT EXISTS idx_records_date ON records(game_date);

CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	started_at      INTEGER NOT NULL,
	finished_at     INTEGER NOT NULL,
	producer_json   TEXT NOT NULL DEFAULT '{}',
	total_before    INTEGER NOT NULL,
	total_after     INTEGER NOT NULL,
	new_count       INTEGER NOT NULL,
	updated_count   INTEGER NOT NULL,
	unchanged_count INTEGER NOT NULL,
	missing_count   INTEGER NOT NULL,
	skipped_count   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	run_id     TEXT PRIMARY KEY REFERENCES runs(id) ON DELETE CASCADE,
	created_at INTEGER NOT NULL,
	body       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	k TEXT PRIMARY KEY,
	v TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_lock (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	owner       TEXT NOT NULL,
	acquired_at INTEGER NOT NULL
);
`

const metaLastRun = "last_run"
