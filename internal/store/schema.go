package store

// schema mirrors spec.md §3/§6's five tables and indexes exactly. It is
// applied once at Open time; modernc.org/sqlite (pure Go, no cgo) is the
// driver, so a single binary can run the whole daemon with no external DB
// process, matching §5's "DB is the single authoritative state" framing.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id              TEXT PRIMARY KEY,
	kind                INTEGER NOT NULL,
	status              INTEGER NOT NULL,
	slot                INTEGER NOT NULL,
	batch_begin_epoch   INTEGER,
	batch_end_epoch     INTEGER,
	generate_query_id   TEXT,
	wrapper_query_id    TEXT,
	tx_hash             TEXT,
	failed_at_step      TEXT,
	retries_count       INTEGER NOT NULL DEFAULT 0,
	last_failure_time   DATETIME,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_updated_at ON jobs(status, updated_at);

-- Enforces invariant (i): at most one non-terminal job per (kind, slot).
-- Statuses Done(11) and Error(12) are excluded from the uniqueness set via
-- a partial index predicate.
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_slot_kind_active ON jobs(slot, kind)
	WHERE status NOT IN (11, 12);

CREATE TABLE IF NOT EXISTS verified_epochs (
	slot                  INTEGER PRIMARY KEY,
	header_root           TEXT NOT NULL,
	beacon_state_root     TEXT NOT NULL,
	n_signers             INTEGER NOT NULL,
	execution_block_hash  TEXT NOT NULL,
	execution_block_height INTEGER NOT NULL,
	created_at            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS verified_sync_committees (
	committee_id        INTEGER PRIMARY KEY,
	aggregate_key_hash   TEXT NOT NULL,
	created_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS epoch_merkle_paths (
	epoch_id    INTEGER NOT NULL,
	path_index  INTEGER NOT NULL,
	path        TEXT NOT NULL,
	created_at  DATETIME NOT NULL,
	PRIMARY KEY (epoch_id, path_index)
);

CREATE TABLE IF NOT EXISTS daemon_cursor (
	id                       INTEGER PRIMARY KEY CHECK (id = 1),
	latest_known_beacon_slot INTEGER NOT NULL,
	block_root               TEXT NOT NULL,
	updated_at               DATETIME NOT NULL
);
`
