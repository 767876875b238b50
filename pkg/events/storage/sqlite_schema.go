package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the event log schema.
const Schema = `
CREATE TABLE IF NOT EXISTS governance_events (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    ts INTEGER NOT NULL,
    source TEXT NOT NULL,
    feature TEXT NOT NULL,
    action TEXT,
    team TEXT,
    data TEXT,

    -- Outcome, attached after the fact
    outcome TEXT,
    version INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_governance_events_ts ON governance_events(ts);
CREATE INDEX IF NOT EXISTS idx_governance_events_type_ts ON governance_events(type, ts);
CREATE INDEX IF NOT EXISTS idx_governance_events_feature ON governance_events(feature);
`

// InsertSchemaVersion records the schema version.
const InsertSchemaVersion = `
INSERT INTO schema_version (version, applied_at)
VALUES (?, datetime('now'))
ON CONFLICT(version) DO NOTHING;
`

// GetSchemaVersion retrieves the current schema version.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
