package authindex

// Passages are append-only; id is the insertion order used for tie-breaking.
const schemaPassages = `
CREATE TABLE IF NOT EXISTS passages (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id    TEXT NOT NULL,
    offset       INTEGER NOT NULL,
    title        TEXT NOT NULL DEFAULT '',
    jurisdiction TEXT NOT NULL DEFAULT '',
    text         TEXT NOT NULL,
    vector       BLOB NOT NULL,
    created_at   INTEGER NOT NULL,
    UNIQUE (source_id, offset)
);
CREATE INDEX IF NOT EXISTS idx_passages_jurisdiction ON passages (jurisdiction);
`

// Ephemeral entries live in the session shard database, one row per accepted
// or rejected suggestion. session_id scoping is enforced in every query.
const schemaEphemeral = `
CREATE TABLE IF NOT EXISTS ephemeral_entries (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    ref        TEXT NOT NULL,
    title      TEXT NOT NULL DEFAULT '',
    text       TEXT NOT NULL,
    vector     BLOB NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ephemeral_session ON ephemeral_entries (session_id);
`
