package repository

// Schema definitions for the bedside database.
// Compatible with both SQLite and PostgreSQL.

// schemaInstruments stores custom rule tables, one row per id and version.
// definition holds the instrument as JSON.
const schemaInstruments = `
CREATE TABLE IF NOT EXISTS instruments (
    id TEXT NOT NULL,
    version TEXT NOT NULL,
    name TEXT NOT NULL,
    definition TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_instruments_enabled ON instruments(enabled);
CREATE INDEX IF NOT EXISTS idx_instruments_updated ON instruments(id, updated_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaInstruments,
	}
}
