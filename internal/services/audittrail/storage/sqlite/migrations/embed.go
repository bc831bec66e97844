package migrations

import "embed"

// FS contains embedded SQLite migrations for the audit trail databases.
// events/ holds the log, run ledger, cursors and alert acknowledgements;
// secrets/ holds secret versions, kept in a separate file.
//
//go:embed events/*.sql secrets/*.sql
var FS embed.FS

const (
	EventsRoot  = "events"
	SecretsRoot = "secrets"
)
