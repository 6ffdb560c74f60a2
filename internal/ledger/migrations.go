package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrate brings the ledger at dbPath to the newest schema and returns the
// resulting schema version.
func migrate(ctx context.Context, db *sql.DB, dbPath string, logger *slog.Logger) (int64, error) {
	schema, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("ledger: reading embedded schema: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, schema)
	if err != nil {
		return 0, fmt.Errorf("ledger: preparing schema migration for %s: %w", dbPath, err)
	}

	applied, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: migrating %s: %w", dbPath, err)
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: reading schema version of %s: %w", dbPath, err)
	}

	if len(applied) == 0 {
		logger.Debug("ledger schema current", slog.String("db_path", dbPath), slog.Int64("version", version))

		return version, nil
	}

	for _, r := range applied {
		logger.Debug("ledger migration applied",
			slog.Int64("version", r.Source.Version),
			slog.Duration("took", r.Duration),
		)
	}

	logger.Info("ledger schema migrated",
		slog.String("db_path", dbPath),
		slog.Int("applied", len(applied)),
		slog.Int64("version", version),
	)

	return version, nil
}
