package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"github.com/rs/zerolog"

	"treasury-lens/internal/storage/postgres"
)

// RunPostgresMigrations applies the embedded PostgreSQL files in order.
// Every file is idempotent, so running it against an existing schema is a no-op.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool, logger zerolog.Logger) error {
	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, file := range files {
		data, err := fs.ReadFile(PostgresFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
		logger.Debug().Str("file", file).Msg("applied postgres migration")
	}

	logger.Info().Int("files", len(files)).Msg("postgres schema ready")
	return nil
}
