package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"live-quiz-service/internal/config"
	"live-quiz-service/internal/infra/postgres"
	pgmigrations "live-quiz-service/internal/infra/postgres/migrations"
)

// newMigrateCmd applies database migrations.
func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if err := runMigrationsWithConfig(cmd.Context(), cfg, logger); err != nil {
				return err
			}
			if seed {
				return seedQuizzes(cmd.Context(), cfg, logger)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "insert the sample quizzes")
	return cmd
}

func openBun(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func runMigrationsWithConfig(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	db := openBun(cfg.Postgres.URL)
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if group.IsZero() {
		logger.Info("database schema up to date")
		return nil
	}
	logger.Info("migrations applied", "group", group.String())
	return nil
}

func seedQuizzes(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	loader := postgres.NewQuizLoader(pool)
	for _, quiz := range sampleQuizzes() {
		if err := loader.SaveQuiz(ctx, quiz); err != nil {
			return err
		}
		logger.Info("quiz seeded", "quiz", quiz.ID, "questions", len(quiz.Questions))
	}
	return nil
}
