package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/identity"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/infra/postgres"
	redisinfra "live-quiz-service/internal/infra/redis"
	transport "live-quiz-service/internal/transport/http"
)

// newStartCmd builds the CLI subcommand to start the server.
func newStartCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), opts)
		},
	}
}

func runServer(ctx context.Context, opts *rootOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	if cfg.Auth.Secret == "" {
		return errors.New("auth.secret is required (env: QUIZROOM_AUTH_SECRET)")
	}
	verifier, err := identity.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := app.Deps{Logger: logger}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes()...)
	archive := memory.NewSessionArchive()
	deps.Recorder, deps.Sessions = archive, archive

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		loader = postgres.NewQuizLoader(pool)

		db := openBun(cfg.Postgres.URL)
		defer db.Close()
		recorder := postgres.NewSessionRecorder(db)
		deps.Recorder, deps.Sessions = recorder, recorder
		logger.Info("postgres enabled")
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	deps.Quizzes = memory.NewQuizRepository(loader, quizTTL)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		deps.Quizzes = redisinfra.NewQuizRepository(client, loader, quizTTL)
		owner := fmt.Sprintf("%s-%s", hostname(), uuid.NewString())
		deps.Reserver = redisinfra.NewCodeReservations(client, config.TTLDuration(cfg.Redis.TTL, 24*time.Hour), owner)
		logger.Info("redis enabled", "addr", cfg.Redis.Addr)
	}

	service := app.NewService(deps, serviceOptions(cfg))
	api := transport.NewAPI(service, verifier, cfg.Server.PublicURL, logger)
	ws := transport.NewWSHandler(service, verifier, logger)

	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      api.Router(ws),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting quiz room service", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return service.Run(gctx)
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		service.Shutdown()
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func serviceOptions(cfg config.Config) app.Options {
	opts := app.DefaultOptions()
	if cfg.Rooms.CodeAttempts > 0 {
		opts.CodeAttempts = cfg.Rooms.CodeAttempts
	}
	if cfg.Rooms.OutboxSize > 0 {
		opts.OutboxSize = cfg.Rooms.OutboxSize
	}
	opts.HostGrace = config.TTLDuration(cfg.Rooms.HostGrace, opts.HostGrace)
	opts.IdleTimeout = config.TTLDuration(cfg.Rooms.IdleTimeout, opts.IdleTimeout)
	opts.ReapInterval = config.TTLDuration(cfg.Rooms.ReapInterval, opts.ReapInterval)
	if cfg.Scoring.BasePoints > 0 {
		opts.Scoring.BasePoints = cfg.Scoring.BasePoints
	}
	opts.Scoring.DefaultTimeLimit = config.TTLDuration(cfg.Scoring.DefaultTimeLimit, opts.Scoring.DefaultTimeLimit)
	return opts
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "quizroom"
	}
	return name
}
