package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"live-quiz-service/internal/config"
	"live-quiz-service/internal/logging"
)

const envPrefix = "QUIZROOM"

type rootOptions struct {
	port       string
	configPath string
	logLevel   string
	logFormat  string

	env *viper.Viper
}

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{env: viper.New()}
	opts.env.SetEnvPrefix(envPrefix)
	opts.env.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	opts.env.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "quiz-room",
		Short:         "Live quiz room coordinator over WebSocket",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	fs := cmd.PersistentFlags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.StringVar(&opts.port, "port", "", "port to listen on, overrides server.port (env: QUIZROOM_PORT)")
	fs.StringVar(&opts.configPath, "config", "config/config.yaml", "path to YAML config (env: QUIZROOM_CONFIG)")
	fs.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (env: QUIZROOM_LOG_LEVEL)")
	fs.StringVar(&opts.logFormat, "log-format", "", "json or text (env: QUIZROOM_LOG_FORMAT)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = opts.env.BindPFlag(f.Name, f)
		_ = opts.env.BindEnv(f.Name)
		if !f.Changed && opts.env.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", opts.env.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.AddCommand(newStartCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newTokenCmd(opts))
	return cmd
}

// load reads the config file and applies flag and environment overrides.
func (o *rootOptions) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("load config %s: %w", o.configPath, err)
	}
	if o.port != "" {
		cfg.Server.Port = o.port
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	// Secrets and endpoints usually come from the environment.
	overrides := map[string]*string{
		"auth.secret":    &cfg.Auth.Secret,
		"postgres.url":   &cfg.Postgres.URL,
		"redis.addr":     &cfg.Redis.Addr,
		"redis.password": &cfg.Redis.Password,
	}
	for key, dst := range overrides {
		if v := o.env.GetString(key); v != "" {
			*dst = v
		}
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
