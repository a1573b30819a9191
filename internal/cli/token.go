package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"live-quiz-service/internal/config"
	"live-quiz-service/internal/identity"
)

// newTokenCmd issues an identity token, for local testing.
func newTokenCmd(opts *rootOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <identity>",
		Short: "Print a signed identity token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			verifier, err := identity.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = config.TTLDuration(cfg.Auth.TokenTTL, 12*time.Hour)
			}
			token, err := verifier.Issue(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to auth.tokenTTL")
	return cmd
}
