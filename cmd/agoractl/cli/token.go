package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"agora.city/internal/auth"
)

func newTokenCmd(opts *globalOptions) *cobra.Command {
	var (
		secret string
		user   string
		email  string
		roles  []string
		perms  []string
		admin  bool
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("signing secret is required: --secret or AGORA_AUTH_SECRET")
			}
			tokens, err := auth.NewTokens(secret)
			if err != nil {
				return err
			}
			token, expires, err := tokens.Generate(auth.NewPrincipal(user, email, roles, perms, admin), ttl)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return writeJSON(out, map[string]any{"token": token, "expires_at": expires})
			}
			fmt.Fprintln(out, token)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&secret, "secret", os.Getenv("AGORA_AUTH_SECRET"), "HS256 signing secret")
	f.StringVar(&user, "user", "", "Subject user id (required)")
	f.StringVar(&email, "email", "", "Email claim")
	f.StringSliceVar(&roles, "roles", nil, "Role claims")
	f.StringSliceVar(&perms, "perms", nil, "Permission claims")
	f.BoolVar(&admin, "admin", false, "Administrator claim")
	f.DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
