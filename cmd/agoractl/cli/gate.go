package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"agora.city/internal/authz"
)

func newGateCmd(opts *globalOptions) *cobra.Command {
	var (
		admin bool
		roles []string
		perms []string
		req   authz.Requirement
	)
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Evaluate a requirement against given capabilities without any I/O",
		Example: `  agoractl gate --roles moderator --perms challenge_edit --need-perms challenge_edit,challenge_delete --any
  agoractl gate --admin --need-admin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := authz.Evaluate(authz.CapabilitiesOf(admin, roles, perms), req)
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return writeJSON(out, d)
			}
			if d.Allowed {
				fmt.Fprintln(out, "ALLOWED")
				return nil
			}
			fmt.Fprintf(out, "DENIED by %s check: %s\n", d.Check, d.Reason)
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&admin, "admin", false, "Session is an administrator")
	f.StringSliceVar(&roles, "roles", nil, "Roles held by the session")
	f.StringSliceVar(&perms, "perms", nil, "Permission codes held by the session")
	f.BoolVar(&req.RequireAdmin, "need-admin", false, "Require an administrator")
	f.StringSliceVar(&req.Roles, "need-roles", nil, "Require any of these roles")
	f.StringSliceVar(&req.Permissions, "need-perms", nil, "Require these permission codes")
	f.BoolVar(&req.AnyPermission, "any", false, "Any one of --need-perms suffices")
	return cmd
}
