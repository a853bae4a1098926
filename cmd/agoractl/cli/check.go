package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"agora.city/internal/authz"
)

func principalFlags(cmd *cobra.Command, p *authz.Principal) {
	cmd.Flags().StringVar(&p.ID, "user", "", "User id of the principal (required)")
	cmd.Flags().StringVar(&p.Email, "email", "", "Email of the principal")
	_ = cmd.MarkFlagRequired("user")
}

func newCheckCmd(opts *globalOptions) *cobra.Command {
	var (
		principal authz.Principal
		req       authz.PermissionRequest
	)
	cmd := &cobra.Command{
		Use:   "check <permission>",
		Short: "Check a permission code for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Permission = args[0]
			client, closeFn, err := opts.client()
			if err != nil {
				return err
			}
			defer closeFn()

			res := client.CheckPermission(opts.context(), principal, req)
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return writeJSON(out, res)
			}
			fmt.Fprintf(out, "%s %s (%s): %s\n", verdict(res.Allowed), req.Permission, res.Outcome, res.Reason)
			return nil
		},
	}
	principalFlags(cmd, &principal)
	cmd.Flags().StringVar(&req.ResourceType, "resource-type", "", "Resource type")
	cmd.Flags().StringVar(&req.ResourceID, "resource-id", "", "Resource id")
	cmd.Flags().StringVar(&req.Action, "action", "", "Resource action")
	return cmd
}

func newFieldCmd(opts *globalOptions) *cobra.Command {
	var (
		principal authz.Principal
		req       authz.FieldAccessRequest
		op        string
	)
	cmd := &cobra.Command{
		Use:   "field <entity> <field>",
		Short: "Check read or write access to an entity field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.EntityType, req.Field, req.Operation = args[0], args[1], authz.Operation(op)
			client, closeFn, err := opts.client()
			if err != nil {
				return err
			}
			defer closeFn()

			res := client.CheckFieldAccess(opts.context(), principal, req)
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return writeJSON(out, res)
			}
			sensitive := ""
			if res.Sensitive {
				sensitive = " [sensitive]"
			}
			fmt.Fprintf(out, "%s %s %s.%s (%s)%s: %s\n", verdict(res.Allowed), req.Operation, req.EntityType, req.Field, res.Outcome, sensitive, res.Reason)
			return nil
		},
	}
	principalFlags(cmd, &principal)
	cmd.Flags().StringVar(&op, "op", string(authz.OperationRead), "Operation: read or write")
	return cmd
}
