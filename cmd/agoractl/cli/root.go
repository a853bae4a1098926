// Package cli implements agoractl, an operator tool for probing the
// Authorization Service and evaluating gates offline.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"agora.city/internal/auth"
	"agora.city/internal/authz"
	"agora.city/internal/authz/remote"
)

type globalOptions struct {
	url        string
	grpcTarget string
	apiKey     string
	token      string
	timeout    time.Duration
	jsonOutput bool
}

// Execute creates the root command tree and runs it.
func Execute(version, commit string) error {
	return newRootCmd(version, commit).Execute()
}

func newRootCmd(version, commit string) *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "agoractl",
		Short:         "Probe the Agora Authorization Service",
		Long:          "agoractl runs permission and field checks against the Authorization Service, evaluates gates locally and mints development session tokens.",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.url, "url", os.Getenv("AGORA_AUTHZ_URL"), "Authorization Service base URL")
	flags.StringVar(&opts.grpcTarget, "grpc", os.Getenv("AGORA_AUTHZ_GRPC_TARGET"), "Authorization Service gRPC target")
	flags.StringVar(&opts.apiKey, "api-key", os.Getenv("AGORA_AUTHZ_API_KEY"), "API key sent with HTTP checks")
	flags.StringVar(&opts.token, "token", os.Getenv("AGORA_TOKEN"), "Bearer token forwarded to the service")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Second, "Per-check timeout")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Output as JSON")

	cmd.AddCommand(newCheckCmd(opts))
	cmd.AddCommand(newFieldCmd(opts))
	cmd.AddCommand(newGateCmd(opts))
	cmd.AddCommand(newTokenCmd(opts))
	return cmd
}

// client builds a fail-closed client for the configured transport.
func (o *globalOptions) client() (*authz.Client, func(), error) {
	var (
		backend authz.Authorizer
		closeFn = func() {}
	)
	switch {
	case o.url != "" && o.grpcTarget != "":
		return nil, nil, errors.New("use either --url or --grpc, not both")
	case o.url != "":
		a, err := remote.NewHTTPAuthorizer(o.url, remote.WithAPIKey(o.apiKey))
		if err != nil {
			return nil, nil, err
		}
		backend = a
	case o.grpcTarget != "":
		a, err := remote.DialGRPC(o.grpcTarget)
		if err != nil {
			return nil, nil, err
		}
		backend, closeFn = a, func() { _ = a.Close() }
	default:
		return nil, nil, errors.New("no Authorization Service: set --url or --grpc")
	}
	c, err := authz.NewClient(backend, authz.WithTimeout(o.timeout))
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return c, closeFn, nil
}

func (o *globalOptions) context() context.Context {
	ctx := context.Background()
	if o.token != "" {
		ctx = auth.ContextWithToken(ctx, o.token)
	}
	return ctx
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func verdict(allowed bool) string {
	if allowed {
		return "ALLOWED"
	}
	return "DENIED"
}
