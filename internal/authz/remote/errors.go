// Package remote implements authz.Authorizer over the Authorization Service's
// HTTP and gRPC transports.
package remote

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrUnavailable means the Authorization Service could not be reached or failed.
	ErrUnavailable = errors.New("authorization service unavailable")
	// ErrUnauthenticated means the service rejected the forwarded credentials.
	ErrUnauthenticated = errors.New("authorization service rejected credentials")
	// ErrBadResponse means the service answered with an unreadable payload.
	ErrBadResponse = errors.New("authorization service returned a malformed response")
)

func mapGRPCError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrUnauthenticated, st.Message())
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrBadResponse, st.Message())
	default:
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, st.Code(), st.Message())
	}
}
