package auth

import "context"

type sessionKey struct{}

// session is everything withAuth learns about a request: who is calling and
// the credential they presented.
type session struct {
	principal *Principal
	token     string
}

func sessionFrom(ctx context.Context) session {
	if ctx == nil {
		return session{}
	}
	s, _ := ctx.Value(sessionKey{}).(session)
	return s
}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	s := sessionFrom(ctx)
	s.principal = &principal
	return context.WithValue(ctx, sessionKey{}, s)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	s := sessionFrom(ctx)
	if s.principal == nil {
		return Principal{}, false
	}
	return *s.principal, true
}

// ContextWithToken stores the raw bearer token so outbound authorization calls
// can forward it. An empty token leaves ctx unchanged.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	s := sessionFrom(ctx)
	s.token = token
	return context.WithValue(ctx, sessionKey{}, s)
}

// TokenFromContext returns the bearer token if one was attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	s := sessionFrom(ctx)
	return s.token, s.token != ""
}
