// Package httpapi serves the access console over HTTP: role administration,
// permission checks against the Authorization Service and the change stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"agora.city/internal/admin"
	"agora.city/internal/auth"
	"agora.city/internal/authz"
	"agora.city/internal/events"
	"agora.city/internal/obs"
)

const serviceName = "agora-api"

// ReadyProbe reports whether backing stores are reachable.
type ReadyProbe interface {
	Check(ctx context.Context) error
}

// ReadyFunc adapts a function to ReadyProbe.
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) Check(ctx context.Context) error { return f(ctx) }

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Admin  *admin.Service
	Authz  *authz.Client
	Tokens *auth.Tokens
	Events *events.Broker
	Ready  ReadyProbe
}

// Options tune the middleware stack.
type Options struct {
	Version      string
	RateBurst    int
	RatePerSec   int
	MaxBodyBytes int64
	DevTokens    bool
}

// API is the HTTP layer.
type API struct {
	admin    *admin.Service
	authz    *authz.Client
	tokens   *auth.Tokens
	events   *events.Broker
	ready    ReadyProbe
	validate *validator.Validate
	opts     Options
	now      func() time.Time
}

// New validates deps and returns an API.
func New(deps Deps, opts Options) (*API, error) {
	if deps.Admin == nil || deps.Authz == nil || deps.Tokens == nil {
		return nil, errors.New("httpapi: admin service, authz client and tokens are required")
	}
	if deps.Events == nil {
		deps.Events = events.NewBroker()
	}
	if deps.Ready == nil {
		deps.Ready = ReadyFunc(func(context.Context) error { return nil })
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return &API{
		admin:    deps.Admin,
		authz:    deps.Authz,
		tokens:   deps.Tokens,
		events:   deps.Events,
		ready:    deps.Ready,
		validate: newValidator(),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handler returns the full router wrapped in the middleware stack.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		RequestID,
		LoggingJSON,
		SecurityHeaders,
		CORS,
		MaxBodyBytes(a.opts.MaxBodyBytes),
		func(next http.Handler) http.Handler { return RateLimit(next, a.opts.RateBurst, a.opts.RatePerSec) },
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())
	if a.opts.DevTokens {
		r.Post("/v1/auth/token", a.handleAuthToken)
	}

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)
		r.Get("/v1/session", a.handleSession)
		a.mountAuthz(r)
		a.mountAdmin(r)
		r.Get("/v1/events", a.Stream)
	})
	return obs.Instrument(r)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	b := obs.CurrentBuild()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       serviceName,
		"time":       a.now().Format(time.RFC3339),
		"version":    a.opts.Version,
		"commit":     b.Commit,
		"go_version": b.GoVersion,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// decodeJSON reads exactly one JSON document into dst and runs its validate tags.
func (a *API) decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	if err := a.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// bind decodes the body into dst or answers 400/413 and returns false.
func (a *API) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := a.decodeJSON(r, dst)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	writeError(w, r, http.StatusBadRequest, err.Error())
	return false
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func handleAdminError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, admin.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, admin.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, admin.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, admin.ErrSystemRole):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, admin.ErrInvalidState):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		obs.Logger().WithError(err).WithField("request_id", RequestIDFromContext(r.Context())).Error("admin operation failed")
		writeError(w, r, http.StatusInternalServerError, "admin operation failed")
	}
}
