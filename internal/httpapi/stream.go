package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"agora.city/internal/admin"
	"agora.city/internal/authz"
)

const (
	streamAuthzWait = 10 * time.Second
	streamHeartbeat = 25 * time.Second
)

// Stream serves admin change events as Server-Sent Events. Access is confirmed
// with the Authorization Service before the stream opens; nothing is written
// while the check is pending.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	principal, ok := sessionPrincipal(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	guard := authz.NewGuard(a.authz, principal)
	defer guard.Close()
	guard.Watch(ctx, authz.PermissionRequest{Permission: admin.PermAnalyticsView})

	waitCtx, stop := context.WithTimeout(ctx, streamAuthzWait)
	state, res, err := guard.Wait(waitCtx)
	stop()
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "authorization pending")
		return
	}
	if state != authz.StateAllowed {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "access denied", "reason": res.Reason})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := a.events.Subscribe(ctx)

	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case evt, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Kind, payload)
			flusher.Flush()
		}
	}
}
