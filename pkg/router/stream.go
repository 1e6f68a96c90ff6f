package router

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/apipulse/pulsed/pkg/definition"
)

// serveStream emits a stream endpoint's events as server-sent events. With
// repeat enabled the sequence loops until the client disconnects.
func (rt *Router) serveStream(w http.ResponseWriter, r *http.Request, ep *definition.EndpointDefinition) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		rt.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	cfg := ep.Stream
	if cfg == nil || len(cfg.Events) == 0 {
		rt.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stream endpoint has no events"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	tctx := templateContext{
		Method:   r.Method,
		Path:     r.URL.Path,
		Fixtures: rt.st.Fixtures(),
		Bucket:   rt.st.Bucket().Snapshot(),
	}

	for {
		for _, ev := range cfg.Events {
			delay := ev.DelayMs
			if delay == 0 {
				delay = cfg.IntervalMs
			}
			if delay > 0 {
				if !sleepCtx(ctx, time.Duration(delay)*time.Millisecond) {
					return
				}
			}
			if ev.Event != "" {
				fmt.Fprintf(w, "event: %s\n", ev.Event)
			}
			fmt.Fprintf(w, "data: %s\n\n", render(string(ev.Data), tctx))
			flusher.Flush()
			if ctx.Err() != nil {
				return
			}
		}
		if !cfg.Repeat {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
