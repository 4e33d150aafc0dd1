package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

type actorSlotKey struct{}

// actorSlot lets the auth middleware report the principal back to the
// request logger, which wraps it.
type actorSlot struct {
	id string
}

func noteActor(ctx context.Context, actorID string) {
	if slot, ok := ctx.Value(actorSlotKey{}).(*actorSlot); ok {
		slot.id = actorID
	}
}

// requestID reuses an incoming X-Request-ID or assigns a new one and stores
// it where chi's middleware.GetReqID finds it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger writes one line per request, at warn for 4xx and error for 5xx.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			slot := &actorSlot{}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), actorSlotKey{}, slot)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			var event *zerolog.Event
			switch {
			case status >= 500:
				event = log.Error()
			case status >= 400:
				event = log.Warn()
			default:
				event = log.Info()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", time.Since(start)).
				Str("ip", r.RemoteAddr).
				Str("user_agent", r.UserAgent())
			if slot.id != "" {
				event.Str("actor_id", slot.id)
			}
			event.Msg("request")
		})
	}
}

// recoverer turns a handler panic into a 500 error envelope.
func recoverer(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error().
						Str("request_id", middleware.GetReqID(r.Context())).
						Interface("panic", rec).
						Str("path", r.URL.Path).
						Msg("panic recovered")
					respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
