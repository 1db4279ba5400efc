package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/DoyleJ11/syncwatch/internal/hub"
	"github.com/DoyleJ11/syncwatch/internal/session"
	"github.com/DoyleJ11/syncwatch/pkg/types"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const stateTimeout = 2 * time.Second

type stateResponse struct {
	State types.SyncState `json:"state"`
	Peers int             `json:"peers"`
}

// State reports the authoritative position and how many viewers are attached.
func State(sess *session.Session, h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), stateTimeout)
		defer cancel()

		snap, err := sess.Snapshot(ctx)
		if err != nil {
			http.Error(w, "session unavailable", http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, http.StatusOK, stateResponse{
			State: types.SyncState{
				IsPlaying:    snap.IsPlaying,
				CurrentTime:  snap.CurrentTime,
				ServerTimeMs: snap.ServerTimeMs,
			},
			Peers: max(h.Peers(ctx), 0),
		})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs one line per request once the handler returns.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			log.Info("request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("range", r.Header.Get("Range")),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)))
		})
	}
}
