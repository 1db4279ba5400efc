package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/DoyleJ11/syncwatch/internal/engine"
	"github.com/DoyleJ11/syncwatch/internal/hub"
	"github.com/DoyleJ11/syncwatch/internal/session"
	"github.com/DoyleJ11/syncwatch/pkg/types"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	writeTimeout = 3 * time.Second
	pingInterval = 30 * time.Second
	outboxSize   = 8
)

type Options struct {
	OriginPatterns []string
	Logger         *zap.Logger
}

func Handler(sess *session.Session, h *hub.Hub, opts Options) http.HandlerFunc {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		clientID := uuid.NewString()
		clog := log.With(zap.String("client_id", clientID))
		out := make(chan engine.Snapshot, outboxSize)

		if !h.Join(r.Context(), clientID, out) {
			conn.Close(websocket.StatusTryAgainLater, "shutting down")
			return
		}
		defer h.Leave(clientID)
		clog.Info("viewer connected", zap.String("remote", r.RemoteAddr))

		// New peers get the current position without having to ask.
		sess.Submit(r.Context(), session.SyncRequest{ClientID: clientID})

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go writeLoop(writeCtx, conn, out, clog)

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				// Clean close/going-away is normal; anything else just ends the peer.
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
					clog.Info("viewer disconnected")
				default:
					clog.Info("viewer connection lost", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				writeError(r.Context(), conn, "bad json")
				continue
			}

			if cm.Type == types.TypeSync {
				sess.Submit(r.Context(), session.SyncRequest{ClientID: clientID})
				continue
			}

			cmd, ok := toEngineCommand(cm)
			if !ok {
				writeError(r.Context(), conn, "unknown type")
				continue
			}
			sess.Submit(r.Context(), session.FromClient{ClientID: clientID, Cmd: cmd})
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan engine.Snapshot, log *zap.Logger) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case snap, ok := <-out:
			if !ok {
				// The hub dropped us (slow peer or shutdown).
				conn.Close(websocket.StatusGoingAway, "outbox closed")
				return
			}
			payload, err := json.Marshal(toServerMessage(snap))
			if err != nil {
				log.Error("marshal snapshot", zap.Error(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				log.Debug("write failed", zap.Error(err))
				return
			}

		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				log.Info("ping failed", zap.Error(err))
				conn.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

func writeError(ctx context.Context, conn *websocket.Conn, msg string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: types.TypeError, Error: msg})
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = conn.Write(wctx, websocket.MessageText, payload)
}

func toServerMessage(snap engine.Snapshot) types.ServerMessage {
	return types.ServerMessage{
		Type: types.TypeSyncState,
		State: &types.SyncState{
			IsPlaying:    snap.IsPlaying,
			CurrentTime:  snap.CurrentTime,
			ServerTimeMs: snap.ServerTimeMs,
		},
	}
}

// toEngineCommand maps play/pause/seek. Payloads that are not a finite
// number are passed on as "no time"; the engine decides what that means.
func toEngineCommand(m types.ClientMessage) (engine.Command, bool) {
	var t *float64
	if secs, ok := m.Seconds(); ok {
		t = &secs
	}

	switch m.Type {
	case types.TypePlay:
		return engine.Command{Type: engine.CmdPlay, Time: t}, true
	case types.TypePause:
		return engine.Command{Type: engine.CmdPause, Time: t}, true
	case types.TypeSeek:
		return engine.Command{Type: engine.CmdSeek, Time: t}, true
	default:
		return engine.Command{}, false
	}
}
