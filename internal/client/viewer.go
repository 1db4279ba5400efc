package client

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/DoyleJ11/syncwatch/pkg/types"
	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotRunning  = errors.New("viewer not running")
	ErrInvalidTime = errors.New("time must be a finite number of seconds")
)

const (
	outboxSize   = 16
	writeTimeout = 3 * time.Second
)

type viewerMsg interface{ isViewerMsg() }

type inboundSnapshot struct{ State types.SyncState }
type connected struct{ Out chan types.ClientMessage }
type disconnected struct{}
type userPlay struct{}
type userPause struct{}
type userSeek struct{ T float64 }
type userBeginScrub struct{}
type userEndScrub struct{ T float64 }
type getStatus struct{ Reply chan Status }

func (inboundSnapshot) isViewerMsg() {}
func (connected) isViewerMsg()       {}
func (disconnected) isViewerMsg()    {}
func (userPlay) isViewerMsg()        {}
func (userPause) isViewerMsg()       {}
func (userSeek) isViewerMsg()        {}
func (userBeginScrub) isViewerMsg()  {}
func (userEndScrub) isViewerMsg()    {}
func (getStatus) isViewerMsg()       {}

type Status struct {
	Connected bool
	Scrubbing bool
	Position  float64
	Paused    bool
	Target    float64 // meaningful only if HasRecord
	HasRecord bool
	Record    Record
}

type ViewerOptions struct {
	URL            string
	Clock          clockwork.Clock
	Interval       time.Duration
	DriftThreshold float64
	ReconnectDelay time.Duration
	Logger         *zap.Logger
}

// Viewer keeps one Player in step with the server. Snapshots, ticks, user
// actions and connection changes are all handled on one goroutine, so at
// most one correction touches the player at a time.
type Viewer struct {
	opts   ViewerOptions
	player Player
	rec    *Reconciler
	log    *zap.Logger
	inbox  chan viewerMsg
	out    chan types.ClientMessage // nil while disconnected
	done   chan struct{}
}

func NewViewer(p Player, opts ViewerOptions) *Viewer {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Viewer{
		opts:   opts,
		player: p,
		rec:    NewReconciler(p, opts.DriftThreshold, opts.Interval),
		log:    opts.Logger,
		inbox:  make(chan viewerMsg, 64),
		done:   make(chan struct{}),
	}
}

// Run connects, reconnects after every drop and reconciles until ctx ends.
func (v *Viewer) Run(ctx context.Context) error {
	defer close(v.done)

	ticker := v.opts.Clock.NewTicker(v.opts.Interval)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer ticker.Stop()
		return v.loop(gctx, ticker)
	})
	g.Go(func() error { return v.connectLoop(gctx) })
	return g.Wait()
}

func (v *Viewer) Play(ctx context.Context) error  { return v.post(ctx, userPlay{}) }
func (v *Viewer) Pause(ctx context.Context) error { return v.post(ctx, userPause{}) }

func (v *Viewer) Seek(ctx context.Context, t float64) error {
	if !isFinite(t) {
		return ErrInvalidTime
	}
	return v.post(ctx, userSeek{T: t})
}

// BeginScrub marks the start of a drag on the seek control. Nothing is sent
// until EndScrub.
func (v *Viewer) BeginScrub(ctx context.Context) error { return v.post(ctx, userBeginScrub{}) }

// EndScrub releases the seek control at t. A non-finite t is refused and
// the scrub stays open.
func (v *Viewer) EndScrub(ctx context.Context, t float64) error {
	if !isFinite(t) {
		return ErrInvalidTime
	}
	return v.post(ctx, userEndScrub{T: t})
}

func (v *Viewer) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := v.post(ctx, getStatus{Reply: reply}); err != nil {
		return Status{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-v.done:
		return Status{}, ErrNotRunning
	}
}

func (v *Viewer) post(ctx context.Context, m viewerMsg) error {
	select {
	case v.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-v.done:
		return ErrNotRunning
	}
}

func (v *Viewer) nowMs() int64 { return v.opts.Clock.Now().UnixMilli() }

func (v *Viewer) loop(ctx context.Context, ticker clockwork.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.Chan():
			v.onTick()

		case m := <-v.inbox:
			switch msg := m.(type) {
			case inboundSnapshot:
				v.logCorrection("push", v.rec.Observe(msg.State, v.nowMs()))

			case connected:
				v.out = msg.Out
				v.send(types.ClientMessage{Type: types.TypeSync})

			case disconnected:
				// The record is kept so the player can keep extrapolating.
				v.out = nil

			case userPlay:
				v.player.Play()
				t := v.player.Position()
				v.send(types.NewCommand(types.TypePlay, &t))

			case userPause:
				v.player.Pause()
				t := v.player.Position()
				v.send(types.NewCommand(types.TypePause, &t))

			case userSeek:
				v.player.Seek(msg.T)
				v.send(types.NewCommand(types.TypeSeek, &msg.T))

			case userBeginScrub:
				v.rec.BeginScrub()

			case userEndScrub:
				v.rec.EndScrub()
				v.player.Seek(msg.T)
				v.send(types.NewCommand(types.TypeSeek, &msg.T))

			case getStatus:
				msg.Reply <- v.status()
			}
		}
	}
}

func (v *Viewer) onTick() {
	now := v.nowMs()
	needSync, c := v.rec.Tick(now)
	if !needSync {
		v.logCorrection("tick", c)
		return
	}
	if v.out != nil {
		v.send(types.ClientMessage{Type: types.TypeSync})
		return
	}
	// Offline: keep following the last record until a fresh one arrives.
	v.logCorrection("offline", v.rec.Reconcile(now))
}

func (v *Viewer) send(m types.ClientMessage) {
	if v.out == nil {
		v.log.Debug("not connected, dropping command", zap.String("type", m.Type))
		return
	}
	select {
	case v.out <- m:
	default:
		v.log.Warn("outbox full, dropping command", zap.String("type", m.Type))
	}
}

func (v *Viewer) logCorrection(trigger string, c Correction) {
	if !c.Any() {
		return
	}
	v.log.Debug("corrected local player",
		zap.String("trigger", trigger),
		zap.Bool("seeked", c.Seeked),
		zap.Float64("from", c.From),
		zap.Float64("to", c.To),
		zap.Bool("played", c.Played),
		zap.Bool("paused", c.Paused))
}

func (v *Viewer) status() Status {
	now := v.nowMs()
	st := Status{
		Connected: v.out != nil,
		Scrubbing: v.rec.Scrubbing(),
		Position:  v.player.Position(),
		Paused:    v.player.Paused(),
	}
	st.Record, st.HasRecord = v.rec.Last()
	st.Target, _ = v.rec.Target(now)
	return st
}

func (v *Viewer) connectLoop(ctx context.Context) error {
	for {
		err := v.runConn(ctx)
		if ctx.Err() != nil {
			return nil
		}
		v.log.Warn("connection ended, retrying",
			zap.Error(err),
			zap.Duration("delay", v.opts.ReconnectDelay))

		select {
		case <-ctx.Done():
			return nil
		case <-v.opts.Clock.After(v.opts.ReconnectDelay):
		}
	}
}

// runConn serves one connection until either direction fails.
func (v *Viewer) runConn(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, v.opts.URL, nil)
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	out := make(chan types.ClientMessage, outboxSize)
	if err := v.post(ctx, connected{Out: out}); err != nil {
		return err
	}
	defer v.post(ctx, disconnected{})
	v.log.Info("connected", zap.String("url", v.opts.URL))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return v.readLoop(gctx, conn) })
	g.Go(func() error { return writeLoop(gctx, conn, out) })
	err = g.Wait()
	conn.Close(websocket.StatusNormalClosure, "bye")
	return err
}

func (v *Viewer) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var m types.ServerMessage
		if err := json.Unmarshal(data, &m); err != nil {
			v.log.Warn("undecodable server message", zap.Error(err))
			continue
		}
		switch m.Type {
		case types.TypeSyncState:
			if m.State == nil {
				continue
			}
			if err := v.post(ctx, inboundSnapshot{State: *m.State}); err != nil {
				return err
			}
		case types.TypeError:
			v.log.Warn("server rejected message", zap.String("error", m.Error))
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan types.ClientMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-out:
			payload, err := json.Marshal(m)
			if err != nil {
				return err
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
