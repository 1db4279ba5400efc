package session

import (
	"context"
	"errors"
	"time"

	"github.com/DoyleJ11/syncwatch/internal/engine"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrStopped = errors.New("session stopped")

// DefaultSyncInterval is the period of the unconditional snapshot broadcast.
const DefaultSyncInterval = 2 * time.Second

type Msg interface{ isSessionMsg() }

type FromClient struct {
	ClientID string
	Cmd      engine.Command
}

func (FromClient) isSessionMsg() {}

// SyncRequest asks for a snapshot delivered to ClientID only.
type SyncRequest struct {
	ClientID string
}

func (SyncRequest) isSessionMsg() {}

// GetSnapshot replies with a fresh snapshot without publishing it.
type GetSnapshot struct {
	Reply chan engine.Snapshot
}

func (GetSnapshot) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

type View struct {
	State  engine.State
	Ticks  int
	Issued int // commands that changed state
}

// Publisher fans snapshots out to connected peers.
type Publisher interface {
	Broadcast(ctx context.Context, snap engine.Snapshot)
	Unicast(ctx context.Context, clientID string, snap engine.Snapshot)
}

// Session is the single owner of the playback checkpoint. Commands, sync
// requests and broadcast ticks are all handled on its loop goroutine, so
// every commit-then-mutate sequence is atomic.
type Session struct {
	inbox  chan Msg
	state  engine.State
	clock  clockwork.Clock
	ticker clockwork.Ticker
	pub    Publisher
	log    *zap.Logger
	ticks  int
	issued int
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type Options struct {
	Clock    clockwork.Clock
	Interval time.Duration
	Logger   *zap.Logger
}

// NewSession starts the session loop and its broadcast ticker. pub must be
// ready to accept snapshots.
func NewSession(parent context.Context, pub Publisher, opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultSyncInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		inbox:  make(chan Msg, 64),
		state:  engine.State{UpdatedAtMs: opts.Clock.Now().UnixMilli()},
		clock:  opts.Clock,
		ticker: opts.Clock.NewTicker(opts.Interval),
		pub:    pub,
		log:    opts.Logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.loop()
	return s
}

func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Done is closed once the loop has exited and the ticker is released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Submit queues a message for the loop. It reports false if the session
// stopped or ctx ended first.
func (s *Session) Submit(ctx context.Context, m Msg) bool {
	select {
	case s.inbox <- m:
		return true
	case <-ctx.Done():
		return false
	case <-s.ctx.Done():
		return false
	}
}

// Snapshot returns the authoritative position right now.
func (s *Session) Snapshot(ctx context.Context) (engine.Snapshot, error) {
	reply := make(chan engine.Snapshot, 1)
	if !s.Submit(ctx, GetSnapshot{Reply: reply}) {
		return engine.Snapshot{}, errStopped(ctx)
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return engine.Snapshot{}, ctx.Err()
	case <-s.ctx.Done():
		return engine.Snapshot{}, ErrStopped
	}
}

func errStopped(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrStopped
}

func (s *Session) loop() {
	defer close(s.done)
	defer s.ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return

		case <-s.ticker.Chan():
			s.ticks++
			s.pub.Broadcast(s.ctx, s.snapshot())

		case m := <-s.inbox:
			switch msg := m.(type) {
			case FromClient:
				newState, err := engine.Apply(s.state, msg.Cmd, s.nowMs())
				if err != nil {
					// Rejected commands are dropped without a reply.
					s.log.Debug("command ignored",
						zap.String("client_id", msg.ClientID),
						zap.String("type", string(msg.Cmd.Type)),
						zap.Error(err))
					break
				}
				s.state = newState
				s.issued++
				snap := s.snapshot()
				s.log.Info("playback updated",
					zap.String("client_id", msg.ClientID),
					zap.String("type", string(msg.Cmd.Type)),
					zap.Bool("playing", snap.IsPlaying),
					zap.Float64("position", snap.CurrentTime))
				s.pub.Broadcast(s.ctx, snap)

			case SyncRequest:
				s.pub.Unicast(s.ctx, msg.ClientID, s.snapshot())

			case GetSnapshot:
				msg.Reply <- s.snapshot()

			case GetState:
				// test-only: reflect internal state without data races
				msg.Reply <- View{State: s.state, Ticks: s.ticks, Issued: s.issued}

			case Shutdown:
				s.cancel()
				return
			}
		}
	}
}

func (s *Session) nowMs() int64 { return s.clock.Now().UnixMilli() }

func (s *Session) snapshot() engine.Snapshot {
	return engine.TakeSnapshot(s.state, s.nowMs())
}
