package client

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/syncwatch/internal/hub"
	"github.com/DoyleJ11/syncwatch/internal/session"
	"github.com/DoyleJ11/syncwatch/internal/ws"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// kicker lets a test drop every open websocket connection.
type kicker struct {
	mu      sync.Mutex
	cancels []context.CancelFunc
}

func (k *kicker) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		k.mu.Lock()
		k.cancels = append(k.cancels, cancel)
		k.mu.Unlock()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (k *kicker) kickAll() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, cancel := range k.cancels {
		cancel()
	}
	k.cancels = nil
}

func startServer(t *testing.T, ctx context.Context, clock clockwork.Clock) (string, *kicker) {
	t.Helper()
	h := hub.NewHub(ctx, zap.NewNop())
	sess := session.NewSession(ctx, h, session.Options{Clock: clock})

	k := &kicker{}
	srv := httptest.NewServer(k.wrap(ws.Handler(sess, h, ws.Options{OriginPatterns: []string{"*"}})))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), k
}

func startViewer(t *testing.T, ctx context.Context, clock clockwork.Clock, url string) (*Viewer, *SimPlayer) {
	t.Helper()
	p := NewSimPlayer(clock)
	v := NewViewer(p, ViewerOptions{URL: url, Clock: clock, ReconnectDelay: time.Second})

	errc := make(chan error, 1)
	go func() { errc <- v.Run(ctx) }()
	t.Cleanup(func() {
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("viewer did not stop")
		}
	})
	return v, p
}

func waitStatus(t *testing.T, v *Viewer, cond func(Status) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		st, err := v.Status(ctx)
		return err == nil && cond(st)
	}, 5*time.Second, 10*time.Millisecond, msg)
}

func TestViewers_StayInStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClockAt(time.UnixMilli(t0))
	url, _ := startServer(t, ctx, clock)
	a, pa := startViewer(t, ctx, clock, url)
	b, pb := startViewer(t, ctx, clock, url)

	ready := func(st Status) bool { return st.Connected && st.HasRecord }
	waitStatus(t, a, ready, "a connected")
	waitStatus(t, b, ready, "b connected")

	require.NoError(t, a.Play(ctx))
	waitStatus(t, b, func(st Status) bool { return !st.Paused }, "b follows play")

	require.NoError(t, a.Seek(ctx, 30))
	waitStatus(t, b, func(st Status) bool { return st.Position == 30 }, "b follows seek")

	// While b scrubs, a's pause is recorded but not applied.
	require.NoError(t, b.BeginScrub(ctx))
	require.NoError(t, a.Pause(ctx))
	waitStatus(t, b, func(st Status) bool {
		return st.Scrubbing && !st.Record.State.IsPlaying
	}, "b records pause while scrubbing")
	assert.False(t, pb.Paused(), "no correction while scrubbing")

	require.NoError(t, b.EndScrub(ctx, 12))
	waitStatus(t, a, func(st Status) bool { return st.Paused && st.Position == 12 }, "a follows b's release")
	waitStatus(t, b, func(st Status) bool { return st.Paused && st.Position == 12 }, "b settles on its own seek")
	assert.True(t, pa.Paused())
}

func TestViewer_KeepsRecordAcrossReconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClockAt(time.UnixMilli(t0))
	url, k := startServer(t, ctx, clock)
	v, _ := startViewer(t, ctx, clock, url)

	waitStatus(t, v, func(st Status) bool { return st.Connected && st.HasRecord }, "connected")
	require.NoError(t, v.Seek(ctx, 42))
	waitStatus(t, v, func(st Status) bool { return st.Record.State.CurrentTime == 42 }, "seek echoed")

	k.kickAll()
	waitStatus(t, v, func(st Status) bool { return !st.Connected }, "disconnected")

	st, err := v.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.HasRecord)
	assert.Equal(t, 42.0, st.Record.State.CurrentTime)
	assert.Equal(t, 42.0, st.Target)

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		sctx, scancel := context.WithTimeout(ctx, time.Second)
		defer scancel()
		st, err := v.Status(sctx)
		return err == nil && st.Connected
	}, 5*time.Second, 20*time.Millisecond, "reconnects after the delay")
}

func TestViewer_RefusesNonFiniteTimes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClockAt(time.UnixMilli(t0))
	url, _ := startServer(t, ctx, clock)
	v, p := startViewer(t, ctx, clock, url)
	waitStatus(t, v, func(st Status) bool { return st.Connected && st.HasRecord }, "connected")

	require.NoError(t, v.Seek(ctx, 20))
	waitStatus(t, v, func(st Status) bool { return st.Record.State.CurrentTime == 20 }, "seek echoed")

	assert.ErrorIs(t, v.Seek(ctx, math.NaN()), ErrInvalidTime)
	require.NoError(t, v.BeginScrub(ctx))
	assert.ErrorIs(t, v.EndScrub(ctx, math.Inf(1)), ErrInvalidTime)

	st, err := v.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Scrubbing, "a refused release leaves the scrub open")
	assert.Equal(t, 20.0, p.Position())
	assert.Equal(t, 20.0, st.Target)
}
