package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DoyleJ11/syncwatch/internal/engine"
	"github.com/DoyleJ11/syncwatch/internal/hub"
	"github.com/DoyleJ11/syncwatch/internal/session"
	"github.com/DoyleJ11/syncwatch/pkg/types"
	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestToEngineCommand(t *testing.T) {
	cases := []struct {
		in      string
		ok      bool
		typ     engine.CommandType
		seconds *float64
	}{
		{in: `{"type":"play","payload":5}`, ok: true, typ: engine.CmdPlay, seconds: engine.Seconds(5)},
		{in: `{"type":"play"}`, ok: true, typ: engine.CmdPlay},
		{in: `{"type":"pause","payload":12.5}`, ok: true, typ: engine.CmdPause, seconds: engine.Seconds(12.5)},
		{in: `{"type":"seek","payload":"soon"}`, ok: true, typ: engine.CmdSeek},
		{in: `{"type":"seek","payload":30}`, ok: true, typ: engine.CmdSeek, seconds: engine.Seconds(30)},
		{in: `{"type":"rewind","payload":1}`, ok: false},
		{in: `{"type":"sync"}`, ok: false},
	}

	for _, tc := range cases {
		var m types.ClientMessage
		require.NoError(t, json.Unmarshal([]byte(tc.in), &m))

		cmd, ok := toEngineCommand(m)
		if !assert.Equal(t, tc.ok, ok, tc.in) || !ok {
			continue
		}
		assert.Equal(t, tc.typ, cmd.Type, tc.in)
		assert.Equal(t, tc.seconds, cmd.Time, tc.in)
	}
}

func dial(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()
	h := hub.NewHub(ctx, zap.NewNop())
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	sess := session.NewSession(ctx, h, session.Options{Clock: clock, Interval: time.Hour})

	srv := httptest.NewServer(Handler(sess, h, Options{OriginPatterns: []string{"*"}}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) types.ServerMessage {
	t.Helper()
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(rctx)
	require.NoError(t, err)

	var m types.ServerMessage
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func writeRaw(t *testing.T, ctx context.Context, conn *websocket.Conn, s string) {
	t.Helper()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(s)))
}

func TestHandler_InitialSnapshotThenBroadcast(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := dial(t, ctx)

	first := readMessage(t, ctx, conn)
	require.Equal(t, types.TypeSyncState, first.Type)
	require.NotNil(t, first.State)
	assert.False(t, first.State.IsPlaying)
	assert.Equal(t, 0.0, first.State.CurrentTime)
	assert.Equal(t, int64(1_700_000_000_000), first.State.ServerTimeMs)

	writeRaw(t, ctx, conn, `{"type":"play","payload":5}`)
	m := readMessage(t, ctx, conn)
	require.Equal(t, types.TypeSyncState, m.Type)
	assert.True(t, m.State.IsPlaying)
	assert.Equal(t, 5.0, m.State.CurrentTime)

	writeRaw(t, ctx, conn, `{"type":"sync"}`)
	m = readMessage(t, ctx, conn)
	assert.True(t, m.State.IsPlaying)
	assert.Equal(t, 5.0, m.State.CurrentTime)
}

func TestHandler_ReportsBadMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := dial(t, ctx)
	_ = readMessage(t, ctx, conn) // initial snapshot

	writeRaw(t, ctx, conn, `{not json`)
	m := readMessage(t, ctx, conn)
	assert.Equal(t, types.TypeError, m.Type)
	assert.Equal(t, "bad json", m.Error)

	writeRaw(t, ctx, conn, `{"type":"rewind"}`)
	m = readMessage(t, ctx, conn)
	assert.Equal(t, types.TypeError, m.Type)
	assert.Equal(t, "unknown type", m.Error)

	// An invalid seek is dropped; the connection stays usable.
	writeRaw(t, ctx, conn, `{"type":"seek","payload":null}`)
	writeRaw(t, ctx, conn, `{"type":"sync"}`)
	m = readMessage(t, ctx, conn)
	assert.Equal(t, types.TypeSyncState, m.Type)
	assert.Equal(t, 0.0, m.State.CurrentTime)
}
