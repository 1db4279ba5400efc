package types

import (
	"bytes"
	"encoding/json"
	"math"
)

// Client -> Server
// play:
//   payload: number (seconds), optional
//
// pause:
//   payload: number (seconds), optional
//
// seek:
//   payload: number (seconds), required
//
// sync: {}

// Server -> Client
// syncState (broadcast, or unicast reply to sync):
//   state: { isPlaying: bool, currentTime: number, serverTimeMs: number }
//
// error:
//   error: string

const (
	TypePlay      = "play"
	TypePause     = "pause"
	TypeSeek      = "seek"
	TypeSync      = "sync"
	TypeSyncState = "syncState"
	TypeError     = "error"
)

type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Seconds decodes the payload as a finite number of seconds. ok is false
// when the payload is absent, null, not a number or not finite.
func (m ClientMessage) Seconds() (float64, bool) {
	raw := bytes.TrimSpace(m.Payload)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// NewCommand builds a client message; a nil t leaves the payload out.
func NewCommand(typ string, t *float64) ClientMessage {
	m := ClientMessage{Type: typ}
	if t != nil {
		m.Payload, _ = json.Marshal(*t)
	}
	return m
}

type SyncState struct {
	IsPlaying    bool    `json:"isPlaying"`
	CurrentTime  float64 `json:"currentTime"`
	ServerTimeMs int64   `json:"serverTimeMs"`
}

type ServerMessage struct {
	Type  string     `json:"type"` // "syncState" | "error"
	State *SyncState `json:"state,omitempty"`
	Error string     `json:"error,omitempty"`
}
