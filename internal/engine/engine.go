package engine

import (
	"errors"
	"math"
)

var ErrInvalidSeek = errors.New("seek requires a finite time")
var ErrUnsupportedCommand = errors.New("unsupported command")

type CommandType string

const (
	CmdPlay  CommandType = "play"
	CmdPause CommandType = "pause"
	CmdSeek  CommandType = "seek"
)

/*
	CmdPlay  -> checkpoint (explicit time or Commit) -> IsPlaying=true  -> broadcast
	CmdPause -> checkpoint (explicit time or Commit) -> IsPlaying=false -> broadcast
	CmdSeek  -> explicit time required, IsPlaying untouched              -> broadcast
	sync is not a command: it never mutates and is answered to one peer only.
*/

// Command is a viewer action. Time is nil when the sender gave no position.
type Command struct {
	Type CommandType
	Time *float64
}

// Seconds is a convenience for building a Command with an explicit time.
func Seconds(t float64) *float64 { return &t }

// Apply returns the state after cmd at nowMs. On error the input state is
// returned untouched and nothing should be broadcast.
func Apply(s State, cmd Command, nowMs int64) (State, error) {
	newState := s

	switch cmd.Type {
	case CmdPlay, CmdPause:
		if cmd.Time != nil && isFinite(*cmd.Time) {
			newState.CurrentTime = math.Max(0, *cmd.Time)
		} else {
			// No usable position: keep the playback that already elapsed
			newState = Commit(s, nowMs)
		}
		newState.IsPlaying = cmd.Type == CmdPlay
		newState.UpdatedAtMs = nowMs
		return newState, nil

	case CmdSeek:
		if cmd.Time == nil || !isFinite(*cmd.Time) {
			return s, ErrInvalidSeek
		}
		newState.CurrentTime = math.Max(0, *cmd.Time)
		newState.UpdatedAtMs = nowMs
		return newState, nil

	default:
		return s, ErrUnsupportedCommand
	}
}
