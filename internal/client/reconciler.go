package client

import (
	"math"
	"time"

	"github.com/DoyleJ11/syncwatch/pkg/types"
)

// DefaultDriftThreshold is how far, in seconds, the local position may stray
// from the authoritative one before it is forced back.
const DefaultDriftThreshold = 0.1

// Player is the local media element being kept in step.
type Player interface {
	Position() float64 // seconds
	Paused() bool
	Seeking() bool // a seek is still in progress
	Seek(t float64)
	Play()
	Pause()
}

// Record is the last snapshot seen on this connection.
type Record struct {
	State        types.SyncState
	ReceivedAtMs int64
}

// Correction describes what reconciliation did to the local player. It is
// never sent back to the server.
type Correction struct {
	Seeked bool
	From   float64
	To     float64
	Played bool
	Paused bool
}

func (c Correction) Any() bool { return c.Seeked || c.Played || c.Paused }

// Reconciler compares the local player against the last authoritative
// snapshot. It is not safe for concurrent use; Viewer drives it from a
// single goroutine.
type Reconciler struct {
	player    Player
	threshold float64
	staleMs   int64
	last      *Record
	scrubbing bool
}

// NewReconciler returns a reconciler for p. A record older than twice
// interval is considered stale.
func NewReconciler(p Player, threshold float64, interval time.Duration) *Reconciler {
	if threshold <= 0 {
		threshold = DefaultDriftThreshold
	}
	return &Reconciler{
		player:    p,
		threshold: threshold,
		staleMs:   2 * interval.Milliseconds(),
	}
}

// Extrapolate projects a snapshot to local wall-clock time nowMs.
func Extrapolate(s types.SyncState, nowMs int64) float64 {
	if !s.IsPlaying {
		return s.CurrentTime
	}
	return s.CurrentTime + math.Max(0, float64(nowMs-s.ServerTimeMs)/1000)
}

// Observe stores an inbound snapshot and reconciles against it right away,
// unless the viewer is scrubbing.
func (r *Reconciler) Observe(s types.SyncState, nowMs int64) Correction {
	r.last = &Record{State: s, ReceivedAtMs: nowMs}
	if r.scrubbing {
		return Correction{}
	}
	return r.Reconcile(nowMs)
}

// Tick is the periodic path. When there is no record yet, or it is stale, it
// reports needSync and leaves the player alone until the reply arrives.
func (r *Reconciler) Tick(nowMs int64) (needSync bool, c Correction) {
	if r.Stale(nowMs) {
		return true, Correction{}
	}
	return false, r.Reconcile(nowMs)
}

func (r *Reconciler) Stale(nowMs int64) bool {
	return r.last == nil || nowMs-r.last.ReceivedAtMs > r.staleMs
}

// Reconcile forces position and play state to match the last record. It is
// a no-op without a record or while scrubbing.
func (r *Reconciler) Reconcile(nowMs int64) Correction {
	if r.last == nil || r.scrubbing {
		return Correction{}
	}
	target := Extrapolate(r.last.State, nowMs)

	var c Correction
	if !r.player.Seeking() {
		// A non-finite position (no metadata yet, bad seek) never compares
		// as drifted, so it is always corrected.
		pos := r.player.Position()
		if !isFinite(pos) || math.Abs(target-pos) > r.threshold {
			r.player.Seek(target)
			c.Seeked, c.From, c.To = true, pos, target
		}
	}

	switch paused := r.player.Paused(); {
	case r.last.State.IsPlaying && paused:
		r.player.Play()
		c.Played = true
	case !r.last.State.IsPlaying && !paused:
		r.player.Pause()
		c.Paused = true
	}
	return c
}

// Target is the authoritative position at nowMs, if any snapshot was seen.
func (r *Reconciler) Target(nowMs int64) (float64, bool) {
	if r.last == nil {
		return 0, false
	}
	return Extrapolate(r.last.State, nowMs), true
}

func (r *Reconciler) Last() (Record, bool) {
	if r.last == nil {
		return Record{}, false
	}
	return *r.last, true
}

// BeginScrub suspends all automatic corrections.
func (r *Reconciler) BeginScrub() { r.scrubbing = true }

func (r *Reconciler) EndScrub() { r.scrubbing = false }

func (r *Reconciler) Scrubbing() bool { return r.scrubbing }

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
