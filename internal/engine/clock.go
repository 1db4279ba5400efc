package engine

import "math"

// State is the authoritative playback checkpoint. CurrentTime was the
// playback position (seconds) at UpdatedAtMs.
type State struct {
	IsPlaying   bool
	CurrentTime float64
	UpdatedAtMs int64
}

// Snapshot is the authoritative position extrapolated to ServerTimeMs.
// It is computed on demand and never stored.
type Snapshot struct {
	IsPlaying    bool
	CurrentTime  float64
	ServerTimeMs int64
}

// EffectiveTime returns the playback position at nowMs. Negative elapsed
// time (clock went backwards) counts as zero.
func EffectiveTime(s State, nowMs int64) float64 {
	if !s.IsPlaying {
		return math.Max(0, s.CurrentTime)
	}
	elapsed := math.Max(0, float64(nowMs-s.UpdatedAtMs)/1000)
	return math.Max(0, s.CurrentTime+elapsed)
}

// Commit folds elapsed playback into the checkpoint so that the state can
// be mutated at nowMs without losing time.
func Commit(s State, nowMs int64) State {
	s.CurrentTime = EffectiveTime(s, nowMs)
	s.UpdatedAtMs = nowMs
	return s
}

// TakeSnapshot extrapolates s to nowMs for publishing.
func TakeSnapshot(s State, nowMs int64) Snapshot {
	return Snapshot{
		IsPlaying:    s.IsPlaying,
		CurrentTime:  EffectiveTime(s, nowMs),
		ServerTimeMs: nowMs,
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
