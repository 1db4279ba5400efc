package client

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// SimPlayer is a headless player whose position advances with clock while
// playing. Seeks complete instantly unless SetSeeking holds one open.
type SimPlayer struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	pos     float64 // position at anchor
	anchor  time.Time
	playing bool
	seeking bool
}

func NewSimPlayer(clock clockwork.Clock) *SimPlayer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SimPlayer{clock: clock, anchor: clock.Now()}
}

func (p *SimPlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position()
}

func (p *SimPlayer) position() float64 {
	if !p.playing {
		return p.pos
	}
	return p.pos + p.clock.Since(p.anchor).Seconds()
}

func (p *SimPlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.playing
}

func (p *SimPlayer) Seeking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seeking
}

func (p *SimPlayer) SetSeeking(v bool) {
	p.mu.Lock()
	p.seeking = v
	p.mu.Unlock()
}

// Seek ignores a non-finite t.
func (p *SimPlayer) Seek(t float64) {
	if !isFinite(t) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = max(t, 0)
	p.anchor = p.clock.Now()
}

func (p *SimPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		return
	}
	p.anchor = p.clock.Now()
	p.playing = true
}

func (p *SimPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return
	}
	p.pos = p.position()
	p.anchor = p.clock.Now()
	p.playing = false
}
