package core

import (
	"math/rand/v2"
	"time"
)

const (
	DefaultTickInterval = time.Second
	DefaultGraceDelay   = 3 * time.Second
)

// Options tunes the round machine clock. Zero values fall back to defaults.
type Options struct {
	TickInterval time.Duration
	GraceDelay   time.Duration
	// Intn returns a uniform value in [0, n). Must be safe for concurrent use.
	Intn func(n int) int
	Now  func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.GraceDelay <= 0 {
		o.GraceDelay = DefaultGraceDelay
	}
	if o.Intn == nil {
		o.Intn = rand.IntN
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
