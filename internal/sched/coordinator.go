// Package sched owns every delayed callback used by the directing engine.
//
// Timers are keyed slots with a generation counter. Arming a slot always
// replaces any pending timer for the same key, and a fire that lost the race
// against cancellation is detected by its stale generation instead of relying
// on timer.Stop having won.
package sched

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// KeyIdle is the process-wide idle-action slot.
const KeyIdle = "idle"

const autoOffPrefix = "expr/"

// AutoOffKey returns the auto-off slot key for a timed expression.
func AutoOffKey(expression string) string {
	return autoOffPrefix + expression
}

// SplitAutoOffKey recovers the expression name from an auto-off slot key.
func SplitAutoOffKey(key string) (string, bool) {
	return strings.CutPrefix(key, autoOffPrefix)
}

// Fire identifies a timer callback re-entering the engine as an event.
type Fire struct {
	Key string
	Gen uint64
}

// Coordinator tracks one pending timer per key.
type Coordinator struct {
	deliver func(Fire)
	logger  zerolog.Logger

	mu     sync.Mutex
	gens   map[string]uint64
	timers map[string]*time.Timer
	closed bool
}

// New creates a coordinator delivering fires through deliver. The callback
// runs on the timer goroutine; the caller is expected to enqueue it into its
// serialized event stream.
func New(logger zerolog.Logger, deliver func(Fire)) *Coordinator {
	return &Coordinator{
		deliver: deliver,
		logger:  logger.With().Str("component", "sched").Logger(),
		gens:    make(map[string]uint64),
		timers:  make(map[string]*time.Timer),
	}
}

// Arm schedules a fire for key after delay, cancelling any pending timer for
// the same key. It returns the generation the fire will carry.
func (c *Coordinator) Arm(key string, delay time.Duration) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0
	}
	if t, ok := c.timers[key]; ok {
		t.Stop()
	}
	c.gens[key]++
	gen := c.gens[key]
	c.timers[key] = time.AfterFunc(delay, func() {
		c.deliver(Fire{Key: key, Gen: gen})
	})
	return gen
}

// Cancel drops any pending timer for key. A fire already in flight becomes
// stale and will be rejected by Claim.
func (c *Coordinator) Cancel(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.timers[key]; ok {
		t.Stop()
		delete(c.timers, key)
		c.gens[key]++
	}
}

// Claim validates a delivered fire. It returns true exactly once for the
// current generation of an armed slot; cancelled, superseded or post-Close
// fires return false.
func (c *Coordinator) Claim(f Fire) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	if _, ok := c.timers[f.Key]; !ok {
		return false
	}
	if c.gens[f.Key] != f.Gen {
		c.logger.Debug().Str("key", f.Key).Uint64("gen", f.Gen).Msg("stale timer fire dropped")
		return false
	}
	delete(c.timers, f.Key)
	return true
}

// Pending reports whether key has an unclaimed timer.
func (c *Coordinator) Pending(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.timers[key]
	return ok
}

// Close cancels every pending timer. Fires racing Close are rejected by Claim,
// so nothing lands in a torn-down engine.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for key, t := range c.timers {
		t.Stop()
		delete(c.timers, key)
	}
	c.logger.Debug().Msg("coordinator closed")
}
