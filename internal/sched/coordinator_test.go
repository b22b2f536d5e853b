package sched

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fireRecorder struct {
	mu    sync.Mutex
	fires []Fire
}

func (r *fireRecorder) deliver(f Fire) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fires = append(r.fires, f)
}

func (r *fireRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fires)
}

func TestCoordinator_ArmAndFire(t *testing.T) {
	rec := &fireRecorder{}
	c := New(zerolog.Nop(), rec.deliver)
	defer c.Close()

	gen := c.Arm("expr/吐舌", 10*time.Millisecond)
	if !c.Pending("expr/吐舌") {
		t.Fatal("expected pending timer after Arm")
	}

	time.Sleep(50 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("expected 1 fire, got %d", rec.count())
	}
	if !c.Claim(Fire{Key: "expr/吐舌", Gen: gen}) {
		t.Error("current-generation fire should be claimable")
	}
	if c.Pending("expr/吐舌") {
		t.Error("slot should be empty after Claim")
	}
}

func TestCoordinator_RearmReplacesNotStacks(t *testing.T) {
	rec := &fireRecorder{}
	c := New(zerolog.Nop(), rec.deliver)
	defer c.Close()

	gen1 := c.Arm(KeyIdle, time.Hour)
	gen2 := c.Arm(KeyIdle, 10*time.Millisecond)
	if gen2 <= gen1 {
		t.Fatalf("generations must increase: %d then %d", gen1, gen2)
	}

	time.Sleep(50 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("rearm must not stack timers, got %d fires", rec.count())
	}
	if c.Claim(Fire{Key: KeyIdle, Gen: gen1}) {
		t.Error("superseded generation must not claim")
	}
	if !c.Claim(Fire{Key: KeyIdle, Gen: gen2}) {
		t.Error("current generation should claim")
	}
}

func TestCoordinator_CancelInvalidatesInFlightFire(t *testing.T) {
	rec := &fireRecorder{}
	c := New(zerolog.Nop(), rec.deliver)
	defer c.Close()

	gen := c.Arm(KeyIdle, time.Hour)
	c.Cancel(KeyIdle)

	// Simulate a fire that was already past timer.Stop when Cancel ran.
	if c.Claim(Fire{Key: KeyIdle, Gen: gen}) {
		t.Error("cancelled timer fire must be a no-op")
	}
	if c.Pending(KeyIdle) {
		t.Error("cancelled slot must not stay pending")
	}
}

func TestCoordinator_ClaimIsOnce(t *testing.T) {
	rec := &fireRecorder{}
	c := New(zerolog.Nop(), rec.deliver)
	defer c.Close()

	gen := c.Arm("expr/脸红", time.Hour)
	f := Fire{Key: "expr/脸红", Gen: gen}
	if !c.Claim(f) {
		t.Fatal("first claim should succeed")
	}
	if c.Claim(f) {
		t.Error("second claim must fail")
	}
}

func TestCoordinator_CloseDrainsAndRejects(t *testing.T) {
	rec := &fireRecorder{}
	c := New(zerolog.Nop(), rec.deliver)

	gen := c.Arm(KeyIdle, time.Hour)
	c.Close()

	if c.Claim(Fire{Key: KeyIdle, Gen: gen}) {
		t.Error("claims after Close must fail")
	}
	if got := c.Arm(KeyIdle, time.Millisecond); got != 0 {
		t.Errorf("Arm after Close should be refused, got gen %d", got)
	}
	time.Sleep(20 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("no fires expected after Close, got %d", rec.count())
	}
}

func TestCoordinator_IndependentKeys(t *testing.T) {
	rec := &fireRecorder{}
	c := New(zerolog.Nop(), rec.deliver)
	defer c.Close()

	genA := c.Arm(AutoOffKey("吐舌"), time.Hour)
	genB := c.Arm(AutoOffKey("脸红"), time.Hour)
	c.Cancel(AutoOffKey("吐舌"))

	if c.Claim(Fire{Key: AutoOffKey("吐舌"), Gen: genA}) {
		t.Error("cancelled key should not claim")
	}
	if !c.Claim(Fire{Key: AutoOffKey("脸红"), Gen: genB}) {
		t.Error("unrelated key must stay armed")
	}
}
