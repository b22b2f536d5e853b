package expression

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/livedirector/internal/directive"
	"github.com/normanking/livedirector/internal/sched"
)

// recordingSink captures emitted commands in order.
type recordingSink struct {
	commands []string
	fail     bool
}

func (r *recordingSink) SetExpression(name string, on bool) error {
	if r.fail {
		return errors.New("transport down")
	}
	state := "off"
	if on {
		state = "on"
	}
	r.commands = append(r.commands, fmt.Sprintf("set:%s:%s", name, state))
	return nil
}

func (r *recordingSink) PulseExpression(name string) error {
	if r.fail {
		return errors.New("transport down")
	}
	r.commands = append(r.commands, "pulse:"+name)
	return nil
}

// fakeTimers records arm/cancel calls without real clocks.
type fakeTimers struct {
	armed     map[string]time.Duration
	gen       uint64
	cancelled []string
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{armed: make(map[string]time.Duration)}
}

func (f *fakeTimers) Arm(key string, delay time.Duration) uint64 {
	f.gen++
	f.armed[key] = delay
	return f.gen
}

func (f *fakeTimers) Cancel(key string) {
	delete(f.armed, key)
	f.cancelled = append(f.cancelled, key)
}

func testConfig() Config {
	return Config{
		Timed:           map[string]time.Duration{"吐舌": 3 * time.Second},
		Ignored:         map[string]bool{"expression1": true, "空": true},
		IdleAction:      "待机动作",
		InterruptAction: "打断待机",
		IdleDelay:       3500 * time.Millisecond,
	}
}

func newTestMachine() (*Machine, *recordingSink, *fakeTimers) {
	sink := &recordingSink{}
	timers := newFakeTimers()
	m := New(testConfig(), timers, sink, zerolog.Nop(), nil)
	return m, sink, timers
}

func assertCommands(t *testing.T, sink *recordingSink, want ...string) {
	t.Helper()
	if len(sink.commands) != len(want) {
		t.Fatalf("expected commands %v, got %v", want, sink.commands)
	}
	for i := range want {
		if sink.commands[i] != want[i] {
			t.Errorf("command %d: expected %s, got %s", i, want[i], sink.commands[i])
		}
	}
}

func TestMachine_PersistentOnOff(t *testing.T) {
	m, sink, timers := newTestMachine()

	m.Apply(&directive.Directive{Kind: directive.KindExpressionPersistent, Name: "脸红", On: true})
	m.Apply(&directive.Directive{Kind: directive.KindExpressionPersistent, Name: "脸红", On: false})

	assertCommands(t, sink, "set:脸红:on", "set:脸红:off")
	if len(timers.armed) != 0 {
		t.Errorf("persistent expressions must not arm timers: %v", timers.armed)
	}
}

func TestMachine_OneShotPulses(t *testing.T) {
	m, sink, timers := newTestMachine()

	m.Apply(&directive.Directive{Kind: directive.KindExpressionOneShot, Name: "挥手"})

	assertCommands(t, sink, "pulse:挥手")
	if len(timers.armed) != 0 {
		t.Errorf("plain one-shots track no deadline: %v", timers.armed)
	}
}

func TestMachine_TimedOneShotArmsAutoOff(t *testing.T) {
	m, sink, timers := newTestMachine()

	m.Apply(&directive.Directive{Kind: directive.KindExpressionOneShot, Name: "吐舌"})

	assertCommands(t, sink, "set:吐舌:on")
	if d, ok := timers.armed[sched.AutoOffKey("吐舌")]; !ok || d != 3*time.Second {
		t.Fatalf("expected 3s auto-off armed, got %v", timers.armed)
	}

	m.AutoOffFired("吐舌")
	assertCommands(t, sink, "set:吐舌:on", "set:吐舌:off")
}

func TestMachine_TimedRetriggerResetsDeadline(t *testing.T) {
	m, sink, timers := newTestMachine()

	m.Apply(&directive.Directive{Kind: directive.KindExpressionOneShot, Name: "吐舌"})
	gen1 := timers.gen
	m.Apply(&directive.Directive{Kind: directive.KindExpressionOneShot, Name: "吐舌"})

	if timers.gen != gen1+1 {
		t.Fatal("retrigger must rearm, replacing the previous deadline")
	}
	// The superseded fire never reaches the machine (the coordinator rejects
	// its generation); only the final fire produces the single OFF command.
	m.AutoOffFired("吐舌")
	assertCommands(t, sink, "set:吐舌:on", "set:吐舌:on", "set:吐舌:off")
}

func TestMachine_ExplicitOffCancelsAutoOff(t *testing.T) {
	m, sink, timers := newTestMachine()

	m.Apply(&directive.Directive{Kind: directive.KindExpressionOneShot, Name: "吐舌"})
	m.Apply(&directive.Directive{Kind: directive.KindExpressionPersistent, Name: "吐舌", On: false})

	if _, ok := timers.armed[sched.AutoOffKey("吐舌")]; ok {
		t.Error("explicit off must cancel the auto-off timer")
	}
	assertCommands(t, sink, "set:吐舌:on", "set:吐舌:off")

	// A late fire that somehow got claimed is still a no-op: mode left timed.
	m.AutoOffFired("吐舌")
	assertCommands(t, sink, "set:吐舌:on", "set:吐舌:off")
}

func TestMachine_ToggleSpecialFlipPair(t *testing.T) {
	m, sink, _ := newTestMachine()

	d := &directive.Directive{Kind: directive.KindExpressionToggle, Name: "纸扇开合"}
	m.Apply(d)
	m.Apply(d)

	assertCommands(t, sink, "set:纸扇开合:on", "set:纸扇开合:off")
}

func TestMachine_IgnoredNamesDropped(t *testing.T) {
	m, sink, _ := newTestMachine()

	m.Apply(&directive.Directive{Kind: directive.KindExpressionOneShot, Name: "expression1"})
	m.Apply(&directive.Directive{Kind: directive.KindExpressionPersistent, Name: "空", On: true})

	assertCommands(t, sink)
}

func TestMachine_UnknownNameAccepted(t *testing.T) {
	m, sink, timers := newTestMachine()

	m.Apply(&directive.Directive{Kind: directive.KindExpressionOneShot, Name: "从未配置过"})
	m.Apply(&directive.Directive{Kind: directive.KindExpressionPersistent, Name: "从未配置过", On: true})

	assertCommands(t, sink, "pulse:从未配置过", "set:从未配置过:on")
	if len(timers.armed) != 0 {
		t.Errorf("unknown names have no configured duration: %v", timers.armed)
	}
}

func TestMachine_IdleArmAndFire(t *testing.T) {
	m, sink, timers := newTestMachine()

	m.SpeechFinished()
	if d, ok := timers.armed[sched.KeyIdle]; !ok || d != 3500*time.Millisecond {
		t.Fatalf("expected idle timer armed for 3.5s, got %v", timers.armed)
	}

	m.IdleFired()
	assertCommands(t, sink, "pulse:待机动作")
}

func TestMachine_InterruptCancelsIdle(t *testing.T) {
	m, sink, timers := newTestMachine()

	m.SpeechFinished()
	m.InterruptArrived()

	if _, ok := timers.armed[sched.KeyIdle]; ok {
		t.Error("interrupt must cancel the pending idle timer")
	}
	assertCommands(t, sink, "pulse:打断待机")
}

func TestMachine_InterruptLeavesOtherStatesAlone(t *testing.T) {
	m, sink, _ := newTestMachine()

	m.Apply(&directive.Directive{Kind: directive.KindExpressionPersistent, Name: "脸红", On: true})
	m.InterruptArrived()

	views := m.Snapshot()
	if len(views) != 1 || views[0].Name != "脸红" || !views[0].Active {
		t.Errorf("脸红 must stay active across interrupts: %+v", views)
	}
	assertCommands(t, sink, "set:脸红:on", "pulse:打断待机")
}

func TestMachine_DeliveryFailureDoesNotHalt(t *testing.T) {
	sink := &recordingSink{fail: true}
	timers := newFakeTimers()
	var failures int
	m := New(testConfig(), timers, sink, zerolog.Nop(), func(error) { failures++ })

	m.Apply(&directive.Directive{Kind: directive.KindExpressionPersistent, Name: "脸红", On: true})
	m.Apply(&directive.Directive{Kind: directive.KindExpressionOneShot, Name: "挥手"})

	if failures != 2 {
		t.Errorf("expected 2 delivery failures surfaced, got %d", failures)
	}
	// State still transitioned despite the sink being down.
	if views := m.Snapshot(); len(views) != 1 || !views[0].Active {
		t.Errorf("state must advance even when delivery fails: %+v", m.Snapshot())
	}
}

func TestMachine_Summary(t *testing.T) {
	m, _, _ := newTestMachine()

	if m.Summary() != "[State] none" {
		t.Errorf("empty summary mismatch: %q", m.Summary())
	}

	m.Apply(&directive.Directive{Kind: directive.KindExpressionPersistent, Name: "脸红", On: true})
	m.Apply(&directive.Directive{Kind: directive.KindExpressionToggle, Name: "纸扇开合"})
	m.Apply(&directive.Directive{Kind: directive.KindExpressionToggle, Name: "纸扇开合"})

	s := m.Summary()
	if !strings.Contains(s, "脸红:on") || !strings.Contains(s, "纸扇开合:off") {
		t.Errorf("unexpected summary: %q", s)
	}
}
