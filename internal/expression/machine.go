// Package expression holds the avatar expression state machine.
//
// The machine is single-owner state: every method must be called from the
// engine's event loop, which serializes directives, timer fires and interrupt
// events into one sequence. Given that, transitions are deterministic
// event→state→commands functions with no internal locking.
package expression

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/livedirector/internal/directive"
	"github.com/normanking/livedirector/internal/sched"
)

// Sink delivers expression actuation commands to the avatar transport.
type Sink interface {
	SetExpression(name string, on bool) error
	PulseExpression(name string) error
}

// Timers is the slice of the coordinator the machine uses for auto-off and
// idle scheduling.
type Timers interface {
	Arm(key string, delay time.Duration) uint64
	Cancel(key string)
}

// Mode is the lifecycle state of one expression.
type Mode int

const (
	ModeIdle Mode = iota
	ModePersistent
	ModeTimed
)

func (m Mode) String() string {
	switch m {
	case ModePersistent:
		return "persistent"
	case ModeTimed:
		return "timed"
	}
	return "idle"
}

// Config assigns roles to expression names. Unknown names are accepted and
// behave as plain persistent/one-shot expressions.
type Config struct {
	// Timed maps expression names to their auto-off duration; a one-shot
	// directive for such a name turns it on and schedules the off.
	Timed map[string]time.Duration
	// Ignored names are dropped before they reach any state.
	Ignored map[string]bool
	// IdleAction is pulsed when the idle timer fires.
	IdleAction string
	// InterruptAction is pulsed on every chat arrival.
	InterruptAction string
	// IdleDelay is the quiet period after speech before IdleAction fires.
	IdleDelay time.Duration
}

// DefaultIdleDelay is the quiet period before the idle action fires.
const DefaultIdleDelay = 3500 * time.Millisecond

// State is the per-expression record, created lazily on first reference.
type State struct {
	Mode   Mode
	FlipOn bool // toggle-special parity
}

// Machine owns every expression's state and turns directives and coordinator
// events into sink commands.
type Machine struct {
	cfg    Config
	timers Timers
	sink   Sink
	logger zerolog.Logger

	states    map[string]*State
	onEmitErr func(error)
}

// New creates a machine. onEmitErr is invoked for sink delivery failures
// after they are logged; it may be nil.
func New(cfg Config, timers Timers, sink Sink, logger zerolog.Logger, onEmitErr func(error)) *Machine {
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = DefaultIdleDelay
	}
	return &Machine{
		cfg:       cfg,
		timers:    timers,
		sink:      sink,
		logger:    logger.With().Str("component", "expression").Logger(),
		states:    make(map[string]*State),
		onEmitErr: onEmitErr,
	}
}

// SetConfig swaps the role table, used for config hot reload. Existing state
// entries are kept; a name that lost its timed role simply stops scheduling
// new auto-offs.
func (m *Machine) SetConfig(cfg Config) {
	if cfg.IdleDelay <= 0 {
		cfg.IdleDelay = DefaultIdleDelay
	}
	m.cfg = cfg
}

func (m *Machine) state(name string) *State {
	st, ok := m.states[name]
	if !ok {
		st = &State{}
		m.states[name] = st
	}
	return st
}

// Apply processes one expression directive.
func (m *Machine) Apply(d *directive.Directive) {
	if m.cfg.Ignored[d.Name] {
		m.logger.Debug().Str("name", d.Name).Msg("ignored expression directive")
		return
	}

	switch d.Kind {
	case directive.KindExpressionToggle:
		st := m.state(d.Name)
		st.FlipOn = !st.FlipOn
		m.set(d.Name, st.FlipOn)

	case directive.KindExpressionPersistent:
		st := m.state(d.Name)
		m.timers.Cancel(sched.AutoOffKey(d.Name))
		if d.On {
			st.Mode = ModePersistent
		} else {
			st.Mode = ModeIdle
		}
		m.set(d.Name, d.On)

	case directive.KindExpressionOneShot:
		if dur, timed := m.cfg.Timed[d.Name]; timed {
			st := m.state(d.Name)
			st.Mode = ModeTimed
			// Re-triggering resets the deadline, it never stacks.
			m.timers.Arm(sched.AutoOffKey(d.Name), dur)
			m.set(d.Name, true)
			return
		}
		m.pulse(d.Name)

	default:
		m.logger.Warn().Str("kind", d.Kind.String()).Msg("non-expression directive routed to expression machine")
	}
}

// AutoOffFired handles a claimed auto-off timer fire for name.
func (m *Machine) AutoOffFired(name string) {
	st := m.state(name)
	if st.Mode != ModeTimed {
		// Superseded by an explicit on/off since arming.
		return
	}
	st.Mode = ModeIdle
	m.set(name, false)
	m.logger.Debug().Str("name", name).Msg("timed expression auto-off")
}

// SpeechFinished arms the idle slot. Any previously armed idle timer is
// replaced, never stacked.
func (m *Machine) SpeechFinished() {
	m.timers.Arm(sched.KeyIdle, m.cfg.IdleDelay)
}

// CancelIdle drops a pending idle timer. Called when a new speech segment or
// any new directive arrives; the idle action never fires mid-utterance.
func (m *Machine) CancelIdle() {
	m.timers.Cancel(sched.KeyIdle)
}

// IdleFired handles a claimed idle timer fire.
func (m *Machine) IdleFired() {
	if m.cfg.IdleAction == "" {
		return
	}
	m.pulse(m.cfg.IdleAction)
	m.logger.Debug().Str("action", m.cfg.IdleAction).Msg("idle action triggered")
}

// InterruptArrived fires the interrupt action for a chat arrival and cancels
// any pending idle timer. No other expression state is touched.
func (m *Machine) InterruptArrived() {
	m.timers.Cancel(sched.KeyIdle)
	if m.cfg.InterruptAction == "" {
		return
	}
	m.pulse(m.cfg.InterruptAction)
}

// IdleDelay returns the configured idle delay.
func (m *Machine) IdleDelay() time.Duration {
	return m.cfg.IdleDelay
}

// StateView is a read-only copy of one expression's state.
type StateView struct {
	Name   string `json:"name"`
	Mode   string `json:"mode"`
	Active bool   `json:"active"`
}

// Snapshot lists every known expression, sorted by name.
func (m *Machine) Snapshot() []StateView {
	views := make([]StateView, 0, len(m.states))
	for name, st := range m.states {
		views = append(views, StateView{
			Name:   name,
			Mode:   st.Mode.String(),
			Active: st.Mode != ModeIdle || st.FlipOn,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views
}

// Summary renders the current states as a short line suitable for prepending
// to LLM prompts, e.g. "[State] 脸红:on; 纸扇开合:off".
func (m *Machine) Summary() string {
	views := m.Snapshot()
	if len(views) == 0 {
		return "[State] none"
	}
	parts := make([]string, 0, len(views))
	for _, v := range views {
		state := "off"
		if v.Active {
			state = "on"
		}
		parts = append(parts, fmt.Sprintf("%s:%s", v.Name, state))
	}
	return "[State] " + strings.Join(parts, "; ")
}

func (m *Machine) set(name string, on bool) {
	if err := m.sink.SetExpression(name, on); err != nil {
		m.logger.Warn().Err(err).Str("name", name).Bool("on", on).Msg("expression command delivery failed")
		m.emitErr(err)
	}
}

func (m *Machine) pulse(name string) {
	if err := m.sink.PulseExpression(name); err != nil {
		m.logger.Warn().Err(err).Str("name", name).Msg("expression pulse delivery failed")
		m.emitErr(err)
	}
}

func (m *Machine) emitErr(err error) {
	if m.onEmitErr != nil {
		m.onEmitErr(err)
	}
}
