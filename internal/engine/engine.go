// Package engine serializes every input the director reacts to — reply text,
// speech-finished and chat-arrival signals, timer fires, track completions —
// into a single event stream and drives the expression and media state
// machines from it.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/livedirector/internal/directive"
	"github.com/normanking/livedirector/internal/expression"
	"github.com/normanking/livedirector/internal/media"
	"github.com/normanking/livedirector/internal/metrics"
	"github.com/normanking/livedirector/internal/sched"
)

// SpeechSink receives spoken text segments in scan order. Delivery is
// fire-and-forget; the synthesis collaborator reports completion back through
// SpeechFinished.
type SpeechSink interface {
	SpeakSegment(utteranceID, text string) error
}

// Options configures an Engine.
type Options struct {
	Roles         directive.Roles
	Expression    expression.Config
	BgmPlaylistID int64
	QueueSize     int
	// OnDeliveryError is notified of sink delivery failures so the caller's
	// observability layer can react; processing always continues.
	OnDeliveryError func(error)
}

// Update carries hot-reloaded role configuration into the event stream.
type Update struct {
	Roles      directive.Roles
	Expression expression.Config
}

// Snapshot is a consistent read of engine state taken inside the event loop.
type Snapshot struct {
	Expressions []expression.StateView `json:"expressions"`
	Media       media.View             `json:"media"`
	Summary     string                 `json:"summary"`
}

type eventKind int

const (
	evReply eventKind = iota
	evSpeechFinished
	evChatArrived
	evTimerFired
	evTrackCompleted
	evConfigUpdate
	evSnapshot
)

type event struct {
	kind        eventKind
	text        string
	utteranceID string
	fire        sched.Fire
	title       string
	artist      string
	update      Update
	snap        chan Snapshot
}

// Engine is the single owner of ExpressionState and MediaState. All mutation
// happens on the loop goroutine, in arrival order.
type Engine struct {
	logger zerolog.Logger
	roles  directive.Roles

	queue   chan event
	stopped chan struct{}
	wg      sync.WaitGroup
	stopOne sync.Once

	coord  *sched.Coordinator
	exprs  *expression.Machine
	media  *media.Controller
	speech SpeechSink

	onDeliveryError func(error)
}

// New wires an engine to its three sinks. Call Start before feeding events.
func New(opts Options, exprSink expression.Sink, mediaSink media.Sink, speechSink SpeechSink, logger zerolog.Logger) *Engine {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}

	e := &Engine{
		logger:          logger.With().Str("component", "engine").Logger(),
		roles:           opts.Roles,
		queue:           make(chan event, opts.QueueSize),
		stopped:         make(chan struct{}),
		speech:          speechSink,
		onDeliveryError: opts.OnDeliveryError,
	}
	e.coord = sched.New(logger, func(f sched.Fire) {
		e.enqueue(event{kind: evTimerFired, fire: f})
	})
	e.exprs = expression.New(opts.Expression, e.coord, exprSink, logger, e.deliveryFailed)
	e.media = media.New(opts.BgmPlaylistID, mediaSink, logger, e.deliveryFailed)
	return e
}

// Start launches the event loop. The loop runs until Stop or ctx
// cancellation.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.loop(ctx)
	}()
}

// Stop drains pending timers and halts the loop.
func (e *Engine) Stop() {
	e.stopOne.Do(func() {
		e.coord.Close()
		close(e.stopped)
	})
	e.wg.Wait()
	e.logger.Info().Msg("engine stopped")
}

// ProcessReply feeds one full AI reply through the scanner and dispatches its
// tokens in source order.
func (e *Engine) ProcessReply(text string) {
	e.enqueue(event{kind: evReply, text: text})
}

// SpeechFinished signals that synthesis playback of an utterance completed.
func (e *Engine) SpeechFinished(utteranceID string) {
	e.enqueue(event{kind: evSpeechFinished, utteranceID: utteranceID})
}

// ChatArrived signals a new chat message. The message content is routed to
// the LLM elsewhere; here it only drives interrupt handling.
func (e *Engine) ChatArrived(message string) {
	e.enqueue(event{kind: evChatArrived, text: message})
}

// TrackCompleted signals the media backend finished playing a track.
func (e *Engine) TrackCompleted(title, artist string) {
	e.enqueue(event{kind: evTrackCompleted, title: title, artist: artist})
}

// ApplyUpdate swaps role configuration from a config reload.
func (e *Engine) ApplyUpdate(u Update) {
	e.enqueue(event{kind: evConfigUpdate, update: u})
}

// Snapshot reads engine state through the event loop, so the result is never
// a torn view.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	ch := make(chan Snapshot, 1)
	if !e.enqueue(event{kind: evSnapshot, snap: ch}) {
		return Snapshot{}, fmt.Errorf("engine stopped")
	}
	select {
	case snap := <-ch:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-e.stopped:
		return Snapshot{}, fmt.Errorf("engine stopped")
	}
}

func (e *Engine) enqueue(ev event) bool {
	select {
	case <-e.stopped:
		return false
	case e.queue <- ev:
		metrics.QueueDepth.Set(float64(len(e.queue)))
		return true
	}
}

func (e *Engine) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopped:
			return
		case ev := <-e.queue:
			metrics.QueueDepth.Set(float64(len(e.queue)))
			e.handle(ev)
		}
	}
}

func (e *Engine) handle(ev event) {
	switch ev.kind {
	case evReply:
		e.handleReply(ev.text)
	case evSpeechFinished:
		e.logger.Debug().Str("utterance", ev.utteranceID).Msg("speech finished")
		e.exprs.SpeechFinished()
	case evChatArrived:
		metrics.Interrupts.Inc()
		e.exprs.InterruptArrived()
	case evTimerFired:
		e.handleTimer(ev.fire)
	case evTrackCompleted:
		if !e.media.TrackCompleted(ev.title, ev.artist) {
			metrics.StaleCompletions.Inc()
		}
	case evConfigUpdate:
		e.roles = ev.update.Roles
		e.exprs.SetConfig(ev.update.Expression)
		e.logger.Info().Msg("engine configuration updated")
	case evSnapshot:
		ev.snap <- Snapshot{
			Expressions: e.exprs.Snapshot(),
			Media:       e.media.Snapshot(),
			Summary:     e.exprs.Summary(),
		}
	}
}

func (e *Engine) handleReply(text string) {
	metrics.RepliesProcessed.Inc()

	// A new utterance pre-empts any pending idle action.
	e.exprs.CancelIdle()

	s := directive.NewScanner(text, e.roles)
	for {
		tok, ok := s.Next()
		if !ok {
			break
		}
		if tok.Directive == nil {
			metrics.TokensScanned.WithLabelValues("text").Inc()
			e.speak(tok.Text)
			continue
		}
		metrics.TokensScanned.WithLabelValues(tok.Directive.Kind.String()).Inc()
		e.dispatch(tok.Directive)
	}
}

func (e *Engine) speak(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	id := uuid.NewString()
	metrics.CommandsEmitted.WithLabelValues("speech").Inc()
	if err := e.speech.SpeakSegment(id, text); err != nil {
		e.logger.Warn().Err(err).Str("utterance", id).Msg("speech segment delivery failed")
		e.deliveryFailed(err)
	}
}

func (e *Engine) dispatch(d *directive.Directive) {
	switch d.Kind {
	case directive.KindExpressionPersistent, directive.KindExpressionOneShot, directive.KindExpressionToggle:
		metrics.CommandsEmitted.WithLabelValues("expression").Inc()
		e.exprs.Apply(d)
	case directive.KindMusicRequest, directive.KindMusicStop, directive.KindBgmSet, directive.KindBgmPlaylist:
		metrics.CommandsEmitted.WithLabelValues("media").Inc()
		e.media.Apply(d)
	}
}

func (e *Engine) handleTimer(f sched.Fire) {
	if !e.coord.Claim(f) {
		metrics.StaleTimerFires.Inc()
		return
	}
	if f.Key == sched.KeyIdle {
		metrics.IdleTriggers.Inc()
		e.exprs.IdleFired()
		return
	}
	if name, ok := sched.SplitAutoOffKey(f.Key); ok {
		e.exprs.AutoOffFired(name)
		return
	}
	e.logger.Warn().Str("key", f.Key).Msg("timer fire for unknown slot")
}

func (e *Engine) deliveryFailed(err error) {
	metrics.DeliveryFailures.Inc()
	if e.onDeliveryError != nil {
		e.onDeliveryError(err)
	}
}
