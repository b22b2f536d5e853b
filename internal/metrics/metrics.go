// Package metrics exposes engine counters for Prometheus scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TokensScanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "director_tokens_scanned_total",
		Help: "Tokens produced by the directive scanner",
	}, []string{"kind"})

	RepliesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "director_replies_total",
		Help: "AI replies fed through the engine",
	})

	CommandsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "director_commands_total",
		Help: "Actuation commands emitted per channel",
	}, []string{"channel"})

	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "director_delivery_failures_total",
		Help: "Actuation commands that failed to deliver",
	})

	StaleTimerFires = promauto.NewCounter(prometheus.CounterOpts{
		Name: "director_stale_timer_fires_total",
		Help: "Timer fires rejected by generation check",
	})

	IdleTriggers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "director_idle_triggers_total",
		Help: "Idle actions fired after speech quiet period",
	})

	Interrupts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "director_interrupts_total",
		Help: "Chat-arrival interrupt actions fired",
	})

	StaleCompletions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "director_stale_track_completions_total",
		Help: "Track completion signals ignored as stale",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "director_event_queue_depth",
		Help: "Events waiting in the engine queue",
	})
)
