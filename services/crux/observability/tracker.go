// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability tracks what the decision loop does: which actions
// it takes, how sessions end, how often generation falls back, and what the
// bias screen flags. Everything here is passive accounting; nothing in this
// package influences a decision.
package observability

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SummaryStats is a point-in-time snapshot of session accounting, served by
// the stats endpoint. Kept separately from Prometheus so the endpoint does
// not scrape its own process.
type SummaryStats struct {
	SessionsStarted     int64            `json:"sessions_started"`
	SessionsCompleted   int64            `json:"sessions_completed"`
	SessionsByExit      map[string]int64 `json:"sessions_by_exit"`
	ActionsByType       map[string]int64 `json:"actions_by_type"`
	CrisisActivations   int64            `json:"crisis_activations"`
	BiasFlags           int64            `json:"bias_flags"`
	GenerationFallbacks int64            `json:"generation_fallbacks"`
	IntegrityFailures   int64            `json:"integrity_failures"`

	// AskUserRate is the fraction of executed actions that went to the
	// user. Actions are cheap relative to questions, so a healthy loop
	// keeps this well under 0.5.
	AskUserRate float64 `json:"ask_user_rate"`

	// MeanStepLatencyMS is the average Step call latency in milliseconds,
	// including any chained internal actions.
	MeanStepLatencyMS float64 `json:"mean_step_latency_ms"`

	// MeanEntropyReduction is the average drop in belief entropy per
	// executed turn. Negative means turns are widening the frontier on
	// average, which is expected early in sessions.
	MeanEntropyReduction float64 `json:"mean_entropy_reduction"`
}

// Tracker records engine activity to Prometheus and to internal counters.
//
// # Thread Safety
//
// Safe for concurrent use. A nil *Tracker is valid and records nothing, so
// callers never need to guard their instrumentation points.
type Tracker struct {
	sessionsStarted   prometheus.Counter
	sessionsCompleted *prometheus.CounterVec
	actionsTotal      *prometheus.CounterVec
	crisisTotal       prometheus.Counter
	biasFlagsTotal    *prometheus.CounterVec
	fallbacksTotal    *prometheus.CounterVec
	integrityFailures prometheus.Counter
	stepLatency       prometheus.Histogram
	sessionSteps      prometheus.Histogram
	sessionQuestions  prometheus.Histogram
	entropyReduction  prometheus.Histogram
	activeHypotheses  prometheus.Histogram

	mu           sync.RWMutex
	stats        SummaryStats
	entropySum   float64
	entropyCount int64
	latencySum   time.Duration
	latencyCount int64
}

// NewTracker creates a tracker registered on registry. A nil registry uses
// the process-wide default. Collectors already present on the registry are
// reused rather than treated as a failure, so two components can share one.
func NewTracker(registry prometheus.Registerer) (*Tracker, error) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	t := &Tracker{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crux",
			Subsystem: "agent",
			Name:      "sessions_started_total",
			Help:      "Total discovery sessions initialized",
		}),
		sessionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crux",
			Subsystem: "agent",
			Name:      "sessions_completed_total",
			Help:      "Total sessions completed by exit reason",
		}, []string{"exit_reason"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crux",
			Subsystem: "agent",
			Name:      "actions_total",
			Help:      "Total actions executed by type",
		}, []string{"action"}),
		crisisTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crux",
			Subsystem: "agent",
			Name:      "crisis_activations_total",
			Help:      "Total sessions terminated by the distress guardrail",
		}),
		biasFlagsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crux",
			Subsystem: "agent",
			Name:      "bias_flags_total",
			Help:      "Total bias-screen flags on generated questions by category",
		}, []string{"category"}),
		fallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crux",
			Subsystem: "agent",
			Name:      "generation_fallbacks_total",
			Help:      "Total deterministic fallbacks by generation surface",
		}, []string{"surface"}),
		integrityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crux",
			Subsystem: "agent",
			Name:      "integrity_failures_total",
			Help:      "Total state submissions rejected by signature verification",
		}),
		stepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crux",
			Subsystem: "agent",
			Name:      "step_latency_seconds",
			Help:      "Latency of one Step call including internal chaining",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 20.0},
		}),
		sessionSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crux",
			Subsystem: "agent",
			Name:      "session_steps",
			Help:      "Revision count at session end",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 7, 8, 10},
		}),
		sessionQuestions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crux",
			Subsystem: "agent",
			Name:      "session_questions",
			Help:      "User questions consumed at session end",
			Buckets:   []float64{0, 1, 2, 3},
		}),
		entropyReduction: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crux",
			Subsystem: "agent",
			Name:      "entropy_reduction_bits",
			Help:      "Belief entropy drop per executed turn; negative when a turn widens the frontier",
			Buckets:   []float64{-1, -0.5, -0.1, 0, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),
		activeHypotheses: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crux",
			Subsystem: "agent",
			Name:      "active_hypotheses",
			Help:      "Active frontier size observed after each executed turn",
			Buckets:   []float64{1, 2, 3, 4, 5, 6},
		}),
	}
	t.stats.SessionsByExit = make(map[string]int64)
	t.stats.ActionsByType = make(map[string]int64)

	collectors := []prometheus.Collector{
		t.sessionsStarted,
		t.sessionsCompleted,
		t.actionsTotal,
		t.crisisTotal,
		t.biasFlagsTotal,
		t.fallbacksTotal,
		t.integrityFailures,
		t.stepLatency,
		t.sessionSteps,
		t.sessionQuestions,
		t.entropyReduction,
		t.activeHypotheses,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
		}
	}

	return t, nil
}

// RecordSessionStart counts an initialized session.
func (t *Tracker) RecordSessionStart() {
	if t == nil {
		return
	}
	t.sessionsStarted.Inc()
	t.mu.Lock()
	t.stats.SessionsStarted++
	t.mu.Unlock()
}

// RecordSessionEnd counts a completed session with its exit reason and
// budget consumption.
func (t *Tracker) RecordSessionEnd(exitReason string, steps, questions int) {
	if t == nil {
		return
	}
	t.sessionsCompleted.WithLabelValues(exitReason).Inc()
	t.sessionSteps.Observe(float64(steps))
	t.sessionQuestions.Observe(float64(questions))
	t.mu.Lock()
	t.stats.SessionsCompleted++
	t.stats.SessionsByExit[exitReason]++
	t.mu.Unlock()
}

// RecordAction counts one executed action.
func (t *Tracker) RecordAction(kind string) {
	if t == nil {
		return
	}
	t.actionsTotal.WithLabelValues(kind).Inc()
	t.mu.Lock()
	t.stats.ActionsByType[kind]++
	t.mu.Unlock()
}

// RecordCrisis counts a guardrail termination.
func (t *Tracker) RecordCrisis() {
	if t == nil {
		return
	}
	t.crisisTotal.Inc()
	t.mu.Lock()
	t.stats.CrisisActivations++
	t.mu.Unlock()
}

// RecordBiasFlag counts one bias-screen flag on an outgoing question.
func (t *Tracker) RecordBiasFlag(category string) {
	if t == nil {
		return
	}
	t.biasFlagsTotal.WithLabelValues(category).Inc()
	t.mu.Lock()
	t.stats.BiasFlags++
	t.mu.Unlock()
}

// RecordFallback counts a deterministic fallback on a generation surface
// (seed, hypothesize).
func (t *Tracker) RecordFallback(surface string) {
	if t == nil {
		return
	}
	t.fallbacksTotal.WithLabelValues(surface).Inc()
	t.mu.Lock()
	t.stats.GenerationFallbacks++
	t.mu.Unlock()
}

// RecordIntegrityFailure counts a rejected state submission.
func (t *Tracker) RecordIntegrityFailure() {
	if t == nil {
		return
	}
	t.integrityFailures.Inc()
	t.mu.Lock()
	t.stats.IntegrityFailures++
	t.mu.Unlock()
}

// ObserveStepDuration records the latency of one Step call.
func (t *Tracker) ObserveStepDuration(d time.Duration) {
	if t == nil {
		return
	}
	t.stepLatency.Observe(d.Seconds())
	t.mu.Lock()
	t.latencySum += d
	t.latencyCount++
	t.mu.Unlock()
}

// ObserveEntropyReduction records the belief entropy drop of one executed
// turn. Callers pass entropy-before minus entropy-after, so frontier-widening
// turns show up as negative samples.
func (t *Tracker) ObserveEntropyReduction(delta float64) {
	if t == nil {
		return
	}
	t.entropyReduction.Observe(delta)
	t.mu.Lock()
	t.entropySum += delta
	t.entropyCount++
	t.mu.Unlock()
}

// ObserveActiveHypotheses records the frontier size after one executed turn.
// Sessions are caller-held, so this is a per-turn sample, not a process gauge.
func (t *Tracker) ObserveActiveHypotheses(n int) {
	if t == nil {
		return
	}
	t.activeHypotheses.Observe(float64(n))
}

// Snapshot returns a copy of the internal counters. The maps are copied, so
// the caller can serialize the result without holding any lock.
func (t *Tracker) Snapshot() SummaryStats {
	if t == nil {
		return SummaryStats{
			SessionsByExit: map[string]int64{},
			ActionsByType:  map[string]int64{},
		}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := t.stats
	out.SessionsByExit = make(map[string]int64, len(t.stats.SessionsByExit))
	for k, v := range t.stats.SessionsByExit {
		out.SessionsByExit[k] = v
	}
	out.ActionsByType = make(map[string]int64, len(t.stats.ActionsByType))
	var totalActions int64
	for k, v := range t.stats.ActionsByType {
		out.ActionsByType[k] = v
		totalActions += v
	}
	if totalActions > 0 {
		out.AskUserRate = float64(t.stats.ActionsByType["AskUser"]) / float64(totalActions)
	}
	if t.latencyCount > 0 {
		out.MeanStepLatencyMS = float64(t.latencySum) / float64(time.Millisecond) / float64(t.latencyCount)
	}
	if t.entropyCount > 0 {
		out.MeanEntropyReduction = t.entropySum / float64(t.entropyCount)
	}
	return out
}
