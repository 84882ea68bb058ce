// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// ============================================================================
// Test Helper: Create an isolated tracker
// ============================================================================

// newTestTracker builds a tracker on its own registry so tests stay
// independent of the process-wide default and of each other.
func newTestTracker(t *testing.T) *Tracker {
	t.Helper()

	tr, err := NewTracker(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tr
}

// ============================================================================
// Construction Tests
// ============================================================================

func TestNewTracker(t *testing.T) {
	tr := newTestTracker(t)

	if tr.stats.SessionsByExit == nil {
		t.Error("SessionsByExit map should be initialized")
	}
	if tr.stats.ActionsByType == nil {
		t.Error("ActionsByType map should be initialized")
	}
}

func TestNewTrackerSharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()

	if _, err := NewTracker(reg); err != nil {
		t.Fatalf("first NewTracker: %v", err)
	}
	// A second tracker on the same registry must tolerate the collectors
	// already being present.
	second, err := NewTracker(reg)
	if err != nil {
		t.Fatalf("second NewTracker on shared registry: %v", err)
	}

	second.RecordSessionStart()
	if second.Snapshot().SessionsStarted != 1 {
		t.Error("tracker on a shared registry should still account internally")
	}
}

// ============================================================================
// Nil Tracker Tests
// ============================================================================

// Instrumentation points call the tracker unconditionally, so every method
// must be a no-op on a nil receiver.
func TestNilTrackerIsSafe(t *testing.T) {
	var tr *Tracker

	tr.RecordSessionStart()
	tr.RecordSessionEnd("threshold", 4, 2)
	tr.RecordAction("AskUser")
	tr.RecordCrisis()
	tr.RecordBiasFlag("leading")
	tr.RecordFallback("seed")
	tr.RecordIntegrityFailure()
	tr.ObserveStepDuration(time.Millisecond)
	tr.ObserveEntropyReduction(0.2)
	tr.ObserveActiveHypotheses(3)

	snap := tr.Snapshot()
	if snap.SessionsStarted != 0 || snap.SessionsCompleted != 0 {
		t.Error("nil tracker snapshot should be empty")
	}
	if snap.SessionsByExit == nil || snap.ActionsByType == nil {
		t.Error("nil tracker snapshot must still carry non-nil maps")
	}
}

// ============================================================================
// Recording Tests
// ============================================================================

func TestRecordSessionStart(t *testing.T) {
	tr := newTestTracker(t)

	tr.RecordSessionStart()
	tr.RecordSessionStart()

	if val := testutil.ToFloat64(tr.sessionsStarted); val != 2 {
		t.Errorf("sessionsStarted = %f, want 2", val)
	}
	if got := tr.Snapshot().SessionsStarted; got != 2 {
		t.Errorf("Snapshot().SessionsStarted = %d, want 2", got)
	}
}

func TestRecordSessionEnd(t *testing.T) {
	tr := newTestTracker(t)

	tr.RecordSessionEnd("threshold", 4, 3)
	tr.RecordSessionEnd("threshold", 2, 1)
	tr.RecordSessionEnd("budget", 8, 0)

	if val := testutil.ToFloat64(tr.sessionsCompleted.WithLabelValues("threshold")); val != 2 {
		t.Errorf("sessionsCompleted[threshold] = %f, want 2", val)
	}
	if val := testutil.ToFloat64(tr.sessionsCompleted.WithLabelValues("budget")); val != 1 {
		t.Errorf("sessionsCompleted[budget] = %f, want 1", val)
	}

	snap := tr.Snapshot()
	if snap.SessionsCompleted != 3 {
		t.Errorf("SessionsCompleted = %d, want 3", snap.SessionsCompleted)
	}
	if snap.SessionsByExit["threshold"] != 2 || snap.SessionsByExit["budget"] != 1 {
		t.Errorf("SessionsByExit = %v", snap.SessionsByExit)
	}

	if count := testutil.CollectAndCount(tr.sessionSteps); count != 1 {
		t.Errorf("sessionSteps families = %d, want 1", count)
	}
}

func TestRecordAction(t *testing.T) {
	tr := newTestTracker(t)

	tr.RecordAction("ConfidenceUpdate")
	tr.RecordAction("ConfidenceUpdate")
	tr.RecordAction("AskUser")

	if val := testutil.ToFloat64(tr.actionsTotal.WithLabelValues("ConfidenceUpdate")); val != 2 {
		t.Errorf("actionsTotal[ConfidenceUpdate] = %f, want 2", val)
	}
	if val := testutil.ToFloat64(tr.actionsTotal.WithLabelValues("AskUser")); val != 1 {
		t.Errorf("actionsTotal[AskUser] = %f, want 1", val)
	}

	snap := tr.Snapshot()
	if snap.ActionsByType["ConfidenceUpdate"] != 2 || snap.ActionsByType["AskUser"] != 1 {
		t.Errorf("ActionsByType = %v", snap.ActionsByType)
	}
	if want := 1.0 / 3.0; math.Abs(snap.AskUserRate-want) > 1e-9 {
		t.Errorf("AskUserRate = %f, want %f", snap.AskUserRate, want)
	}
}

func TestRecordCrisis(t *testing.T) {
	tr := newTestTracker(t)

	tr.RecordCrisis()

	if val := testutil.ToFloat64(tr.crisisTotal); val != 1 {
		t.Errorf("crisisTotal = %f, want 1", val)
	}
	if got := tr.Snapshot().CrisisActivations; got != 1 {
		t.Errorf("CrisisActivations = %d, want 1", got)
	}
}

func TestRecordBiasFlag(t *testing.T) {
	tr := newTestTracker(t)

	tr.RecordBiasFlag("leading")
	tr.RecordBiasFlag("leading")
	tr.RecordBiasFlag("absolutist")

	if val := testutil.ToFloat64(tr.biasFlagsTotal.WithLabelValues("leading")); val != 2 {
		t.Errorf("biasFlagsTotal[leading] = %f, want 2", val)
	}
	if got := tr.Snapshot().BiasFlags; got != 3 {
		t.Errorf("BiasFlags = %d, want 3", got)
	}
}

func TestRecordFallback(t *testing.T) {
	tr := newTestTracker(t)

	tr.RecordFallback("seed")
	tr.RecordFallback("hypothesize")
	tr.RecordFallback("hypothesize")

	if val := testutil.ToFloat64(tr.fallbacksTotal.WithLabelValues("hypothesize")); val != 2 {
		t.Errorf("fallbacksTotal[hypothesize] = %f, want 2", val)
	}
	if got := tr.Snapshot().GenerationFallbacks; got != 3 {
		t.Errorf("GenerationFallbacks = %d, want 3", got)
	}
}

func TestRecordIntegrityFailure(t *testing.T) {
	tr := newTestTracker(t)

	tr.RecordIntegrityFailure()
	tr.RecordIntegrityFailure()

	if val := testutil.ToFloat64(tr.integrityFailures); val != 2 {
		t.Errorf("integrityFailures = %f, want 2", val)
	}
	if got := tr.Snapshot().IntegrityFailures; got != 2 {
		t.Errorf("IntegrityFailures = %d, want 2", got)
	}
}

func TestObserveStepDuration(t *testing.T) {
	tr := newTestTracker(t)

	if got := tr.Snapshot().MeanStepLatencyMS; got != 0 {
		t.Errorf("MeanStepLatencyMS with no samples = %f, want 0", got)
	}

	tr.ObserveStepDuration(5 * time.Millisecond)
	tr.ObserveStepDuration(300 * time.Millisecond)

	if count := testutil.CollectAndCount(tr.stepLatency); count != 1 {
		t.Errorf("stepLatency families = %d, want 1", count)
	}
	if got := tr.Snapshot().MeanStepLatencyMS; got != 152.5 {
		t.Errorf("MeanStepLatencyMS = %f, want 152.5", got)
	}
}

func TestObserveEntropyReduction(t *testing.T) {
	tr := newTestTracker(t)

	if got := tr.Snapshot().MeanEntropyReduction; got != 0 {
		t.Errorf("MeanEntropyReduction with no samples = %f, want 0", got)
	}

	tr.ObserveEntropyReduction(0.5)
	tr.ObserveEntropyReduction(0.1)
	// Widening turns produce negative deltas and still count toward the mean.
	tr.ObserveEntropyReduction(-0.3)

	if count := testutil.CollectAndCount(tr.entropyReduction); count != 1 {
		t.Errorf("entropyReduction families = %d, want 1", count)
	}

	got := tr.Snapshot().MeanEntropyReduction
	want := (0.5 + 0.1 - 0.3) / 3
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("MeanEntropyReduction = %f, want %f", got, want)
	}
}

func TestObserveActiveHypotheses(t *testing.T) {
	tr := newTestTracker(t)

	tr.ObserveActiveHypotheses(2)
	tr.ObserveActiveHypotheses(5)

	if count := testutil.CollectAndCount(tr.activeHypotheses); count != 1 {
		t.Errorf("activeHypotheses families = %d, want 1", count)
	}
}

// ============================================================================
// Snapshot Tests
// ============================================================================

func TestSnapshotIsACopy(t *testing.T) {
	tr := newTestTracker(t)
	tr.RecordSessionEnd("epsilon", 3, 0)
	tr.RecordAction("Stop")

	snap := tr.Snapshot()
	snap.SessionsByExit["epsilon"] = 99
	snap.ActionsByType["Stop"] = 99

	fresh := tr.Snapshot()
	if fresh.SessionsByExit["epsilon"] != 1 {
		t.Error("mutating a snapshot leaked into the tracker's exit map")
	}
	if fresh.ActionsByType["Stop"] != 1 {
		t.Error("mutating a snapshot leaked into the tracker's action map")
	}
}

// ============================================================================
// Concurrent Safety Tests
// ============================================================================

func TestTrackerConcurrentSafety(t *testing.T) {
	tr := newTestTracker(t)

	done := make(chan bool, 80)

	for i := 0; i < 20; i++ {
		go func() {
			tr.RecordSessionStart()
			tr.RecordSessionEnd("budget", 8, 0)
			done <- true
		}()
	}
	for i := 0; i < 20; i++ {
		go func() {
			tr.RecordAction("ConfidenceUpdate")
			done <- true
		}()
	}
	for i := 0; i < 20; i++ {
		go func() {
			tr.RecordBiasFlag("prescriptive")
			tr.RecordFallback("seed")
			done <- true
		}()
	}
	for i := 0; i < 20; i++ {
		go func() {
			tr.ObserveStepDuration(time.Millisecond)
			tr.ObserveEntropyReduction(0.25)
			_ = tr.Snapshot()
			done <- true
		}()
	}

	for i := 0; i < 80; i++ {
		<-done
	}

	snap := tr.Snapshot()
	if snap.SessionsStarted != 20 {
		t.Errorf("SessionsStarted = %d, want 20", snap.SessionsStarted)
	}
	if snap.SessionsByExit["budget"] != 20 {
		t.Errorf("SessionsByExit[budget] = %d, want 20", snap.SessionsByExit["budget"])
	}
	if snap.ActionsByType["ConfidenceUpdate"] != 20 {
		t.Errorf("ActionsByType[ConfidenceUpdate] = %d, want 20", snap.ActionsByType["ConfidenceUpdate"])
	}
	if snap.BiasFlags != 20 || snap.GenerationFallbacks != 20 {
		t.Errorf("BiasFlags = %d, GenerationFallbacks = %d, want 20 each", snap.BiasFlags, snap.GenerationFallbacks)
	}
	if snap.MeanEntropyReduction != 0.25 {
		t.Errorf("MeanEntropyReduction = %f, want 0.25", snap.MeanEntropyReduction)
	}
}
