// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package crux

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/CruxDiscovery/services/crux/integrity"
	"github.com/AleutianAI/CruxDiscovery/services/crux/llm"
	"github.com/AleutianAI/CruxDiscovery/services/crux/observability"
	"github.com/AleutianAI/CruxDiscovery/services/crux/safety"
)

var engineTracer = otel.Tracer("crux.engine")

// Result texts for sessions that end without a usable frontier, and for
// crisis terminations. The crisis wording is fixed and never generated.
const (
	fallbackCruxText = "Core challenge requiring further exploration"
	crisisCruxText   = "Crisis or distress requiring immediate support and professional help"
)

// secondaryThemeFloor is the minimum probability for a non-top node to be
// reported as a secondary theme.
const secondaryThemeFloor = 0.1

// Engine drives crux-discovery sessions. It holds configuration and
// collaborators only; every piece of session state lives in the AgentState
// owned by the caller, so one Engine serves any number of concurrent
// sessions.
type Engine struct {
	cfg     Config
	llm     llm.Client
	guard   *safety.Guardrail
	signer  *integrity.Signer
	tracker *observability.Tracker
	log     *slog.Logger

	signerSet bool

	// seeds deduplicates concurrent hypothesis generation for identical
	// narratives (client retries, double submits).
	seeds singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default tuning parameters. Zero-valued fields are
// backfilled with defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLLM installs the generation client used for hypothesis seeding and
// expansion. Without one the engine runs its deterministic fallbacks.
func WithLLM(client llm.Client) Option {
	return func(e *Engine) { e.llm = client }
}

// WithGuardrail replaces the embedded-pattern guardrail.
func WithGuardrail(g *safety.Guardrail) Option {
	return func(e *Engine) {
		if g != nil {
			e.guard = g
		}
	}
}

// WithSigner replaces the environment-derived integrity signer. Passing nil
// disables state signing entirely.
func WithSigner(s *integrity.Signer) Option {
	return func(e *Engine) {
		e.signer = s
		e.signerSet = true
	}
}

// WithTracker installs metrics bookkeeping. A nil tracker disables it.
func WithTracker(t *observability.Tracker) Option {
	return func(e *Engine) { e.tracker = t }
}

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine builds an Engine. Defaults: DefaultConfig tuning, the embedded
// guardrail patterns, an integrity signer keyed from the environment, no
// generation client, no metrics.
func NewEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg: DefaultConfig(),
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg = e.cfg.withDefaults()

	if e.guard == nil {
		g, err := safety.NewGuardrail()
		if err != nil {
			return nil, fmt.Errorf("compile guardrail patterns: %w", err)
		}
		e.guard = g
	}
	if e.signer == nil && !e.signerSet {
		e.signer = integrity.NewSignerFromEnv()
	}
	return e, nil
}

// ============================================================================
// Session lifecycle
// ============================================================================

// InitSession creates the state for a new session: it stores the narrative,
// seeds the initial hypothesis frontier, assigns starting probabilities, and
// signs the result. The returned state is fully owned by the caller; the
// engine keeps nothing.
//
// A narrative that trips the distress guardrail is never sent to a
// generation model. The state is created unseeded and the first Step call
// finalizes it with the crisis result.
func (e *Engine) InitSession(ctx context.Context, narrative string) (*AgentState, error) {
	ctx, span := engineTracer.Start(ctx, "crux.InitSession")
	defer span.End()

	narrative = strings.TrimSpace(narrative)
	if narrative == "" {
		return nil, ErrEmptyNarrative
	}

	state := &AgentState{
		StateID:  uuid.New(),
		Revision: 0,
		JournalEntry: JournalEntry{
			EntryID:   uuid.New(),
			Text:      narrative,
			CreatedAt: time.Now().UTC(),
		},
		Belief: BeliefState{
			Probs:      make(map[uuid.UUID]float64),
			LowStreaks: make(map[uuid.UUID]int),
		},
		EvidenceLog: []Evidence{},
		ExitFlags:   make(map[string]bool),
	}
	span.SetAttributes(attribute.String("crux.state_id", state.StateID.String()))

	if e.guard.CheckDistress(narrative) {
		state.ExitFlags["crisis"] = true
		e.log.Warn("distress indicators detected at session start",
			"state_id", state.StateID)
	} else {
		e.seedBelief(ctx, state, narrative)
	}

	if err := e.signState(state); err != nil {
		return nil, err
	}
	e.tracker.RecordSessionStart()
	e.log.Info("session initialized",
		"state_id", state.StateID,
		"hypotheses", activeCount(&state.Belief),
		"narrative_tokens", tokenCount(narrative))
	return state, nil
}

// seedBelief generates the initial hypothesis set and installs it with
// diagnostic priors where present and uniform mass otherwise.
func (e *Engine) seedBelief(ctx context.Context, state *AgentState, narrative string) {
	nodes := e.sharedSeedNodes(ctx, narrative)
	if len(nodes) == 0 {
		return
	}

	bs := &state.Belief
	uniform := 1.0 / float64(len(nodes))
	for _, node := range nodes {
		p := uniform
		if node.DiagnosticPrior != nil {
			p = *node.DiagnosticPrior
		}
		bs.Nodes = append(bs.Nodes, node)
		bs.Probs[node.NodeID] = p
	}
	renormalize(bs)
	rerank(bs)

	// Identical seeds collapse immediately.
	mergePass(bs, e.cfg.MergeRadius)
}

// sharedSeedNodes funnels concurrent seeding of identical narratives through
// a single generation pass, then re-identifies the nodes per session so no
// two states share node IDs.
func (e *Engine) sharedSeedNodes(ctx context.Context, narrative string) []CruxNode {
	digest := sha256.Sum256([]byte(narrative))
	v, _, _ := e.seeds.Do(hex.EncodeToString(digest[:]), func() (any, error) {
		return e.seedHypotheses(ctx, narrative), nil
	})
	shared, _ := v.([]CruxNode)

	nodes := make([]CruxNode, 0, len(shared))
	for _, n := range shared {
		node := n
		node.NodeID = uuid.New()
		node.Supports = append([]string(nil), n.Supports...)
		node.Counters = append([]string(nil), n.Counters...)
		nodes = append(nodes, node)
	}
	return nodes
}

// Step advances a session by one turn. The caller's state is never mutated:
// on success the outcome carries a new signed copy, on error the input is
// untouched.
//
// The per-call order is strict: verify integrity, screen for distress (the
// narrative on every call, plus the reply when present, and a match
// finalizes immediately), validate and apply the user event, then run the
// decision loop. Internal actions chain inside the loop; only an AskUser
// action or a stop condition hands control back to the caller.
func (e *Engine) Step(ctx context.Context, prev *AgentState, event *UserEvent) (StepOutcome, error) {
	ctx, span := engineTracer.Start(ctx, "crux.Step")
	defer span.End()

	start := time.Now()
	defer func() { e.tracker.ObserveStepDuration(time.Since(start)) }()

	if prev == nil {
		return StepOutcome{}, ErrNilState
	}
	span.SetAttributes(
		attribute.String("crux.state_id", prev.StateID.String()),
		attribute.Int("crux.revision", prev.Revision),
	)

	if err := e.verifyState(prev); err != nil {
		e.tracker.RecordIntegrityFailure()
		span.RecordError(err)
		span.SetStatus(codes.Error, "integrity mismatch")
		return StepOutcome{}, err
	}

	state := prev.Clone()

	if state.ExitFlags["crisis"] ||
		e.guard.CheckDistress(state.JournalEntry.Text) ||
		(event != nil && e.guard.CheckDistress(event.Value)) {
		return e.finalizeCrisis(state)
	}

	if event != nil {
		if err := validateEvent(state, event); err != nil {
			span.RecordError(err)
			return StepOutcome{}, err
		}
		e.applyAnswer(state, event)
	}

	// Decision loop. Each executed internal action advances the revision,
	// so the step-budget stop bounds the chain well below the ceiling.
	for hop := 0; hop < e.cfg.MaxChainedActions; hop++ {
		housekeep(&e.cfg, state)

		if top, gap := topGap(&state.Belief); top >= e.cfg.TauHigh && gap >= e.cfg.DeltaGap {
			return e.finalize(state, ExitThreshold)
		}

		candidates := enumerateActions(&e.cfg, state)
		if len(candidates) == 0 {
			// No viable action forces a budget termination.
			e.log.Warn("action catalog is empty, forcing budget stop",
				"state_id", state.StateID,
				"revision", state.Revision)
			return e.finalize(state, ExitBudget)
		}
		scored := scoreActions(&e.cfg, state, candidates)
		best := scored[0]

		// Epsilon reads the most informative candidate, not the one the
		// utility ranking picked: the session stops only when nothing on
		// offer is worth learning.
		maxEVI := 0.0
		for _, sc := range scored {
			if sc.EVI > maxEVI {
				maxEVI = sc.EVI
			}
		}
		if maxEVI < e.cfg.EpsilonEVI {
			return e.finalize(state, ExitEpsilon)
		}
		if state.BudgetUsed >= e.cfg.MaxUserQueries || state.Revision >= e.cfg.MaxSteps {
			return e.finalize(state, ExitBudget)
		}

		switch act := best.Action.(type) {
		case AskUserAction:
			return e.emitQuestion(state, act)
		case StopAction:
			return e.finalize(state, act.Reason)
		default:
			e.executeInternal(ctx, state, best.Action)
		}
	}

	e.log.Warn("internal action chain hit its ceiling",
		"state_id", state.StateID,
		"ceiling", e.cfg.MaxChainedActions)
	return e.finalize(state, ExitBudget)
}

// validateEvent checks answer routing against the pending question.
func validateEvent(state *AgentState, event *UserEvent) error {
	if state.LastAction == nil {
		return fmt.Errorf("%w: no question is pending", ErrUserEventMismatch)
	}
	ask, ok := state.LastAction.Action.(AskUserAction)
	if !ok {
		return fmt.Errorf("%w: last action %s is not a question",
			ErrUserEventMismatch, state.LastAction.Type)
	}
	if event.AnswerTo != ask.ActionID {
		return fmt.Errorf("%w: reply addresses %s, pending question is %s",
			ErrUserEventMismatch, event.AnswerTo, ask.ActionID)
	}
	return nil
}

// applyAnswer folds a user reply into the belief state and the evidence log.
// The update runs before the reply is logged so novelty damping counts only
// prior answers.
func (e *Engine) applyAnswer(state *AgentState, event *UserEvent) {
	ask, _ := state.LastAction.Action.(AskUserAction)

	before := entropy(&state.Belief)
	updateFromAnswer(&e.cfg, &state.Belief, state.EvidenceLog, ask.Targets, event.Value)
	e.tracker.ObserveEntropyReduction(before - entropy(&state.Belief))

	targets := make([]string, 0, len(ask.Targets))
	for _, id := range ask.Targets {
		targets = append(targets, id.String())
	}
	state.EvidenceLog = append(state.EvidenceLog, Evidence{
		Kind: EvidenceUserAnswer,
		Payload: map[string]any{
			"question": ask.Question,
			"answer":   event.Value,
			"targets":  targets,
		},
		AtRevision: state.Revision,
	})
	e.log.Debug("user answer applied",
		"state_id", state.StateID,
		"answer_tokens", tokenCount(event.Value))
}

// emitQuestion executes an AskUser action: bias-screens the wording, commits
// the envelope, advances accounting, signs, and suspends the session until
// the caller returns with an answer.
func (e *Engine) emitQuestion(state *AgentState, ask AskUserAction) (StepOutcome, error) {
	for _, flag := range e.guard.ScreenQuestion(ask.Question) {
		// Advisory only. Screening never blocks or rewrites a question.
		e.tracker.RecordBiasFlag(flag.Category)
		e.log.Info("bias screen flagged question wording",
			"state_id", state.StateID,
			"category", flag.Category,
			"match", flag.Match)
	}

	state.LastAction = WrapAction(ask)
	state.Revision++
	state.BudgetUsed++
	e.tracker.RecordAction(string(ActionAskUser))
	e.tracker.ObserveActiveHypotheses(activeCount(&state.Belief))
	if err := e.signState(state); err != nil {
		return StepOutcome{}, err
	}
	e.log.Info("question emitted",
		"state_id", state.StateID,
		"revision", state.Revision,
		"budget_used", state.BudgetUsed)
	return StepOutcome{Complete: false, State: state, Action: ask}, nil
}

// housekeep runs the structural passes that precede every decision: merge
// near-duplicates, retire persistently weak nodes, renormalize, rerank.
func housekeep(cfg *Config, state *AgentState) {
	bs := &state.Belief
	mergePass(bs, cfg.MergeRadius)
	retirePass(bs, cfg.RetireProb, cfg.RetireStreak)
	renormalize(bs)
	rerank(bs)
}

// ============================================================================
// Internal action executors
// ============================================================================

// executeInternal runs one internal action against the state, records its
// evidence, and advances the revision counter.
func (e *Engine) executeInternal(ctx context.Context, state *AgentState, action Action) {
	before := entropy(&state.Belief)
	switch act := action.(type) {
	case HypothesizeAction:
		e.execHypothesize(ctx, state, act)
	case ClusterThemesAction:
		e.execClusterThemes(state)
	case CounterfactualTestAction:
		e.execCounterfactual(ctx, state, act)
	case EvidenceRequestAction:
		e.execEvidenceRequest(ctx, state, act)
	case SilenceCheckAction:
		e.execSilenceCheck(ctx, state)
	case ConfidenceUpdateAction:
		e.execConfidenceUpdate(state)
	default:
		// Catalog and executors must agree on the action set.
		e.log.Error("no executor for action", "kind", string(action.Kind()))
	}

	state.LastAction = WrapAction(action)
	state.Revision++
	e.tracker.RecordAction(string(action.Kind()))
	e.tracker.ObserveEntropyReduction(before - entropy(&state.Belief))
	e.tracker.ObserveActiveHypotheses(activeCount(&state.Belief))
}

// execHypothesize grows the frontier by up to SpawnK generated hypotheses,
// stopping at the node cap. A generation failure downgrades to a single
// deterministic placeholder so the loop keeps moving.
func (e *Engine) execHypothesize(ctx context.Context, state *AgentState, act HypothesizeAction) {
	bs := &state.Belief
	added := 0
	for i := 0; i < act.SpawnK; i++ {
		if activeCount(bs) >= e.cfg.MaxHypotheses {
			break
		}
		node, ok := e.expandHypothesis(ctx, state)
		if !ok {
			e.tracker.RecordFallback("hypothesize")
			node = NewCruxNode(fallbackExpandText)
			insertNode(bs, node, 1.0/float64(activeCount(bs)+1))
			state.EvidenceLog = append(state.EvidenceLog, Evidence{
				Kind:       EvidenceContextDatum,
				Payload:    map[string]any{"error": "Failed to generate new hypothesis"},
				AtRevision: state.Revision,
			})
			return
		}
		insertNode(bs, node, 1.0/float64(activeCount(bs)+1))
		added++
	}
	if added > 0 {
		state.EvidenceLog = append(state.EvidenceLog, Evidence{
			Kind:       EvidenceContextDatum,
			Payload:    map[string]any{"hypotheses_added": added},
			AtRevision: state.Revision,
		})
	}
}

// execClusterThemes consolidates thematically overlapping nodes using the
// softer cluster radius.
func (e *Engine) execClusterThemes(state *AgentState) {
	merged := mergePass(&state.Belief, e.cfg.ClusterRadius)
	state.EvidenceLog = append(state.EvidenceLog, Evidence{
		Kind:       EvidencePatternSignal,
		Payload:    map[string]any{"merged_nodes": merged},
		AtRevision: state.Revision,
	})
}

// execCounterfactual probes the top two hypotheses against each other. The
// backend is asked which one the entry supports once the other is imagined
// away; the deterministic fallback lets the entry's own vocabulary decide.
// The favored node gains a nudge, the other loses one; a tie only records
// the result.
func (e *Engine) execCounterfactual(ctx context.Context, state *AgentState, act CounterfactualTestAction) {
	bs := &state.Belief
	narrTokens := tokenSet(state.JournalEntry.Text)

	nodeA := nodeByID(bs, act.TargetA)
	nodeB := nodeByID(bs, act.TargetB)

	var supportA, supportB float64
	if nodeA != nil {
		supportA = entailmentScore(narrTokens, tokenSet(nodeA.Text))
	}
	if nodeB != nil {
		supportB = entailmentScore(narrTokens, tokenSet(nodeB.Text))
	}
	diff := supportA - supportB

	payload := map[string]any{
		"target_a":            act.TargetA.String(),
		"target_b":            act.TargetB.String(),
		"narrative_support_a": supportA,
		"narrative_support_b": supportB,
	}

	favored := 0
	if nodeA != nil && nodeB != nil {
		if analysis, verdict, ok := e.counterfactualAnalysis(ctx, state, nodeA, nodeB); ok {
			payload["analysis"] = analysis
			favored = verdict
		} else {
			if e.llm != nil {
				e.tracker.RecordFallback("counterfactual")
			}
			switch {
			case diff > probEpsilon:
				favored = 1
			case diff < -probEpsilon:
				favored = -1
			}
		}
	}

	if favored != 0 {
		mag := updateMagnitude(&e.cfg, math.Abs(diff), 1.0, 1.0)
		winner, loser := act.TargetA, act.TargetB
		if favored < 0 {
			winner, loser = act.TargetB, act.TargetA
		}
		shiftBelief(&e.cfg, bs, winner, directionNudge, mag)
		shiftBelief(&e.cfg, bs, loser, -directionNudge, mag)
		renormalize(bs)
		rerank(bs)
	}

	state.EvidenceLog = append(state.EvidenceLog, Evidence{
		Kind:       EvidenceExperimentResult,
		Payload:    payload,
		AtRevision: state.Revision,
	})
}

// evidenceCues drive deterministic narrative extraction per request kind.
// Tokens must match tokenSet output (lowercase, inner apostrophes kept).
var evidenceCues = map[EvidenceRequestKind][]string{
	RequestTimeline: {
		"when", "yesterday", "today", "week", "weeks", "month", "months",
		"year", "years", "ago", "since", "lately", "recently", "started",
	},
	RequestConstraints: {
		"can't", "cannot", "must", "stuck", "unable", "pressure",
		"deadline", "afford", "trapped", "forced",
	},
	RequestGoals: {
		"want", "wanted", "wish", "hope", "hoping", "goal", "trying",
		"plan", "dream", "need",
	},
	RequestNorms: {
		"should", "supposed", "expected", "normal", "everyone", "always",
		"never", "nobody",
	},
}

// execEvidenceRequest mines the narrative for the requested aspect. The
// backend picks the quote when available; the fallback scores sentences by
// cue-word hits. With no match the request is still recorded so the kind
// cycle advances.
func (e *Engine) execEvidenceRequest(ctx context.Context, state *AgentState, act EvidenceRequestAction) {
	if quote, ok := e.extractEvidence(ctx, state, act.RequestKind); ok {
		state.EvidenceLog = append(state.EvidenceLog, Evidence{
			Kind: EvidenceEntryQuote,
			Payload: map[string]any{
				"request_kind": string(act.RequestKind),
				"quote":        quote,
			},
			AtRevision: state.Revision,
		})
		return
	}
	if e.llm != nil {
		e.tracker.RecordFallback("evidence_request")
	}

	cues := evidenceCues[act.RequestKind]
	var best string
	bestHits := 0
	for _, sentence := range splitSentences(state.JournalEntry.Text) {
		tokens := tokenSet(sentence)
		hits := 0
		for _, cue := range cues {
			if _, ok := tokens[cue]; ok {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = sentence, hits
		}
	}

	if bestHits > 0 {
		state.EvidenceLog = append(state.EvidenceLog, Evidence{
			Kind: EvidenceEntryQuote,
			Payload: map[string]any{
				"request_kind": string(act.RequestKind),
				"quote":        truncateText(best, maxNodeTextLen),
			},
			AtRevision: state.Revision,
		})
		return
	}
	state.EvidenceLog = append(state.EvidenceLog, Evidence{
		Kind: EvidenceContextDatum,
		Payload: map[string]any{
			"request_kind": string(act.RequestKind),
			"note":         "no matching statements found in the entry",
		},
		AtRevision: state.Revision,
	})
}

// execSilenceCheck surfaces what the active hypotheses fail to address. The
// backend answers in prose when available; the fallback mines the narrative
// for salient terms no hypothesis mentions. Purely observational either way.
func (e *Engine) execSilenceCheck(ctx context.Context, state *AgentState) {
	if insight, ok := e.silenceAnalysis(ctx, state); ok {
		state.EvidenceLog = append(state.EvidenceLog, Evidence{
			Kind:       EvidenceContextDatum,
			Payload:    map[string]any{"unaddressed": insight},
			AtRevision: state.Revision,
		})
		return
	}
	if e.llm != nil {
		e.tracker.RecordFallback("silence_check")
	}

	bs := &state.Belief
	covered := make(map[string]struct{})
	for _, idx := range activeIndices(bs) {
		for tok := range tokenSet(bs.Nodes[idx].Text) {
			covered[tok] = struct{}{}
		}
	}

	counts := make(map[string]int)
	var order []string
	for _, tok := range tokenList(state.JournalEntry.Text) {
		if len(tok) < 4 {
			continue
		}
		if _, skip := stopwords[tok]; skip {
			continue
		}
		if _, ok := covered[tok]; ok {
			continue
		}
		if counts[tok] == 0 {
			order = append(order, tok)
		}
		counts[tok]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > 5 {
		order = order[:5]
	}

	state.EvidenceLog = append(state.EvidenceLog, Evidence{
		Kind:       EvidenceContextDatum,
		Payload:    map[string]any{"unaddressed_terms": order},
		AtRevision: state.Revision,
	})
}

// execConfidenceUpdate renormalizes and reranks the frontier.
func (e *Engine) execConfidenceUpdate(state *AgentState) {
	renormalize(&state.Belief)
	rerank(&state.Belief)
	state.EvidenceLog = append(state.EvidenceLog, Evidence{
		Kind:       EvidenceContextDatum,
		Payload:    map[string]any{"confidence_update": "normalized"},
		AtRevision: state.Revision,
	})
}

// ============================================================================
// Finalization
// ============================================================================

// finalize closes the session with the given exit reason and builds the
// result from the current frontier. Finalization executes no action, so the
// revision counter stays where the last executed action left it.
func (e *Engine) finalize(state *AgentState, reason ExitReason) (StepOutcome, error) {
	renormalize(&state.Belief)
	rerank(&state.Belief)
	state.ExitFlags[string(reason)] = true

	result := &AgentResult{
		ExitReason:     reason,
		ReasoningTrail: buildTrail(state),
	}

	bs := &state.Belief
	if len(bs.TopIDs) > 0 {
		top := nodeByID(bs, bs.TopIDs[0])
		result.ConfirmedCrux = ConfirmedCrux{
			NodeID:     top.NodeID,
			Text:       top.Text,
			Confidence: bs.Probs[top.NodeID],
		}
		for _, id := range bs.TopIDs[1:] {
			p := bs.Probs[id]
			if p <= secondaryThemeFloor {
				continue
			}
			node := nodeByID(bs, id)
			result.SecondaryThemes = append(result.SecondaryThemes, SecondaryTheme{
				NodeID:     node.NodeID,
				Text:       node.Text,
				Confidence: p,
			})
		}
	} else {
		result.ConfirmedCrux = ConfirmedCrux{
			Text:       fallbackCruxText,
			Confidence: 0.5,
		}
	}

	if err := e.signState(state); err != nil {
		return StepOutcome{}, err
	}
	e.tracker.RecordSessionEnd(string(reason), state.Revision, state.BudgetUsed)
	e.log.Info("session completed",
		"state_id", state.StateID,
		"exit_reason", string(reason),
		"revision", state.Revision,
		"budget_used", state.BudgetUsed,
		"crux_confidence", result.ConfirmedCrux.Confidence)
	return StepOutcome{Complete: true, State: state, Result: result}, nil
}

// buildTrail writes the human-readable session summary.
func buildTrail(state *AgentState) string {
	bs := &state.Belief
	parts := []string{
		fmt.Sprintf("Session completed after %d steps, using %d user queries.",
			state.Revision, state.BudgetUsed),
	}

	if len(bs.TopIDs) > 0 {
		parts = append(parts, fmt.Sprintf("Explored %d hypotheses:", len(bs.Nodes)))
		for i, id := range bs.TopIDs {
			if i >= 3 {
				break
			}
			node := nodeByID(bs, id)
			parts = append(parts, fmt.Sprintf("%d. %s (confidence: %.2f)",
				i+1, node.Text, bs.Probs[id]))
		}
	} else {
		parts = append(parts, "Session ended without clear crux identification.")
	}

	answers := 0
	for _, ev := range state.EvidenceLog {
		if ev.Kind == EvidenceUserAnswer {
			answers++
		}
	}
	if answers > 0 {
		parts = append(parts, fmt.Sprintf(
			"Collected %d pieces of evidence through user interactions.", answers))
	}
	return strings.Join(parts, " ")
}

// finalizeCrisis terminates immediately with the fixed crisis result. It
// bypasses belief math entirely.
func (e *Engine) finalizeCrisis(state *AgentState) (StepOutcome, error) {
	state.ExitFlags["crisis"] = true
	state.ExitFlags[string(ExitGuardrail)] = true

	result := &AgentResult{
		ConfirmedCrux: ConfirmedCrux{
			Text:       crisisCruxText,
			Confidence: 1.0,
		},
		ReasoningTrail: fmt.Sprintf(
			"Session terminated early due to distress indicators detected. "+
				"Crisis intervention protocols activated. Session duration: %d steps.",
			state.Revision),
		ExitReason:      ExitGuardrail,
		CrisisResources: safety.CrisisResources(),
	}

	if err := e.signState(state); err != nil {
		return StepOutcome{}, err
	}
	e.tracker.RecordCrisis()
	e.tracker.RecordSessionEnd(string(ExitGuardrail), state.Revision, state.BudgetUsed)
	e.log.Warn("session terminated by crisis guardrail",
		"state_id", state.StateID,
		"revision", state.Revision)
	return StepOutcome{Complete: true, State: state, Result: result}, nil
}

// ============================================================================
// Integrity
// ============================================================================

// canonicalPayload serializes the state for signing with the signature field
// excluded. encoding/json sorts map keys, so the bytes are deterministic for
// a given state.
func canonicalPayload(state *AgentState) ([]byte, error) {
	unsigned := *state
	unsigned.Integrity = ""
	payload, err := json.Marshal(&unsigned)
	if err != nil {
		return nil, fmt.Errorf("serialize state %s: %w", state.StateID, err)
	}
	return payload, nil
}

// signState stamps the state with a fresh signature. A nil signer leaves it
// unsigned.
func (e *Engine) signState(state *AgentState) error {
	if e.signer == nil {
		state.Integrity = ""
		return nil
	}
	payload, err := canonicalPayload(state)
	if err != nil {
		return err
	}
	state.Integrity = e.signer.Sign(payload)
	return nil
}

// verifyState checks a present signature. States without one pass through:
// an unsigned engine never stamps, and verification is only mandatory once a
// signature exists.
func (e *Engine) verifyState(state *AgentState) error {
	if e.signer == nil || state.Integrity == "" {
		return nil
	}
	payload, err := canonicalPayload(state)
	if err != nil {
		return err
	}
	if !e.signer.Verify(payload, state.Integrity) {
		return fmt.Errorf("%w: state %s revision %d",
			ErrIntegrityMismatch, state.StateID, state.Revision)
	}
	return nil
}
