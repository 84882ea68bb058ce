// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crux

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/CruxDiscovery/services/crux/llm"
)

// ============================================================================
// Prompts
// ============================================================================

// seedPrompt asks for the initial hypothesis set over one narrative chunk.
const seedPrompt = `Analyze this journal entry and identify 2-4 potential root issues (crux hypotheses) that might underlie the writer's concerns. For each hypothesis, provide:
1. A concise statement of the potential core issue
2. Brief supporting evidence from the text

Journal entry:
%s

Focus on underlying themes rather than surface symptoms.`

// expandPrompt asks for one additional hypothesis distinct from the current
// frontier.
const expandPrompt = `Based on this journal entry and current hypotheses, suggest one additional potential root issue that has not been considered.

Journal entry:
%s

Current hypotheses:
%s

Provide a new hypothesis that explores a different angle. State it in one concise sentence.`

// counterfactualPrompt probes which of two hypotheses the entry supports
// once the weaker one is imagined away.
const counterfactualPrompt = `Consider these two hypotheses about the journal entry below:
A: %s
B: %s

Journal entry:
%s

If hypothesis A were false, which parts of the entry would remain unexplained? Answer in one or two sentences, then on a final line state which hypothesis the entry supports more strongly: A, B, or NEITHER.`

// evidencePrompt extracts one aspect of the narrative verbatim.
const evidencePrompt = `From the journal entry below, quote the one sentence that best reveals the writer's %s. Reply with the quote only, or NONE if no sentence qualifies.

Journal entry:
%s`

// silencePrompt looks for what the current hypotheses fail to address.
const silencePrompt = `These hypotheses are under consideration for the journal entry below:
%s

Journal entry:
%s

Name the most significant aspect of the entry that none of the hypotheses address, in one short sentence. Reply NONE if the hypotheses cover everything important.`

// evidenceAspects phrase each request kind for the extraction prompt.
var evidenceAspects = map[EvidenceRequestKind]string{
	RequestTimeline:    "timeline (when the events happened and how long they have been going on)",
	RequestConstraints: "constraints (what limits or obligations restrict their choices)",
	RequestGoals:       "goals (what they want or are trying to achieve)",
	RequestNorms:       "norms (what they feel they should do or are expected to do)",
}

// expandNarrativeLen bounds how much narrative the expansion prompt repeats.
const expandNarrativeLen = 500

// expandTextLen bounds the text taken from an expansion response.
const expandTextLen = 200

// maxSeedHypotheses caps the initial frontier size.
const maxSeedHypotheses = 4

var (
	seedMaxTokens     = 300
	expandMaxTokens   = 120
	analysisMaxTokens = 150
	genTemperature    = float32(0.7)

	seedGenParams     = llm.GenerationParams{Temperature: &genTemperature, MaxTokens: &seedMaxTokens}
	expandGenParams   = llm.GenerationParams{Temperature: &genTemperature, MaxTokens: &expandMaxTokens}
	analysisGenParams = llm.GenerationParams{Temperature: &genTemperature, MaxTokens: &analysisMaxTokens}
)

// ============================================================================
// Deterministic fallbacks
// ============================================================================

// Fallback texts for the generation surfaces. These are fixed so a session
// without a working backend still behaves identically run to run.
const (
	// fallbackSeedText seeds the frontier when generation fails outright.
	fallbackSeedText = "Unspecified inner conflict or challenge"

	// fallbackParseText seeds the frontier when generation succeeded but
	// yielded nothing parseable.
	fallbackParseText = "Core challenge requiring exploration"

	// fallbackExpandText is the hypothesis added when expansion fails.
	fallbackExpandText = "Alternative perspective needed"
)

// seedRule is one deterministic seeding rule: if the narrative mentions
// enough of the keywords, the rule contributes its hypothesis.
type seedRule struct {
	theme    string
	keywords []string
	text     string
}

// seedRules map common narrative vocabulary onto starting hypotheses.
// Ordering matters: earlier rules produce earlier nodes, which keeps the
// fallback frontier deterministic.
var seedRules = []seedRule{
	{
		theme:    "work",
		keywords: []string{"work", "job", "boss", "career", "deadline", "deadlines", "coworker", "workload", "office", "meeting", "meetings", "promotion"},
		text:     "Work-related strain or loss of professional direction",
	},
	{
		theme:    "relationships",
		keywords: []string{"partner", "friend", "friends", "family", "relationship", "marriage", "husband", "wife", "alone", "lonely", "distant", "disconnected"},
		text:     "Strain or disconnection in close relationships",
	},
	{
		theme:    "self-worth",
		keywords: []string{"failure", "failing", "worthless", "inadequate", "enough", "confidence", "ashamed", "shame", "doubt", "useless"},
		text:     "Diminished sense of self-worth or competence",
	},
	{
		theme:    "health",
		keywords: []string{"tired", "sleep", "sleeping", "exhausted", "sick", "pain", "energy", "health", "appetite", "drained"},
		text:     "Physical depletion or unaddressed health strain",
	},
	{
		theme:    "transition",
		keywords: []string{"change", "changes", "moving", "decision", "decisions", "future", "uncertain", "stuck", "transition", "leaving", "quit"},
		text:     "Unresolved decision or life transition",
	},
	{
		theme:    "meaning",
		keywords: []string{"meaning", "purpose", "empty", "pointless", "direction", "lost", "why"},
		text:     "Loss of meaning or purpose in daily life",
	},
}

// fallbackSeedNodes derives a starting frontier from narrative vocabulary
// alone. When at least two theme rules match, each contributes a hypothesis
// with the matched words as support; otherwise the frontier is a single
// generic node, to be sharpened by questioning.
func fallbackSeedNodes(narrative string) []CruxNode {
	tokens := tokenSet(narrative)

	var nodes []CruxNode
	for _, rule := range seedRules {
		var hits []string
		for _, kw := range rule.keywords {
			if _, ok := tokens[kw]; ok {
				hits = append(hits, kw)
			}
		}
		if len(hits) == 0 {
			continue
		}
		node := NewCruxNode(rule.text)
		node.Supports = []string{"mentions " + strings.Join(hits, ", ")}
		nodes = append(nodes, node)
		if len(nodes) >= maxSeedHypotheses {
			break
		}
	}

	if len(nodes) < 2 {
		return []CruxNode{NewCruxNode(fallbackSeedText)}
	}
	return nodes
}

// ============================================================================
// Response parsing
// ============================================================================

// hypothesisMarker matches the list markers models use for enumerations:
// "1.", "2)", "-", "•", "*".
var hypothesisMarker = regexp.MustCompile(`^(\d+[.)]|[-•*])\s*`)

// parseHypotheses extracts hypotheses from a generated response. Lines
// opening with a list marker start a node; lines opening with "evidence:"
// or "support:" attach to the most recent node. Everything else is ignored.
func parseHypotheses(response string, max int) []CruxNode {
	var nodes []CruxNode

	for _, raw := range strings.Split(response, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if marker := hypothesisMarker.FindString(line); marker != "" {
			text := strings.Trim(strings.TrimSpace(line[len(marker):]), "*")
			if text == "" {
				continue
			}
			if len(nodes) >= max {
				break
			}
			nodes = append(nodes, NewCruxNode(text))
			continue
		}

		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "evidence:") || strings.HasPrefix(lower, "support:") {
			if len(nodes) == 0 {
				continue
			}
			support := strings.TrimSpace(line[strings.Index(line, ":")+1:])
			if support != "" {
				last := &nodes[len(nodes)-1]
				last.Supports = append(last.Supports, support)
			}
		}
	}

	return nodes
}

// firstHypothesisText pulls a single hypothesis out of an expansion
// response: the first marked list item if any, otherwise the first
// non-empty line.
func firstHypothesisText(response string) string {
	if nodes := parseHypotheses(response, 1); len(nodes) > 0 {
		return truncateText(nodes[0].Text, expandTextLen)
	}
	for _, raw := range strings.Split(response, "\n") {
		line := strings.TrimSpace(raw)
		if line != "" {
			return truncateText(line, expandTextLen)
		}
	}
	return ""
}

// ============================================================================
// Generation entry points
// ============================================================================

// seedHypotheses produces the initial frontier for a narrative. Long
// narratives are chunked and each chunk prompted separately; results
// accumulate up to the seed cap. Backend absence or failure falls back to
// the deterministic rule table; a backend that answers with nothing
// parseable yields the generic exploration node.
func (e *Engine) seedHypotheses(ctx context.Context, narrative string) []CruxNode {
	if e.llm == nil {
		return fallbackSeedNodes(narrative)
	}

	var nodes []CruxNode
	failures := 0
	chunks := chunkNarrative(narrative)

	for _, chunk := range chunks {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerateTimeout)
		response, err := e.llm.Generate(callCtx, fmt.Sprintf(seedPrompt, chunk), seedGenParams)
		cancel()
		if err != nil {
			e.log.Warn("hypothesis seeding failed for chunk", "error", err)
			failures++
			continue
		}
		for _, node := range parseHypotheses(response, maxSeedHypotheses-len(nodes)) {
			nodes = append(nodes, node)
		}
		if len(nodes) >= maxSeedHypotheses {
			break
		}
	}

	if len(nodes) > 0 {
		return nodes
	}

	e.tracker.RecordFallback("seed")
	if failures == len(chunks) {
		e.log.Warn("hypothesis seeding failed on every chunk, using deterministic fallback")
		return fallbackSeedNodes(narrative)
	}
	return []CruxNode{NewCruxNode(fallbackParseText)}
}

// expandHypothesis asks the backend for one hypothesis distinct from the
// current frontier. The bool is false when the caller should use the
// deterministic fallback instead.
func (e *Engine) expandHypothesis(ctx context.Context, state *AgentState) (CruxNode, bool) {
	if e.llm == nil {
		return CruxNode{}, false
	}

	var current []string
	for _, i := range activeIndices(&state.Belief) {
		current = append(current, "- "+state.Belief.Nodes[i].Text)
	}

	prompt := fmt.Sprintf(expandPrompt,
		truncateText(state.JournalEntry.Text, expandNarrativeLen),
		strings.Join(current, "\n"))

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerateTimeout)
	response, err := e.llm.Generate(callCtx, prompt, expandGenParams)
	cancel()
	if err != nil {
		e.log.Warn("hypothesis expansion failed", "error", err)
		return CruxNode{}, false
	}

	text := firstHypothesisText(response)
	if text == "" {
		return CruxNode{}, false
	}
	return NewCruxNode(text), true
}

// counterfactualAnalysis asks the backend which of two hypotheses the entry
// supports once the other is imagined away. favored is +1 for the first,
// -1 for the second, 0 for neither; ok is false when the caller should run
// the deterministic probe instead.
func (e *Engine) counterfactualAnalysis(ctx context.Context, state *AgentState, a, b *CruxNode) (analysis string, favored int, ok bool) {
	if e.llm == nil {
		return "", 0, false
	}

	prompt := fmt.Sprintf(counterfactualPrompt,
		truncateText(a.Text, expandTextLen),
		truncateText(b.Text, expandTextLen),
		truncateText(state.JournalEntry.Text, expandNarrativeLen))

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerateTimeout)
	response, err := e.llm.Generate(callCtx, prompt, analysisGenParams)
	cancel()
	if err != nil {
		e.log.Warn("counterfactual analysis failed", "error", err)
		return "", 0, false
	}
	response = strings.TrimSpace(response)
	if response == "" {
		return "", 0, false
	}

	lines := strings.Split(response, "\n")
	verdict := tokenSet(lines[len(lines)-1])
	if _, neither := verdict["neither"]; !neither {
		if _, isB := verdict["b"]; isB {
			favored = -1
		} else if _, isA := verdict["a"]; isA {
			favored = 1
		}
	}
	return truncateText(response, maxNodeTextLen), favored, true
}

// extractEvidence asks the backend for a verbatim quote revealing the
// requested aspect of the narrative.
func (e *Engine) extractEvidence(ctx context.Context, state *AgentState, kind EvidenceRequestKind) (string, bool) {
	if e.llm == nil {
		return "", false
	}

	prompt := fmt.Sprintf(evidencePrompt, evidenceAspects[kind],
		truncateText(state.JournalEntry.Text, expandNarrativeLen))

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerateTimeout)
	response, err := e.llm.Generate(callCtx, prompt, analysisGenParams)
	cancel()
	if err != nil {
		e.log.Warn("evidence extraction failed", "kind", string(kind), "error", err)
		return "", false
	}

	quote := strings.Trim(strings.TrimSpace(response), `"`)
	if quote == "" || strings.EqualFold(quote, "none") {
		return "", false
	}
	return truncateText(quote, maxNodeTextLen), true
}

// silenceAnalysis asks the backend what the active hypotheses fail to
// address in the narrative.
func (e *Engine) silenceAnalysis(ctx context.Context, state *AgentState) (string, bool) {
	if e.llm == nil {
		return "", false
	}

	var current []string
	for _, i := range activeIndices(&state.Belief) {
		current = append(current, "- "+state.Belief.Nodes[i].Text)
	}

	prompt := fmt.Sprintf(silencePrompt,
		strings.Join(current, "\n"),
		truncateText(state.JournalEntry.Text, expandNarrativeLen))

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerateTimeout)
	response, err := e.llm.Generate(callCtx, prompt, analysisGenParams)
	cancel()
	if err != nil {
		e.log.Warn("silence analysis failed", "error", err)
		return "", false
	}

	insight := strings.TrimSpace(response)
	if insight == "" || strings.EqualFold(insight, "none") {
		return "", false
	}
	return truncateText(insight, maxNodeTextLen), true
}
