// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package crux

import (
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/textsplitter"
)

// Similarity here is purely lexical token overlap. Embeddings are out of
// scope for this engine; the merge radius and coverage math are calibrated
// against Jaccard over lowercased word sets.

// seedChunkSize bounds how much narrative each seeding prompt sees.
const seedChunkSize = 1000

// seedChunkOverlap keeps sentence context across chunk boundaries.
const seedChunkOverlap = 100

// maxSeedChunks bounds how many chunks of a long narrative are used for
// hypothesis seeding.
const maxSeedChunks = 3

// tokenSet lowercases text and splits it into a set of word tokens.
// Punctuation separates tokens; an empty input yields an empty set.
func tokenSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})

	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}

// tokenList is tokenSet preserving order and duplicates, for frequency
// mining.
func tokenList(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// tokenCount returns the number of word tokens in text.
func tokenCount(text string) int {
	return len(strings.Fields(text))
}

// jaccard computes |a ∩ b| / |a ∪ b| over two token sets.
//
// Two empty sets are defined as identical (1.0); one empty set against a
// non-empty one is fully dissimilar (0.0).
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}

	intersection := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// textSimilarity is jaccard over the token sets of two strings.
func textSimilarity(a, b string) float64 {
	return jaccard(tokenSet(a), tokenSet(b))
}

// overlapCount returns how many tokens of vocab appear in the reply set.
func overlapCount(vocab, reply map[string]struct{}) int {
	n := 0
	for tok := range vocab {
		if _, ok := reply[tok]; ok {
			n++
		}
	}
	return n
}

// truncateText hard-caps text at limit runes, trimming trailing space.
func truncateText(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimRight(string(runes[:limit]), " ")
}

// chunkNarrative splits a long narrative into seed-sized chunks, capped at
// maxSeedChunks. Short narratives come back as a single chunk. Splitter
// failures degrade to the truncated narrative rather than propagating.
func chunkNarrative(text string) []string {
	if len(text) <= seedChunkSize {
		return []string{text}
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(seedChunkSize),
		textsplitter.WithChunkOverlap(seedChunkOverlap),
		textsplitter.WithSeparators([]string{"\n\n", "\n", ". ", " ", ""}),
	)

	chunks, err := splitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		return []string{truncateText(text, seedChunkSize)}
	}

	if len(chunks) > maxSeedChunks {
		chunks = chunks[:maxSeedChunks]
	}
	return chunks
}

// sentenceEnders terminate a sentence for the lightweight splitter.
var sentenceEnders = map[rune]struct{}{'.': {}, '!': {}, '?': {}, '\n': {}}

// splitSentences breaks text into trimmed sentences. The splitter is
// deliberately simple; it feeds evidence extraction, not NLP.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	for _, r := range text {
		if _, end := sentenceEnders[r]; end {
			if s := strings.TrimSpace(cur.String()); s != "" {
				sentences = append(sentences, s)
			}
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// stopwords are excluded when mining the narrative for unaddressed terms.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "if": {},
	"of": {}, "at": {}, "by": {}, "for": {}, "with": {}, "about": {},
	"to": {}, "from": {}, "in": {}, "on": {}, "is": {}, "are": {}, "was": {},
	"were": {}, "be": {}, "been": {}, "being": {}, "have": {}, "has": {},
	"had": {}, "do": {}, "does": {}, "did": {}, "i": {}, "me": {}, "my": {},
	"we": {}, "our": {}, "you": {}, "your": {}, "he": {}, "she": {}, "it": {},
	"they": {}, "them": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"as": {}, "so": {}, "just": {}, "like": {}, "really": {}, "very": {},
	"im": {}, "its": {}, "ive": {}, "dont": {}, "cant": {},
}

// negationCues are tokens that flip an entailment nudge into a damp for
// untargeted nodes.
var negationCues = map[string]struct{}{
	"not":     {},
	"no":      {},
	"never":   {},
	"don't":   {},
	"doesn't": {},
	"didn't":  {},
	"isn't":   {},
	"wasn't":  {},
	"can't":   {},
	"won't":   {},
	"nothing": {},
	"none":    {},
}

// containsNegation reports whether any negation cue appears in the token set.
func containsNegation(tokens map[string]struct{}) bool {
	for cue := range negationCues {
		if _, ok := tokens[cue]; ok {
			return true
		}
	}
	return false
}
