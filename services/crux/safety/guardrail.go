// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package safety screens session text for crisis indicators and screens
// generated questions for bias. Distress detection is the one check in the
// system with absolute priority: it runs on every piece of user-supplied
// text before anything else touches it, and a match ends the session with
// fixed crisis resources rather than generated content.
package safety

import (
	"fmt"
	"os"
	"regexp"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// PatternSpec is one named screening pattern as it appears in the YAML
// catalog.
type PatternSpec struct {
	// Name identifies the pattern in logs and flags.
	Name string `yaml:"name"`
	// Pattern is a Go regular expression, applied case-insensitively.
	Pattern string `yaml:"pattern"`
}

// PatternFile is the schema of the screening catalog.
type PatternFile struct {
	// Distress patterns trip the crisis guardrail.
	Distress []PatternSpec `yaml:"distress"`
	// Bias patterns flag generated questions for review.
	Bias []PatternSpec `yaml:"bias"`
}

// compiledPattern pairs a catalog entry with its compiled form.
type compiledPattern struct {
	name string
	re   *regexp.Regexp
}

// patternSet is an immutable compiled catalog. Reloads swap the whole set.
type patternSet struct {
	distress []compiledPattern
	bias     []compiledPattern
}

// BiasFlag reports one bias-pattern match in a generated question.
type BiasFlag struct {
	// Category is the pattern name (prescriptive, leading, absolutist).
	Category string `json:"category"`
	// Match is the text fragment that triggered the flag.
	Match string `json:"match"`
}

// Guardrail performs distress and bias screening.
//
// # Description
//
// Holds a compiled pattern catalog, loaded from the embedded defaults and
// optionally replaced at runtime from an override file. Screening methods
// never mutate state, so identical input against the same catalog always
// yields the same answer.
//
// # Thread Safety
//
// Safe for concurrent use. Reloads swap the catalog atomically; in-flight
// checks finish against the set they started with.
type Guardrail struct {
	patterns atomic.Pointer[patternSet]
}

// NewGuardrail builds a guardrail from the embedded pattern catalog.
// Returns an error only if the embedded catalog is malformed, which means
// a broken build.
func NewGuardrail() (*Guardrail, error) {
	set, err := compilePatterns(DefaultPatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded screening patterns: %w", err)
	}
	g := &Guardrail{}
	g.patterns.Store(set)
	return g, nil
}

// ReloadFromFile replaces the active catalog with the contents of an
// override file. On any error the previous catalog stays active.
func (g *Guardrail) ReloadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read pattern override %s: %w", path, err)
	}
	set, err := compilePatterns(data)
	if err != nil {
		return fmt.Errorf("failed to compile pattern override %s: %w", path, err)
	}
	if len(set.distress) == 0 {
		return fmt.Errorf("pattern override %s has no distress patterns", path)
	}
	g.patterns.Store(set)
	return nil
}

// compilePatterns parses a YAML catalog and compiles every pattern with
// case-insensitive matching.
func compilePatterns(data []byte) (*patternSet, error) {
	var file PatternFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pattern file: %w", err)
	}

	compile := func(specs []PatternSpec) ([]compiledPattern, error) {
		out := make([]compiledPattern, 0, len(specs))
		for _, spec := range specs {
			re, err := regexp.Compile("(?i)" + spec.Pattern)
			if err != nil {
				return nil, fmt.Errorf("pattern %q: %w", spec.Name, err)
			}
			out = append(out, compiledPattern{name: spec.Name, re: re})
		}
		return out, nil
	}

	distress, err := compile(file.Distress)
	if err != nil {
		return nil, err
	}
	bias, err := compile(file.Bias)
	if err != nil {
		return nil, err
	}
	return &patternSet{distress: distress, bias: bias}, nil
}

// CheckDistress reports whether text matches any distress pattern.
//
// The check is pure: no session state is read or written, so it can be
// called from anywhere, including simulations, without side effects.
func (g *Guardrail) CheckDistress(text string) bool {
	set := g.patterns.Load()
	for _, p := range set.distress {
		if p.re.MatchString(text) {
			return true
		}
	}
	return false
}

// ScreenQuestion returns a flag for every bias pattern a generated question
// matches. Flags are advisory: the caller logs them and sends the question
// anyway. Tuning the catalog is how flagged phrasing gets fixed.
func (g *Guardrail) ScreenQuestion(question string) []BiasFlag {
	set := g.patterns.Load()
	var flags []BiasFlag
	for _, p := range set.bias {
		if m := p.re.FindString(question); m != "" {
			flags = append(flags, BiasFlag{Category: p.name, Match: m})
		}
	}
	return flags
}

// CrisisResources returns the fixed crisis-support payload attached to any
// guardrail termination. The content is deliberately static: crisis
// responses are never generated.
func CrisisResources() map[string]any {
	return map[string]any{
		"crisis_detected": true,
		"message":         "I've detected signs of distress in your writing. Your safety and wellbeing are important.",
		"resources": []map[string]string{
			{
				"name":        "National Suicide Prevention Lifeline",
				"number":      "988",
				"description": "24/7 crisis support",
			},
			{
				"name":        "Crisis Text Line",
				"number":      "Text HOME to 741741",
				"description": "24/7 text-based crisis support",
			},
		},
		"recommendation": "Please consider reaching out to a mental health professional or trusted person in your life.",
	}
}
