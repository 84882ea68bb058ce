// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package safety

import (
	"os"
	"path/filepath"
	"testing"
)

func newGuardrail(t *testing.T) *Guardrail {
	t.Helper()
	g, err := NewGuardrail()
	if err != nil {
		t.Fatalf("NewGuardrail: %v", err)
	}
	return g
}

func TestCheckDistress(t *testing.T) {
	g := newGuardrail(t)

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"suicidality", "sometimes I want to kill myself", true},
		{"suicidality capitalized", "I Want To Die most mornings", true},
		{"self harm", "I have been cutting again", true},
		{"self harm hyphenated", "thoughts of self-harm come back", true},
		{"hopelessness", "it all feels hopeless", true},
		{"hopelessness phrase", "there is no point anymore", true},
		{"harm exposure", "the violence at home is getting worse", true},
		{"benign work stress", "my job is exhausting and my boss is unfair", false},
		{"benign sadness", "I have been sad and tired for weeks", false},
		{"substring is not a word match", "the skill myself and I built", false},
		{"empty", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := g.CheckDistress(tc.text); got != tc.want {
				t.Errorf("CheckDistress(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

// Screening must be pure: the same text gives the same answer no matter how
// often or in what order checks run.
func TestCheckDistressIsPure(t *testing.T) {
	g := newGuardrail(t)
	const crisis = "I want to end my life"
	const benign = "a long week at the office"

	for i := 0; i < 50; i++ {
		if !g.CheckDistress(crisis) {
			t.Fatal("crisis text stopped matching")
		}
		if g.CheckDistress(benign) {
			t.Fatal("benign text started matching")
		}
	}
}

func TestScreenQuestion(t *testing.T) {
	g := newGuardrail(t)

	tests := []struct {
		name       string
		question   string
		categories []string
	}{
		{
			"clean comparison",
			"Which resonates more with your experience: work strain or relationship strain?",
			nil,
		},
		{
			"leading",
			"Obviously the deadline is the real problem, right?",
			[]string{"leading"},
		},
		{
			"prescriptive",
			"You should feel relieved now that the decision is made?",
			[]string{"prescriptive"},
		},
		{
			"absolutist",
			"Does everyone always treat you this way?",
			[]string{"absolutist"},
		},
		{
			"multiple flags",
			"Clearly you ought to push back, since nobody respects limits?",
			[]string{"prescriptive", "leading", "absolutist"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			flags := g.ScreenQuestion(tc.question)
			if len(flags) != len(tc.categories) {
				t.Fatalf("got %d flags %v, want %d", len(flags), flags, len(tc.categories))
			}
			for i, cat := range tc.categories {
				if flags[i].Category != cat {
					t.Errorf("flag %d category = %q, want %q", i, flags[i].Category, cat)
				}
				if flags[i].Match == "" {
					t.Errorf("flag %d carries no matched fragment", i)
				}
			}
		})
	}
}

func TestReloadFromFile(t *testing.T) {
	g := newGuardrail(t)

	override := filepath.Join(t.TempDir(), "patterns.yaml")
	content := `distress:
  - name: custom
    pattern: '\bforbidden phrase\b'
bias:
  - name: custom_bias
    pattern: '\bsurely\b'
`
	if err := os.WriteFile(override, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := g.ReloadFromFile(override); err != nil {
		t.Fatalf("ReloadFromFile: %v", err)
	}

	if !g.CheckDistress("this contains the forbidden phrase somewhere") {
		t.Error("override pattern should match after reload")
	}
	if g.CheckDistress("I want to kill myself") {
		t.Error("embedded patterns should be fully replaced by the override")
	}
	if flags := g.ScreenQuestion("Surely this is the cause?"); len(flags) != 1 {
		t.Errorf("expected one bias flag from the override, got %v", flags)
	}
}

func TestReloadFromFileKeepsOldSetOnError(t *testing.T) {
	g := newGuardrail(t)

	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "distress: ["},
		{"invalid regexp", "distress:\n  - name: broken\n    pattern: '('\n"},
		{"no distress patterns", "bias:\n  - name: only\n    pattern: 'x'\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if err := g.ReloadFromFile(path); err == nil {
				t.Fatal("expected reload to fail")
			}
			if !g.CheckDistress("I want to kill myself") {
				t.Error("a failed reload must leave the previous catalog active")
			}
		})
	}
}

func TestReloadFromFileMissing(t *testing.T) {
	g := newGuardrail(t)
	if err := g.ReloadFromFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestCrisisResources(t *testing.T) {
	res := CrisisResources()

	if res["crisis_detected"] != true {
		t.Error("payload must mark crisis_detected")
	}
	if res["message"] == "" {
		t.Error("payload must carry a message")
	}

	resources, ok := res["resources"].([]map[string]string)
	if !ok || len(resources) == 0 {
		t.Fatalf("payload must list support resources, got %T", res["resources"])
	}

	var lifeline, textline bool
	for _, r := range resources {
		switch r["number"] {
		case "988":
			lifeline = true
		case "Text HOME to 741741":
			textline = true
		}
	}
	if !lifeline {
		t.Error("missing the 988 lifeline")
	}
	if !textline {
		t.Error("missing the crisis text line")
	}
}

// The payload is static content; two calls must not share mutable maps.
func TestCrisisResourcesIsolated(t *testing.T) {
	first := CrisisResources()
	first["crisis_detected"] = false

	if CrisisResources()["crisis_detected"] != true {
		t.Error("callers must not be able to corrupt the payload for others")
	}
}
