// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for untrusted free text.
//
// Journal narratives arrive from HTTP bodies, WebSocket frames, files,
// and interactive prompts, and flow from there into generation prompts
// and log pipelines. These validators bound their size and strip the
// byte sequences that have no business in prose before the engine sees
// them.
package validation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNarrativeChars caps narrative length in runes. Long entries are
// chunked downstream before seeding, so the cap protects the service,
// not the analysis. The init endpoint's binding tag mirrors this value.
const MaxNarrativeChars = 16384

// ValidateNarrative checks a narrative for well-formedness.
//
// Rejected:
//   - more than MaxNarrativeChars runes
//   - invalid UTF-8
//   - NUL bytes
//
// Emptiness is deliberately not checked here; the engine owns that rule
// and reports it under its own error.
//
// Example:
//
//	if err := validation.ValidateNarrative(text); err != nil {
//	    return nil, fmt.Errorf("invalid narrative: %w", err)
//	}
func ValidateNarrative(text string) error {
	if n := utf8.RuneCountInString(text); n > MaxNarrativeChars {
		return fmt.Errorf("narrative length %d exceeds the %d character limit", n, MaxNarrativeChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("narrative is not valid UTF-8")
	}
	if strings.ContainsRune(text, 0) {
		return fmt.Errorf("narrative contains a NUL byte")
	}
	return nil
}

// SanitizeNarrative normalizes and validates a narrative.
//
// Normalization:
//   - CRLF and lone CR become LF
//   - control characters other than newline and tab are dropped
//   - undecodable bytes are replaced with U+FFFD
//   - surrounding whitespace is trimmed
//
// The length cap still applies to the normalized text. Unlike
// ValidateNarrative, malformed UTF-8 is repaired rather than rejected:
// a journal entry pasted from a lossy source should not bounce over a
// stray byte.
//
//	text, err := validation.SanitizeNarrative(userInput)
//	if err != nil {
//	    return err
//	}
//	state, err := eng.InitSession(ctx, text)
func SanitizeNarrative(text string) (string, error) {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	normalized = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, normalized)
	normalized = strings.TrimSpace(normalized)

	if err := ValidateNarrative(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
