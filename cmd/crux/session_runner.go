// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/AleutianAI/CruxDiscovery/pkg/ux"
	"github.com/AleutianAI/CruxDiscovery/services/crux"
)

// ErrSessionAborted is returned when the user quits mid-session via
// "exit", "quit", or closing stdin.
var ErrSessionAborted = errors.New("session aborted")

// SessionRunner drives a discovery session against an in-process engine,
// prompting for answers whenever the engine suspends on a question.
//
// # Description
//
// The runner owns the init/step loop: it initializes a session from the
// narrative, steps the engine until completion, and renders the final
// result. Questions are answered through the InputReader, which tests
// replace with a MockInputReader.
//
// # Thread Safety
//
// Not thread-safe. One runner per session.
type SessionRunner struct {
	eng    *crux.Engine
	reader InputReader
	writer io.Writer

	// Interactive enables arrow-key quick-reply selects. Leave false when
	// stdin is piped or output is plain.
	Interactive bool

	// MaxSteps sizes the progress indicator. Defaults to the engine's
	// standard step budget.
	MaxSteps int
}

// NewSessionRunner creates a runner writing session output to writer.
func NewSessionRunner(eng *crux.Engine, reader InputReader, writer io.Writer) *SessionRunner {
	return &SessionRunner{
		eng:      eng,
		reader:   reader,
		writer:   writer,
		MaxSteps: crux.DefaultConfig().MaxSteps,
	}
}

// Run executes the discovery loop until the session completes.
//
// Returns the terminal result, or ErrSessionAborted if the user quit
// before completion. A pre-cancelled context returns its error
// immediately.
func (r *SessionRunner) Run(ctx context.Context, narrative string) (*crux.AgentResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	state, err := r.eng.InitSession(ctx, narrative)
	if err != nil {
		return nil, err
	}
	r.printHeader(narrative, len(state.Belief.Nodes))

	var event *crux.UserEvent
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := r.eng.Step(ctx, state, event)
		if err != nil {
			return nil, err
		}
		state = out.State
		event = nil

		if out.Complete {
			r.renderResult(out.Result)
			return out.Result, nil
		}

		ask, ok := out.Action.(crux.AskUserAction)
		if !ok {
			// Only questions suspend the loop; anything else is a bug.
			return nil, fmt.Errorf("engine suspended on unexpected action %T", out.Action)
		}

		fmt.Fprintf(r.writer, "\n%s %s\n",
			ux.ProgressBar(state.Revision, r.MaxSteps, 16),
			ux.Styles.Muted.Render(fmt.Sprintf("question %d", state.BudgetUsed)))

		answer, err := r.promptAnswer(ask)
		if err != nil {
			return nil, err
		}
		event = &crux.UserEvent{AnswerTo: ask.ActionID, Value: answer}
	}
}

// promptAnswer collects an answer for the pending question. Interactive
// terminals get an arrow-key select over the quick replies; escaping the
// select, or running non-interactively, falls back to free-text input
// where a bare option number is accepted as shorthand.
func (r *SessionRunner) promptAnswer(ask crux.AskUserAction) (string, error) {
	if r.Interactive && len(ask.QuickOptions) > 0 {
		choice, err := selectQuickReply(ask.Question, ask.QuickOptions)
		if err == nil {
			fmt.Fprintf(r.writer, "%s %s\n", ux.IconArrow.Render(), choice)
			return choice, nil
		}
		if !errors.Is(err, huh.ErrUserAborted) {
			return "", err
		}
		// Escaped out of the select; fall through to free text.
	}

	r.printQuestion(ask)
	for {
		if p, ok := r.reader.(PromptingInputReader); ok {
			p.SetPrompt("> ")
		} else if !ux.Plain() {
			fmt.Fprint(r.writer, "> ")
		}

		line, err := r.reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", ErrSessionAborted
			}
			return "", err
		}
		if isExitCommand(line) {
			return "", ErrSessionAborted
		}
		if line == "" {
			continue
		}
		return resolveAnswer(line, ask.QuickOptions), nil
	}
}

// resolveAnswer maps a bare option number ("2") onto the corresponding
// quick-reply text. Anything else passes through unchanged.
func resolveAnswer(input string, options []string) string {
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(options) {
		return options[n-1]
	}
	return input
}

func (r *SessionRunner) printHeader(narrative string, hypotheses int) {
	if ux.Plain() {
		fmt.Fprintf(r.writer, "session started: %d hypotheses\n", hypotheses)
		return
	}
	header := ux.Styles.Title.Render("crux session") + "\n" +
		ux.Styles.Muted.Render("entry: ") + ux.Truncate(strings.TrimSpace(narrative), 52) + "\n" +
		ux.Styles.Muted.Render(fmt.Sprintf("opening hypotheses: %d", hypotheses))
	fmt.Fprintln(r.writer, ux.Styles.Box.Width(64).Render(header))
}

func (r *SessionRunner) printQuestion(ask crux.AskUserAction) {
	if ux.Plain() {
		fmt.Fprintf(r.writer, "Q: %s\n", ask.Question)
		for i, opt := range ask.QuickOptions {
			fmt.Fprintf(r.writer, "  %d. %s\n", i+1, opt)
		}
		return
	}
	fmt.Fprintf(r.writer, "\n%s %s\n", ux.IconArrow.Render(), ux.Styles.Highlight.Render(ask.Question))
	for i, opt := range ask.QuickOptions {
		fmt.Fprintf(r.writer, "  %s\n", ux.Styles.Subtitle.Render(fmt.Sprintf("%d. %s", i+1, opt)))
	}
	if ask.Rationale != "" {
		fmt.Fprintf(r.writer, "  %s\n", ux.Styles.Muted.Render(ask.Rationale))
	}
}

func (r *SessionRunner) renderResult(res *crux.AgentResult) {
	if res == nil {
		return
	}
	w := r.writer

	if ux.Plain() {
		fmt.Fprintf(w, "crux: %s\n", res.ConfirmedCrux.Text)
		fmt.Fprintf(w, "confidence: %.2f\n", res.ConfirmedCrux.Confidence)
		fmt.Fprintf(w, "exit: %s\n", res.ExitReason)
		for _, th := range res.SecondaryThemes {
			fmt.Fprintf(w, "theme: %s (%.2f)\n", th.Text, th.Confidence)
		}
		r.renderCrisisResources(res.CrisisResources)
		if res.ReasoningTrail != "" {
			fmt.Fprintf(w, "trail: %s\n", res.ReasoningTrail)
		}
		return
	}

	body := res.ConfirmedCrux.Text + "\n" +
		ux.Styles.Muted.Render(fmt.Sprintf("confidence %.0f%%, exit %s",
			res.ConfirmedCrux.Confidence*100, res.ExitReason))
	fmt.Fprintln(w)
	fmt.Fprintln(w, ux.Styles.Box.Width(64).Render(ux.Styles.Title.Render("Confirmed crux")+"\n"+body))

	if len(res.SecondaryThemes) > 0 {
		fmt.Fprintln(w, ux.Styles.Subtitle.Render("Also carrying weight:"))
		for _, th := range res.SecondaryThemes {
			fmt.Fprintf(w, "  %s %s %s\n", ux.IconBullet.Render(), th.Text,
				ux.Styles.Muted.Render(fmt.Sprintf("(%.0f%%)", th.Confidence*100)))
		}
	}

	r.renderCrisisResources(res.CrisisResources)

	if res.ReasoningTrail != "" {
		fmt.Fprintln(w, ux.Styles.Muted.Render(res.ReasoningTrail))
	}
}

// renderCrisisResources prints the fixed crisis-support payload. The
// payload shape is owned by the safety package; unknown keys are listed
// rather than dropped so nothing safety-relevant disappears silently.
func (r *SessionRunner) renderCrisisResources(m map[string]any) {
	if len(m) == 0 {
		return
	}
	w := r.writer

	var lines []string
	if msg, ok := m["message"].(string); ok {
		lines = append(lines, msg)
	}
	if rs, ok := m["resources"].([]map[string]string); ok {
		for _, res := range rs {
			lines = append(lines, fmt.Sprintf("%s: %s (%s)",
				res["name"], res["number"], res["description"]))
		}
	}
	if rec, ok := m["recommendation"].(string); ok {
		lines = append(lines, rec)
	}
	if len(lines) == 0 {
		// Unknown payload shape; dump keys sorted so the content still shows.
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %v", k, m[k]))
		}
	}

	if ux.Plain() {
		for _, l := range lines {
			fmt.Fprintf(w, "crisis: %s\n", l)
		}
		return
	}
	title := ux.Styles.Error.Bold(true).Render("Support resources")
	fmt.Fprintln(w, ux.Styles.ErrorBox.Width(64).Render(title+"\n"+strings.Join(lines, "\n")))
}
