// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file defines the InputReader abstraction for the session loop,
// enabling mocked input in unit tests and history-aware interactive
// input in a real terminal.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// =============================================================================
// InputReader Interface
// =============================================================================

// InputReader abstracts user input reading for testability.
//
// # Description
//
// InputReader enables mocking of stdin in unit tests. Production
// implementation wraps bufio.Reader; test implementation returns
// predetermined inputs.
//
// # Outputs
//
// ReadLine returns the line read (trimmed) and any error.
// Returns io.EOF when input is exhausted.
//
// # Limitations
//
//   - Does not support multi-line input
//
// # Assumptions
//
//   - Input source is line-oriented
type InputReader interface {
	// ReadLine reads a single line of input, trimmed of surrounding
	// whitespace. Blocks until input is available; returns io.EOF when
	// the input source is exhausted.
	ReadLine() (string, error)
}

// PromptingInputReader extends InputReader with prompt display capability.
//
// # Description
//
// PromptingInputReader is implemented by input readers that handle their own
// prompt display (like interactive readers with bubbletea). The session
// runner checks for this interface to avoid double-prompting.
//
// # Usage
//
//	if p, ok := reader.(PromptingInputReader); ok {
//	    p.SetPrompt(promptString)
//	    // Reader will display prompt
//	} else {
//	    fmt.Print(promptString)
//	    // Manually display prompt
//	}
//	line, err := reader.ReadLine()
type PromptingInputReader interface {
	InputReader
	// SetPrompt sets the prompt string to display before input.
	SetPrompt(prompt string)
}

// =============================================================================
// StdinReader Implementation
// =============================================================================

// StdinReader implements InputReader for production stdin reading.
//
// # Description
//
// StdinReader wraps bufio.Reader to read lines from os.Stdin.
// This is the production implementation; tests use MockInputReader.
//
// # Thread Safety
//
// Not thread-safe. Single reader per stdin. Do not share across goroutines.
//
// # Limitations
//
//   - Blocks until input available
//   - No line editing support (no up-arrow history, no tab completion)
type StdinReader struct {
	reader *bufio.Reader
}

// NewStdinReader creates a new StdinReader wrapping os.Stdin.
func NewStdinReader() *StdinReader {
	return &StdinReader{
		reader: bufio.NewReader(os.Stdin),
	}
}

// ReadLine reads a single line from stdin, trimmed. Returns io.EOF when
// stdin is closed.
func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// =============================================================================
// InteractiveInputReader Implementation (with history)
// =============================================================================

// InteractiveInputReader implements InputReader with history navigation.
//
// # Description
//
// InteractiveInputReader uses charmbracelet/bubbletea to provide an
// interactive input experience with:
//   - Up/down arrow history navigation
//   - Line editing (Ctrl+A, Ctrl+E, etc.)
//   - Proper terminal handling
//
// Falls back to StdinReader for non-TTY environments (piped input, CI/CD).
//
// # Fields
//
//   - history: Slice of previous inputs (most recent last)
//   - historyIndex: Current position when navigating history (-1 = new input)
//   - maxHistory: Maximum number of history entries to keep
//   - prompt: The prompt string to display
//
// # Thread Safety
//
// Not thread-safe. Single reader per stdin. Do not share across goroutines.
//
// # Limitations
//
//   - History is in-memory only (not persisted across sessions)
type InteractiveInputReader struct {
	history      []string
	historyIndex int
	maxHistory   int
	prompt       string
}

// inputModel is the bubbletea model for interactive input.
type inputModel struct {
	textInput    textinput.Model
	history      []string
	historyIndex int
	currentInput string // Stores current input when navigating history
	done         bool
	cancelled    bool
}

// NewInteractiveInputReader creates an interactive input reader with history.
//
// If stdin is not a TTY, returns a StdinReader instead so piped input
// still works. The reader displays its own prompt; set it via SetPrompt.
func NewInteractiveInputReader(maxHistory int) InputReader {
	// Fall back to basic stdin reader for non-TTY (piped input, CI/CD)
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return NewStdinReader()
	}

	return &InteractiveInputReader{
		history:      make([]string, 0, maxHistory),
		historyIndex: -1,
		maxHistory:   maxHistory,
		prompt:       "> ", // Default prompt, can be overridden via SetPrompt
	}
}

// SetPrompt sets the prompt string to display before input.
func (r *InteractiveInputReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

// ReadLine reads a single line with interactive history support.
//
// # Description
//
// Displays a prompt and reads user input with support for:
//   - Up arrow: Previous history entry
//   - Down arrow: Next history entry
//   - Enter: Submit input
//   - Ctrl+C: Cancel current input (returns empty string)
//   - Ctrl+D: EOF (returns io.EOF)
//
// Successfully submitted non-empty inputs are added to history.
func (r *InteractiveInputReader) ReadLine() (string, error) {
	// Create text input model
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Focus()
	ti.CharLimit = 4096
	ti.Width = 80

	m := inputModel{
		textInput:    ti,
		history:      r.history,
		historyIndex: -1,
		currentInput: "",
		done:         false,
		cancelled:    false,
	}

	// Run the bubbletea program
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr))
	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	// Defensive type assertion - finalModel should never be nil when err is nil,
	// but we check anyway to prevent potential panic
	result, ok := finalModel.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", finalModel)
	}

	// Handle Ctrl+D (EOF)
	if result.cancelled && result.textInput.Value() == "" {
		return "", io.EOF
	}

	// Get the final input value
	input := strings.TrimSpace(result.textInput.Value())

	// Add non-empty inputs to history
	if input != "" {
		r.addToHistory(input)
	}

	return input, nil
}

// addToHistory adds an input to the history buffer.
func (r *InteractiveInputReader) addToHistory(input string) {
	// Don't add duplicates of the most recent entry
	if len(r.history) > 0 && r.history[len(r.history)-1] == input {
		return
	}

	r.history = append(r.history, input)

	// Trim history if it exceeds max size
	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

// Init initializes the bubbletea model.
func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles input events for the bubbletea model.
func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlC:
			// Clear input and return empty
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlD:
			// EOF - signal to exit
			m.cancelled = true
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyUp:
			// Navigate to previous history entry
			if len(m.history) == 0 {
				return m, nil
			}

			// Save current input when first entering history
			if m.historyIndex == -1 {
				m.currentInput = m.textInput.Value()
				m.historyIndex = len(m.history) - 1
			} else if m.historyIndex > 0 {
				m.historyIndex--
			}

			m.textInput.SetValue(m.history[m.historyIndex])
			m.textInput.CursorEnd()
			return m, nil

		case tea.KeyDown:
			// Navigate to next history entry
			if m.historyIndex == -1 {
				return m, nil
			}

			if m.historyIndex < len(m.history)-1 {
				m.historyIndex++
				m.textInput.SetValue(m.history[m.historyIndex])
			} else {
				// Return to current input
				m.historyIndex = -1
				m.textInput.SetValue(m.currentInput)
			}
			m.textInput.CursorEnd()
			return m, nil
		}
	}

	// Handle other input
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// View renders the input prompt.
func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return m.textInput.View()
}

// =============================================================================
// Quick-Reply Select (TTY only)
// =============================================================================

// selectQuickReply presents question's quick-reply options as an arrow-key
// select. Returns huh.ErrUserAborted if the user escapes out, in which
// case the caller should fall back to free-text input.
func selectQuickReply(question string, options []string) (string, error) {
	var choice string
	err := huh.NewSelect[string]().
		Title(question).
		Options(huh.NewOptions(options...)...).
		Value(&choice).
		Run()
	if err != nil {
		return "", err
	}
	return choice, nil
}

// promptNarrative opens a multi-line editor for describing what is on the
// user's mind. Used when the session command is launched with no narrative
// argument on a real terminal.
func promptNarrative() (string, error) {
	var text string
	err := huh.NewText().
		Title("What's been weighing on you?").
		Description("Write freely. The session starts when you submit.").
		CharLimit(8192).
		Value(&text).
		Run()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// =============================================================================
// MockInputReader Implementation (for testing)
// =============================================================================

// MockInputReader implements InputReader for testing.
//
// # Description
//
// MockInputReader returns predetermined inputs for unit testing the
// session runner without requiring actual user input. Each call to
// ReadLine returns the next input in sequence; after all inputs are
// consumed, ReadLine returns io.EOF.
//
// # Thread Safety
//
// Not thread-safe. Designed for single-threaded tests.
type MockInputReader struct {
	inputs []string
	index  int
}

// NewMockInputReader creates a MockInputReader with predetermined inputs.
func NewMockInputReader(inputs []string) *MockInputReader {
	return &MockInputReader{
		inputs: inputs,
		index:  0,
	}
}

// ReadLine returns the next predetermined input, then io.EOF when
// exhausted. Does not block.
func (m *MockInputReader) ReadLine() (string, error) {
	if m.index >= len(m.inputs) {
		return "", io.EOF
	}
	line := m.inputs[m.index]
	m.index++
	return line, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// isExitCommand checks if the input is an exit command.
//
// Returns true if the input matches "exit" or "quit" (case-sensitive).
// Assumes the input is already trimmed.
func isExitCommand(input string) bool {
	return input == "exit" || input == "quit"
}
