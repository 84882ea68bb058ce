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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/CruxDiscovery/pkg/logging"
	"github.com/AleutianAI/CruxDiscovery/pkg/ux"
	"github.com/AleutianAI/CruxDiscovery/pkg/validation"
	"github.com/AleutianAI/CruxDiscovery/services/crux"
	"github.com/AleutianAI/CruxDiscovery/services/crux/integrity"
	"github.com/AleutianAI/CruxDiscovery/services/crux/llm"
	"github.com/AleutianAI/CruxDiscovery/services/crux/safety"
)

// runSessionCommand runs the full discovery loop in-process.
func runSessionCommand(cmd *cobra.Command, args []string) {
	narrative, err := resolveNarrative(args)
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
	if narrative == "" {
		ux.Error("No narrative provided. Pass one as an argument, via --file, or on stdin.")
		os.Exit(1)
	}

	eng, err := buildEngine()
	if err != nil {
		ux.Error(fmt.Sprintf("Could not build the discovery engine: %v", err))
		os.Exit(1)
	}
	defer integrity.PurgeSecrets()

	reader := NewInteractiveInputReader(50)
	runner := NewSessionRunner(eng, reader, os.Stdout)
	runner.Interactive = !ux.Plain() &&
		(isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := runner.Run(ctx, narrative)
	if err != nil {
		if errors.Is(err, ErrSessionAborted) {
			ux.Warning("Session aborted before completion")
			return
		}
		ux.Error(fmt.Sprintf("Session failed: %v", err))
		os.Exit(1)
	}

	if outputPath != "" {
		if err := writeResult(outputPath, result); err != nil {
			ux.Error(fmt.Sprintf("Could not write result: %v", err))
			os.Exit(1)
		}
		ux.Success(fmt.Sprintf("Result written to %s", outputPath))
	}
}

// resolveNarrative collects the journal text from, in order of precedence:
// the --file flag, positional arguments, piped stdin, or an interactive
// editor prompt on a real terminal. Whatever the source, the text is
// normalized through validation.SanitizeNarrative before the engine sees it.
func resolveNarrative(args []string) (string, error) {
	raw, err := rawNarrative(args)
	if err != nil {
		return "", err
	}
	return validation.SanitizeNarrative(raw)
}

func rawNarrative(args []string) (string, error) {
	if narrativeFile != "" {
		data, err := os.ReadFile(narrativeFile)
		if err != nil {
			return "", fmt.Errorf("read narrative file: %w", err)
		}
		return string(data), nil
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read narrative from stdin: %w", err)
		}
		return string(data), nil
	}
	return promptNarrative()
}

// buildEngine assembles an engine matching the cruxd server's wiring,
// minus the Prometheus tracker: a one-shot CLI process has nothing to
// scrape.
func buildEngine() (*crux.Engine, error) {
	guard, err := safety.NewGuardrail()
	if err != nil {
		return nil, fmt.Errorf("compile guardrail patterns: %w", err)
	}
	if path := os.Getenv("CRUX_PATTERN_OVERRIDES"); path != "" {
		if err := guard.ReloadFromFile(path); err != nil {
			ux.Warning(fmt.Sprintf("Pattern override load failed, keeping embedded catalog: %v", err))
		}
	}

	backend := backendType
	if backend == "" {
		backend = os.Getenv("LLM_BACKEND_TYPE")
	}
	var genClient llm.Client
	if backend == "openai" {
		c, err := llm.NewOpenAIClient(llm.OpenAIConfig{})
		if err != nil {
			return nil, fmt.Errorf("init OpenAI client: %w", err)
		}
		genClient = c
	}

	// Session output owns stdout; engine internals log to stderr and only
	// when something goes wrong. Redaction keeps journal text out of any
	// log line regardless of level.
	applog := logging.New(logging.Config{
		Level:      logging.LevelWarn,
		Service:    "crux",
		RedactKeys: logging.DefaultRedactKeys,
	})

	return crux.NewEngine(
		crux.WithLLM(genClient),
		crux.WithGuardrail(guard),
		crux.WithSigner(integrity.NewSignerFromEnv()),
		crux.WithLogger(applog.Slog()),
	)
}

func writeResult(path string, res *crux.AgentResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
