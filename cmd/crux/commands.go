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
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/CruxDiscovery/pkg/ux"
)

// --- Global Command Variables ---
var (
	plainOutput   bool
	narrativeFile string
	backendType   string // CLI override for LLM_BACKEND_TYPE (openai/heuristic)
	outputPath    string
	serverURL     string
	gcsProject    string
	gcsBucket     string
	gcsSAKey      string

	rootCmd = &cobra.Command{
		Use:   "crux",
		Short: "A cli for running crux-discovery sessions over journal narratives",
		Long: `Crux narrows competing hypotheses about the root cause of distress
				in a free-text journal entry, asking at most a handful of
				clarifying questions before naming the confirmed crux.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Styled output only when writing to a real terminal
			if plainOutput || (!isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())) {
				ux.SetPlain(true)
			}
		},
	}

	// --- Sessions ---
	sessionCmd = &cobra.Command{
		Use:   "session [narrative]",
		Short: "Run a discovery session over a journal entry",
		Long: `Runs the full discovery loop in-process. The narrative comes from the
				argument, --file, or piped stdin; when the engine needs an answer it
				prompts inline. Prints the confirmed crux when the session completes.`,
		Run: runSessionCommand, // Defined in cmd_session.go
	}

	// --- Stats ---
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate session counters from a running cruxd server",
		Run:   runStatsCommand, // Defined in cmd_stats.go
	}

	// --- GCS ---
	archiveCmd = &cobra.Command{
		Use:   "archive [result.json or directory]",
		Short: "Upload session results to Google Cloud Storage (GCS)",
		Args:  cobra.ExactArgs(1),
		Run:   runArchiveCommand, // Defined in cmd_archive.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().BoolVar(&plainOutput, "plain", false,
		"Unstyled line-oriented output for scripting")

	rootCmd.AddCommand(sessionCmd)
	sessionCmd.Flags().StringVarP(&narrativeFile, "file", "f", "",
		"Read the journal narrative from a file")
	sessionCmd.Flags().StringVar(&backendType, "backend", "",
		"Generation backend (openai or heuristic). Defaults to LLM_BACKEND_TYPE.")
	sessionCmd.Flags().StringVarP(&outputPath, "output", "o", "",
		"Write the session result JSON to a file (for crux archive)")

	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVar(&serverURL, "server", "http://localhost:12210",
		"Base URL of the cruxd server")

	rootCmd.AddCommand(archiveCmd)
	archiveCmd.Flags().StringVar(&gcsProject, "project", os.Getenv("CRUX_GCS_PROJECT"),
		"GCP project id (defaults to CRUX_GCS_PROJECT)")
	archiveCmd.Flags().StringVar(&gcsBucket, "bucket", os.Getenv("CRUX_GCS_BUCKET"),
		"GCS bucket name (defaults to CRUX_GCS_BUCKET)")
	archiveCmd.Flags().StringVar(&gcsSAKey, "sa-key", os.Getenv("CRUX_GCS_SA_KEY"),
		"Path to a service account key file (defaults to CRUX_GCS_SA_KEY)")
}
