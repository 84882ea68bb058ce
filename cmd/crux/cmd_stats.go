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
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/CruxDiscovery/pkg/ux"
	"github.com/AleutianAI/CruxDiscovery/services/crux/observability"
)

// runStatsCommand fetches and prints the aggregate counters from a
// running cruxd server.
func runStatsCommand(cmd *cobra.Command, args []string) {
	stats, err := fetchStats(serverURL)
	if err != nil {
		ux.Error(fmt.Sprintf("Could not fetch stats from %s: %v", serverURL, err))
		return
	}
	renderStats(stats)
}

func fetchStats(baseURL string) (observability.SummaryStats, error) {
	var stats observability.SummaryStats

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimSuffix(baseURL, "/") + "/v1/agent/stats")
	if err != nil {
		return stats, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("server returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, fmt.Errorf("decode stats response: %w", err)
	}
	return stats, nil
}

func renderStats(stats observability.SummaryStats) {
	ux.Title("cruxd session stats")
	ux.KeyValue("sessions started", strconv.FormatInt(stats.SessionsStarted, 10))
	ux.KeyValue("sessions completed", strconv.FormatInt(stats.SessionsCompleted, 10))
	ux.KeyValue("crisis activations", strconv.FormatInt(stats.CrisisActivations, 10))
	ux.KeyValue("bias flags", strconv.FormatInt(stats.BiasFlags, 10))
	ux.KeyValue("generation fallbacks", strconv.FormatInt(stats.GenerationFallbacks, 10))
	ux.KeyValue("integrity failures", strconv.FormatInt(stats.IntegrityFailures, 10))
	ux.KeyValue("ask-user rate", fmt.Sprintf("%.2f", stats.AskUserRate))
	ux.KeyValue("mean step latency", fmt.Sprintf("%.1f ms", stats.MeanStepLatencyMS))
	ux.KeyValue("mean entropy reduction", fmt.Sprintf("%.3f bits/turn", stats.MeanEntropyReduction))

	if len(stats.SessionsByExit) > 0 {
		ux.Info("by exit reason:")
		for _, k := range sortedKeys(stats.SessionsByExit) {
			ux.KeyValue("  "+k, strconv.FormatInt(stats.SessionsByExit[k], 10))
		}
	}
	if len(stats.ActionsByType) > 0 {
		ux.Info("actions taken:")
		for _, k := range sortedKeys(stats.ActionsByType) {
			ux.KeyValue("  "+k, strconv.FormatInt(stats.ActionsByType[k], 10))
		}
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
