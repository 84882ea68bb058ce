// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the crux-discovery engine over HTTP: stateless
// init/step endpoints for callers that round-trip signed state themselves,
// a WebSocket endpoint that owns the loop for interactive sessions, and the
// usual health/metrics/stats surface.
package server

import "os"

// Config collects the service's environment-driven settings. Telemetry has
// its own config (the OTEL_* variables) and the OpenAI client resolves its
// key and model itself; everything else lives here.
type Config struct {
	// Port is the HTTP listen port (CRUXD_PORT, default "12210").
	Port string

	// LLMBackend selects the generation backend (LLM_BACKEND_TYPE):
	// "openai" for hosted generation, anything else runs the engine's
	// deterministic heuristics.
	LLMBackend string

	// PatternOverridePath, when set, is a patterns file that replaces the
	// embedded guardrail catalog and is watched for edits
	// (CRUX_PATTERN_OVERRIDES).
	PatternOverridePath string

	// InfluxDB settings for the optional session sink. The sink stays
	// disabled unless both URL and token are present.
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// LogLevel is the minimum log level: debug, info, warn, error
	// (CRUX_LOG_LEVEL, default "info").
	LogLevel string

	// LogDir, when set, mirrors logs to a dated JSON file in that
	// directory alongside stderr (CRUX_LOG_DIR).
	LogDir string
}

// FromEnv builds a Config from the process environment.
func FromEnv() Config {
	return Config{
		Port:                getEnvOr("CRUXD_PORT", "12210"),
		LLMBackend:          getEnvOr("LLM_BACKEND_TYPE", "heuristic"),
		PatternOverridePath: os.Getenv("CRUX_PATTERN_OVERRIDES"),
		InfluxURL:           os.Getenv("INFLUXDB_URL"),
		InfluxToken:         os.Getenv("INFLUXDB_TOKEN"),
		InfluxOrg:           getEnvOr("INFLUXDB_ORG", "aleutian"),
		InfluxBucket:        getEnvOr("INFLUXDB_BUCKET", "crux_sessions"),
		LogLevel:            getEnvOr("CRUX_LOG_LEVEL", "info"),
		LogDir:              os.Getenv("CRUX_LOG_DIR"),
	}
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
