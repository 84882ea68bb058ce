// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command cruxd starts the crux-discovery API server.
//
// The server exposes the discovery engine over HTTP: stateless init/step
// endpoints, an interactive WebSocket session endpoint, Prometheus metrics,
// and a tracker summary.
//
// Usage:
//
//	go run ./cmd/cruxd
//	CRUXD_PORT=9090 go run ./cmd/cruxd
//
// With hosted generation:
//
//	LLM_BACKEND_TYPE=openai OPENAI_API_KEY=sk-... go run ./cmd/cruxd
//
// Example requests:
//
//	# Health check
//	curl http://localhost:12210/health
//
//	# Start a session
//	curl -X POST http://localhost:12210/v1/agent/init \
//	  -H "Content-Type: application/json" \
//	  -d '{"text": "My job drains me and my partner feels distant."}'
//
//	# Advance it (round-trip the returned state)
//	curl -X POST http://localhost:12210/v1/agent/step \
//	  -H "Content-Type: application/json" \
//	  -d '{"state": {...}}'
package main

import (
	"log"

	"github.com/AleutianAI/CruxDiscovery/services/crux/server"
)

func main() {
	if err := server.Run(server.FromEnv()); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
