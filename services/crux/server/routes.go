// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/CruxDiscovery/services/crux"
	"github.com/AleutianAI/CruxDiscovery/services/crux/observability"
	"github.com/AleutianAI/CruxDiscovery/services/crux/telemetry"
)

// SetupRoutes registers all endpoints. The metrics route is skipped when
// telemetry has not been initialized (unit tests, heuristic-only tools).
func SetupRoutes(router *gin.Engine, eng *crux.Engine, tracker *observability.Tracker,
	sink *observability.SessionSink) {

	router.GET("/health", HealthCheck)
	if h := telemetry.MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		agent := v1.Group("/agent")
		{
			agent.POST("/init", HandleAgentInit(eng))
			agent.POST("/step", HandleAgentStep(eng))
			agent.GET("/stats", HandleAgentStats(tracker))
			agent.GET("/session/ws", HandleSessionWebSocket(eng, sink))
		}
	}
}
