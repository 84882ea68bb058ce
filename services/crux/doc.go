// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package crux implements the crux-discovery loop: a stateful, turn-based
// decision engine that narrows a set of competing hypotheses about the root
// cause of distress described in a free-text journal narrative.
//
// The engine tracks beliefs over hypothesis nodes in log-odds space, selects
// the next action greedily by expected value of information minus cost, and
// terminates when a stopping rule fires (confidence threshold, information
// epsilon, question/step budget, or the safety guardrail).
//
// Session state is owned entirely by the caller: InitSession produces an
// AgentState, every Step call consumes one and returns a fresh copy with the
// revision advanced and the integrity signature recomputed. The engine holds
// no per-session storage, so arbitrarily many sessions can run in parallel
// with zero coordination.
//
// Thread Safety:
//
//	Engine methods are safe for concurrent use with independent states.
//	A single AgentState value must not be passed to concurrent Step calls.
package crux
