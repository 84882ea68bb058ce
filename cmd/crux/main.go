// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command crux runs crux-discovery sessions from the terminal.
//
// The session command embeds the discovery engine directly, so no server
// is required: narratives come from arguments, a file, or stdin, and
// clarifying questions are answered inline. The stats and archive
// commands talk to a running cruxd server and Google Cloud Storage
// respectively.
//
// Usage:
//
//	crux session "I haven't slept since the reorg was announced."
//	crux session -f journal.txt -o result.json
//	cat journal.txt | crux session --plain
//	crux stats --server http://localhost:12210
//	crux archive result.json --project my-proj --bucket crux-archive --sa-key key.json
package main

import (
	"log"
)

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
