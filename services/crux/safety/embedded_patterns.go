// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package safety

import (
	_ "embed"
)

// DefaultPatterns holds the raw byte content of the 'patterns.yaml' file.
//
// This variable is populated at compile-time using the Go 'embed' directive.
// Baking the screening patterns into the binary guarantees the crisis
// tripwire is always present, even when no override file is deployed.
//
// Usage:
//
//	// Pass these bytes directly to yaml.Unmarshal
//	err := yaml.Unmarshal(safety.DefaultPatterns, &targetStruct)
//
//go:embed patterns.yaml
var DefaultPatterns []byte
