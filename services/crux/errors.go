// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package crux

import "errors"

var (
	// ErrNilState is returned when Step receives a nil state.
	ErrNilState = errors.New("agent state must not be nil")

	// ErrEmptyNarrative is returned when InitSession receives no text.
	ErrEmptyNarrative = errors.New("journal narrative must not be empty")

	// ErrIntegrityMismatch is returned when the state's signature does not
	// verify. The state is rejected outright as possibly tampered or
	// corrupted; no processing of it occurs.
	ErrIntegrityMismatch = errors.New("state integrity check failed")

	// ErrUserEventMismatch is returned when a user event references an
	// action id other than the most recently emitted AskUser action.
	// No state mutation occurs.
	ErrUserEventMismatch = errors.New("user event does not answer the last AskUser action")

	// ErrUnknownActionType is returned when an action envelope carries a
	// type outside the closed set.
	ErrUnknownActionType = errors.New("unknown action type")
)
