// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package integrity signs and verifies serialized session state. The caller
// holds state between turns, so every state that comes back must prove it
// is the one the engine handed out: an HMAC over the canonical serialization
// travels with the state and is checked before any processing.
package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// DefaultSecret is the development fallback signing secret. Production
// deployments must override it via CRUX_INTEGRITY_SECRET or the container
// secret file.
const DefaultSecret = "default-crux-secret"

// secretFilePath is where the container runtime mounts the signing secret.
const secretFilePath = "/run/secrets/crux_integrity_secret"

// minMlockLimitKB is the minimum mlock limit needed to hold signing keys in
// locked memory. Keys are small; a single page is plenty.
const minMlockLimitKB = 64

var (
	// memguardInitOnce ensures memguard initialization happens only once.
	memguardInitOnce sync.Once

	// mlockSufficient records whether locked memory is available.
	mlockSufficient bool

	// currentMlockLimitKB stores the current mlock limit for logging.
	currentMlockLimitKB int64
)

// Signer computes and verifies HMAC-SHA256 signatures over serialized
// state.
//
// # Description
//
// The signing key lives in a memguard locked buffer: mlocked so it never
// swaps to disk, guarded against overflow, and wiped on Destroy. Signatures
// are hex encoded; verification is constant time.
//
// # Thread Safety
//
// Safe for concurrent use after construction. Destroy must not race with
// Sign or Verify.
type Signer struct {
	key *memguard.LockedBuffer
}

// NewSigner creates a signer from a secret. The secret slice is wiped as it
// moves into locked memory; callers must not reuse it.
func NewSigner(secret []byte) *Signer {
	initMemguard()
	return &Signer{key: memguard.NewBufferFromBytes(secret)}
}

// NewSignerFromEnv resolves the signing secret from CRUX_INTEGRITY_SECRET,
// then the container secret file, then the development default (with a
// warning).
func NewSignerFromEnv() *Signer {
	if secret := os.Getenv("CRUX_INTEGRITY_SECRET"); secret != "" {
		return NewSigner([]byte(secret))
	}

	if raw, err := os.ReadFile(secretFilePath); err == nil {
		slog.Info("Read the integrity signing secret from container secrets")
		return NewSigner([]byte(strings.TrimSpace(string(raw))))
	}

	slog.Warn("CRUX_INTEGRITY_SECRET not set, using development default secret")
	return NewSigner([]byte(DefaultSecret))
}

// Sign returns the hex-encoded HMAC-SHA256 of payload.
func (s *Signer) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.key.Bytes())
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches payload. Comparison is constant
// time regardless of where the signatures diverge.
func (s *Signer) Verify(payload []byte, signature string) bool {
	expected := s.Sign(payload)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// Destroy wipes the signing key from memory. The signer is unusable
// afterwards.
func (s *Signer) Destroy() {
	s.key.Destroy()
}

// PurgeSecrets wipes all memguard-allocated memory. Call during graceful
// shutdown.
func PurgeSecrets() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}

// initMemguard installs the memguard interrupt handler and checks mlock
// limits once per process. Keys still work without locked memory; the check
// exists so constrained systems get a clear log line instead of silent
// degradation.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("Secure key memory initialized",
				"mlock_limit_kb", currentMlockLimitKB,
				"required_kb", minMlockLimitKB,
			)
		} else {
			slog.Warn("mlock limit low, signing keys may not stay in locked memory",
				"current_limit_kb", currentMlockLimitKB,
				"required_kb", minMlockLimitKB,
			)
		}
	})
}

// checkMlockLimit queries the kernel for the mlock resource limit.
// Returns whether the limit meets minMlockLimitKB and the limit in KB
// (-1 if unlimited).
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}

	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}

	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= minMlockLimitKB, limitKB
}

// MlockStatus returns whether locked memory is available and the current
// limit in KB (-1 if unlimited). Useful for startup diagnostics.
func MlockStatus() (bool, int64) {
	initMemguard()
	return mlockSufficient, currentMlockLimitKB
}

// String implements fmt.Stringer without exposing key material.
func (s *Signer) String() string {
	return fmt.Sprintf("integrity.Signer(key=%d bytes)", s.key.Size())
}
