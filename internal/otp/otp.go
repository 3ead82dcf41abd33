// Package otp issues the 6-digit handoff codes used to prove physical
// possession at pickup and delivery.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	// Digits in a code. Codes are handled as strings end to end so
	// leading zeros survive transport.
	Digits = 6

	// DefaultCooldown is the minimum interval between regenerations of
	// the same code. Verification attempts are not throttled here.
	DefaultCooldown = 300 * time.Second

	// MaxAttempts is the number of failed verifications before the code
	// is invalidated and a new one must be requested.
	MaxAttempts = 5
)

var codeSpace = big.NewInt(1_000_000)

// Generate returns a cryptographically random 6-digit code, zero-padded.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("otp: generate random: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// CooldownRemaining returns how long until a code last requested at
// requestedAt may be regenerated. Zero means regeneration is allowed.
func CooldownRemaining(requestedAt *time.Time, now time.Time, cooldown time.Duration) time.Duration {
	if requestedAt == nil {
		return 0
	}
	remaining := cooldown - now.Sub(*requestedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
