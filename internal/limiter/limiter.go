// Package limiter locks out origins that repeatedly present bad signature tokens.
package limiter

import (
	"context"
	"time"
)

// Limiter controls redemption attempts per (scope, origin) and temporary lockouts.
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and optional retry-after.
	Allow(ctx context.Context, scope string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful attempt.
	Success(ctx context.Context, scope string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, scope string, ipHash []byte) (bool, time.Duration, error)
}

// ScopeRedeem is the scope used for signature token redemption.
const ScopeRedeem = "redeem"
