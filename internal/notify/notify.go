// Package notify delivers offer links to candidates.
package notify

import (
	"context"
	"time"
)

// OfferNotice is everything a candidate email needs.
type OfferNotice struct {
	To            string
	CandidateName string
	Link          string
	CompanyName   string
	ExpireAt      *time.Time
}

// Notifier sends offer notices. Ready reports whether the transport is configured;
// callers skip sending when it returns an error.
type Notifier interface {
	SendOffer(ctx context.Context, n OfferNotice) error
	Ready() error
}
