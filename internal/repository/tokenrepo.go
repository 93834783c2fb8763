package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/offer-desk/internal/model"
)

// TokenRepository stores signature tokens by hash. Records are never deleted.
type TokenRepository interface {
	// Create inserts a new unused token.
	Create(ctx context.Context, t *model.SignatureToken) error
	// Consume atomically marks the token with the given hash as used at now, provided it is
	// unused and not expired at now. Any other case yields errs.ErrInvalidOrExpiredToken.
	Consume(ctx context.Context, hash []byte, now time.Time) (*model.SignatureToken, error)
	// ConsumeForOffer is Consume plus a check, in the same transaction, that the owning
	// offer is in status want. On mismatch nothing is written and errs.ErrIllegalTransition
	// is returned.
	ConsumeForOffer(ctx context.Context, hash []byte, now time.Time, want model.OfferStatus) (*model.SignatureToken, error)
	// ListByOffer returns the tokens issued for an offer, oldest first.
	ListByOffer(ctx context.Context, offerID uuid.UUID) ([]model.SignatureToken, error)
}
