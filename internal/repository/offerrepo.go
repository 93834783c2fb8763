package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/offer-desk/internal/model"
)

// OfferRepository persists offers. Every mutation is conditional on the expected
// current status so that concurrent writers cannot both apply.
type OfferRepository interface {
	// Create inserts a new offer in Draft.
	Create(ctx context.Context, o *model.Offer) error
	// Get loads an offer by ID.
	Get(ctx context.Context, id uuid.UUID) (*model.Offer, error)
	// List returns offers matching the filter, newest first.
	List(ctx context.Context, f model.OfferFilter) ([]model.Offer, error)
	// UpdateDraft rewrites business fields while the offer is still a Draft.
	UpdateDraft(ctx context.Context, id uuid.UUID, in model.OfferInput) (*model.Offer, error)
	// SetOriginalDocuments records original artifacts on a Draft.
	SetOriginalDocuments(ctx context.Context, id uuid.UUID, docs model.OriginalDocuments) (*model.Offer, error)
	// Transition moves the offer from one status to another if it is currently in from.
	Transition(ctx context.Context, id uuid.UUID, from, to model.OfferStatus) (*model.Offer, error)
	// RecordSignature applies the signing transition from -> to and writes the
	// signature fields once.
	RecordSignature(ctx context.Context, id uuid.UUID, from, to model.OfferStatus, rec model.SignatureRecord) (*model.Offer, error)
}
