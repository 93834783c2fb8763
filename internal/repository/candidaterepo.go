// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/offer-desk/internal/model"
)

// CandidateRepository is the read-only candidate directory consulted by the offer workflow.
type CandidateRepository interface {
	// GetByID loads a candidate by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Candidate, error)
	// GetByEmail loads a candidate by email address.
	GetByEmail(ctx context.Context, email string) (*model.Candidate, error)
}
