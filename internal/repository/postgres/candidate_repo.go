package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/offer-desk/internal/errs"
	"github.com/and161185/offer-desk/internal/model"
)

// CandidateRepo implements CandidateRepository using PostgreSQL.
type CandidateRepo struct{ db *DB }

// NewCandidateRepo constructs a candidate directory.
func NewCandidateRepo(db *DB) *CandidateRepo { return &CandidateRepo{db: db} }

// GetByID selects a candidate by ID.
func (r *CandidateRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Candidate, error) {
	const q = `
SELECT id, first_name, last_name, email
FROM candidates WHERE id=$1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByEmail selects a candidate by email, ignoring case.
func (r *CandidateRepo) GetByEmail(ctx context.Context, email string) (*model.Candidate, error) {
	const q = `
SELECT id, first_name, last_name, email
FROM candidates WHERE lower(email)=$1`
	return r.scanOne(r.db.Pool.QueryRow(ctx, q, strings.ToLower(strings.TrimSpace(email))))
}

func (r *CandidateRepo) scanOne(row pgx.Row) (*model.Candidate, error) {
	var c model.Candidate
	if err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrCandidateNotFound
		}
		return nil, err
	}
	return &c, nil
}
