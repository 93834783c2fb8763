package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/offer-desk/internal/errs"
	"github.com/and161185/offer-desk/internal/model"
)

// TokenRepo implements TokenRepository using PostgreSQL.
type TokenRepo struct{ db *DB }

// NewTokenRepo constructs a signature token repository.
func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

const consumeSQL = `
UPDATE offer_signature_tokens
SET used_at = $2
WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
RETURNING id, offer_id, token_hash, expires_at, used_at, created_at`

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func consume(ctx context.Context, q queryRower, hash []byte, now time.Time) (*model.SignatureToken, error) {
	var t model.SignatureToken
	err := q.QueryRow(ctx, consumeSQL, hash, now).
		Scan(&t.ID, &t.OfferID, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrInvalidOrExpiredToken
		}
		return nil, err
	}
	return &t, nil
}

// Create inserts a new unused token.
func (r *TokenRepo) Create(ctx context.Context, t *model.SignatureToken) error {
	const q = `
INSERT INTO offer_signature_tokens (id, offer_id, token_hash, expires_at)
VALUES ($1, $2, $3, $4)
RETURNING created_at`
	err := r.db.Pool.QueryRow(ctx, q, t.ID, t.OfferID, t.TokenHash, t.ExpiresAt).Scan(&t.CreatedAt)
	switch {
	case isForeignKeyViolation(err):
		return errs.ErrOfferNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("token hash collision: %w", err)
	}
	return err
}

// Consume marks the token as used in a single conditional UPDATE. Two concurrent
// callers serialize on the row lock; the second re-evaluates used_at IS NULL and
// matches nothing.
func (r *TokenRepo) Consume(ctx context.Context, hash []byte, now time.Time) (*model.SignatureToken, error) {
	return consume(ctx, r.db.Pool, hash, now)
}

// ConsumeForOffer consumes the token and locks its offer in one transaction. If the
// offer is not in want, the transaction rolls back and the token stays unused.
func (r *TokenRepo) ConsumeForOffer(ctx context.Context, hash []byte, now time.Time, want model.OfferStatus) (tok *model.SignatureToken, err error) {
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		t, err := consume(ctx, tx, hash, now)
		if err != nil {
			return err
		}
		const sel = `SELECT status FROM offers WHERE id=$1 FOR UPDATE`
		var cur string
		if err := tx.QueryRow(ctx, sel, t.OfferID).Scan(&cur); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return errs.ErrOfferNotFound
			}
			return err
		}
		if model.OfferStatus(cur) != want {
			return fmt.Errorf("offer %s is %s, want %s: %w", t.OfferID, cur, want, errs.ErrIllegalTransition)
		}
		tok = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// ListByOffer returns all tokens issued for an offer, oldest first.
func (r *TokenRepo) ListByOffer(ctx context.Context, offerID uuid.UUID) ([]model.SignatureToken, error) {
	const q = `
SELECT id, offer_id, token_hash, expires_at, used_at, created_at
FROM offer_signature_tokens
WHERE offer_id=$1
ORDER BY created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, offerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SignatureToken
	for rows.Next() {
		var t model.SignatureToken
		if err = rows.Scan(&t.ID, &t.OfferID, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
