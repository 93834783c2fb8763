package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/offer-desk/internal/errs"
	"github.com/and161185/offer-desk/internal/lifecycle"
	"github.com/and161185/offer-desk/internal/model"
)

const offerCols = `id, candidate_id, job_title, salary, start_date, expire_at, status,
html_body, html_path, pdf_path, signed_html_path, signed_pdf_path, signed_at, signed_by_name,
created_at, updated_at`

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// OfferRepo implements OfferRepository using PostgreSQL.
type OfferRepo struct{ db *DB }

// NewOfferRepo constructs an offer repository.
func NewOfferRepo(db *DB) *OfferRepo { return &OfferRepo{db: db} }

func scanOffer(row pgx.Row) (*model.Offer, error) {
	var (
		o      model.Offer
		status string
	)
	if err := row.Scan(
		&o.ID, &o.CandidateID, &o.JobTitle, &o.Salary, &o.StartDate, &o.ExpireAt, &status,
		&o.MarkupBody, &o.MarkupPath, &o.PDFPath, &o.SignedHTML, &o.SignedPDF, &o.SignedAt, &o.SignedByName,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.Status = model.OfferStatus(status)
	return &o, nil
}

// Create inserts a new Draft offer and fills server-side timestamps.
func (r *OfferRepo) Create(ctx context.Context, o *model.Offer) error {
	const q = `
INSERT INTO offers (id, candidate_id, job_title, salary, start_date, expire_at, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at, updated_at`
	o.Status = model.StatusDraft
	err := r.db.Pool.QueryRow(ctx, q, o.ID, o.CandidateID, o.JobTitle, o.Salary, o.StartDate, o.ExpireAt, string(o.Status)).
		Scan(&o.CreatedAt, &o.UpdatedAt)
	if isForeignKeyViolation(err) {
		return errs.ErrCandidateNotFound
	}
	return err
}

// Get selects an offer by ID.
func (r *OfferRepo) Get(ctx context.Context, id uuid.UUID) (*model.Offer, error) {
	q := `SELECT ` + offerCols + ` FROM offers WHERE id=$1`
	o, err := scanOffer(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrOfferNotFound
		}
		return nil, err
	}
	return o, nil
}

// List returns offers matching f ordered by creation time, newest first.
func (r *OfferRepo) List(ctx context.Context, f model.OfferFilter) ([]model.Offer, error) {
	var (
		where []string
		args  []any
	)
	switch {
	case f.Status == model.StatusSent && !f.AsOf.IsZero():
		args = append(args, f.AsOf)
		where = append(where, fmt.Sprintf("status='Sent' AND (expire_at IS NULL OR expire_at > $%d)", len(args)))
	case f.Status == model.StatusExpired && !f.AsOf.IsZero():
		args = append(args, f.AsOf)
		where = append(where, fmt.Sprintf("(status='Expired' OR (status='Sent' AND expire_at <= $%d))", len(args)))
	case f.Status != "":
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if f.CandidateID != uuid.Nil {
		args = append(args, f.CandidateID)
		where = append(where, fmt.Sprintf("candidate_id=$%d", len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + offerCols + ` FROM offers`)
	if len(where) > 0 {
		sb.WriteString(` WHERE ` + strings.Join(where, " AND "))
	}
	args = append(args, limit, offset)
	fmt.Fprintf(&sb, ` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// UpdateDraft rewrites the business fields of a Draft offer.
func (r *OfferRepo) UpdateDraft(ctx context.Context, id uuid.UUID, in model.OfferInput) (*model.Offer, error) {
	q := `
UPDATE offers
SET job_title=$2, salary=$3, start_date=$4, expire_at=$5, updated_at=now()
WHERE id=$1 AND status='Draft'
RETURNING ` + offerCols
	o, err := scanOffer(r.db.Pool.QueryRow(ctx, q, id, in.JobTitle, in.Salary, in.StartDate, in.ExpireAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.explainMiss(ctx, id, model.StatusDraft)
	}
	return o, err
}

// SetOriginalDocuments records the original artifacts while the offer is a Draft.
func (r *OfferRepo) SetOriginalDocuments(ctx context.Context, id uuid.UUID, docs model.OriginalDocuments) (*model.Offer, error) {
	q := `
UPDATE offers
SET html_path=$2, html_body=$3, pdf_path=$4, updated_at=now()
WHERE id=$1 AND status='Draft'
RETURNING ` + offerCols
	o, err := scanOffer(r.db.Pool.QueryRow(ctx, q, id, docs.MarkupPath, docs.MarkupBody, docs.PDFPath))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.explainMiss(ctx, id, model.StatusDraft)
	}
	return o, err
}

// Transition sets status to `to` only if the offer is currently in `from`.
func (r *OfferRepo) Transition(ctx context.Context, id uuid.UUID, from, to model.OfferStatus) (*model.Offer, error) {
	if err := lifecycle.Check(from, to); err != nil {
		return nil, err
	}
	q := `
UPDATE offers
SET status=$3, updated_at=now()
WHERE id=$1 AND status=$2
RETURNING ` + offerCols
	o, err := scanOffer(r.db.Pool.QueryRow(ctx, q, id, string(from), string(to)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.explainMiss(ctx, id, to)
	}
	return o, err
}

// RecordSignature applies the from -> to signing move and writes the signature
// fields. The signed_at IS NULL guard keeps them write-once.
func (r *OfferRepo) RecordSignature(ctx context.Context, id uuid.UUID, from, to model.OfferStatus, rec model.SignatureRecord) (*model.Offer, error) {
	if err := lifecycle.Check(from, to); err != nil {
		return nil, err
	}
	q := `
UPDATE offers
SET status=$3, signed_at=$4, signed_by_name=$5, signed_html_path=$6, signed_pdf_path=$7, updated_at=now()
WHERE id=$1 AND status=$2 AND signed_at IS NULL
RETURNING ` + offerCols
	o, err := scanOffer(r.db.Pool.QueryRow(ctx, q, id, string(from), string(to), rec.SignedAt, rec.SignerName, rec.HTMLPath, rec.PDFPath))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.explainMiss(ctx, id, to)
	}
	return o, err
}

// explainMiss turns a conditional update that matched nothing into ErrOfferNotFound
// or a transition error carrying the current status.
func (r *OfferRepo) explainMiss(ctx context.Context, id uuid.UUID, to model.OfferStatus) error {
	const q = `SELECT status FROM offers WHERE id=$1`
	var cur string
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&cur); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrOfferNotFound
		}
		return err
	}
	return &lifecycle.TransitionError{From: model.OfferStatus(cur), To: to}
}
