// Package model defines domain entities used by services and repositories.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/offer-desk/internal/errs"
)

// OfferStatus is the lifecycle state of an offer. Values are the literal names exposed to callers.
type OfferStatus string

const (
	StatusDraft     OfferStatus = "Draft"
	StatusSent      OfferStatus = "Sent"
	StatusSigned    OfferStatus = "Signed"
	StatusExpired   OfferStatus = "Expired"
	StatusCancelled OfferStatus = "Cancelled"
)

// Valid reports whether s is one of the five known statuses.
func (s OfferStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusSigned, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// ParseOfferStatus accepts a status name case-insensitively.
func ParseOfferStatus(s string) (OfferStatus, error) {
	for _, st := range []OfferStatus{StatusDraft, StatusSent, StatusSigned, StatusExpired, StatusCancelled} {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", errs.ErrValidation, s)
}

// Candidate is the subset of the candidate record the offer workflow reads. Owned elsewhere.
type Candidate struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Email     string
}

// FullName joins first and last name, falling back to "Candidate".
func (c Candidate) FullName() string {
	name := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	if name == "" {
		return "Candidate"
	}
	return name
}

// Offer is a job offer together with its archived documents.
type Offer struct {
	ID           uuid.UUID   `json:"id"`
	CandidateID  uuid.UUID   `json:"candidate_id"`
	JobTitle     string      `json:"job_title"`
	Salary       string      `json:"salary"`
	StartDate    *time.Time  `json:"start_date"`
	ExpireAt     *time.Time  `json:"expire_at"` // bounds token validity
	Status       OfferStatus `json:"status"`
	MarkupBody   *string     `json:"-"` // rendered original kept verbatim for audit
	MarkupPath   *string     `json:"html_path"`
	PDFPath      *string     `json:"pdf_path"`
	SignedHTML   *string     `json:"signed_html_path"`
	SignedPDF    *string     `json:"signed_pdf_path"`
	SignedAt     *time.Time  `json:"signed_at"`
	SignedByName *string     `json:"signed_by_name"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// OfferInput carries the business fields supplied when an offer is created.
type OfferInput struct {
	JobTitle  string
	Salary    string
	StartDate *time.Time
	ExpireAt  *time.Time
}

// Validate checks required fields relative to now.
func (in OfferInput) Validate(now time.Time) error {
	if strings.TrimSpace(in.JobTitle) == "" {
		return fmt.Errorf("%w: empty job title", errs.ErrValidation)
	}
	if len(in.JobTitle) > 200 {
		return fmt.Errorf("%w: job title too long", errs.ErrValidation)
	}
	if len(in.Salary) > 100 {
		return fmt.Errorf("%w: salary too long", errs.ErrValidation)
	}
	if in.ExpireAt != nil && !in.ExpireAt.After(now) {
		return fmt.Errorf("%w: expire_at is in the past", errs.ErrValidation)
	}
	return nil
}

// OfferPatch is a partial update of the fields that may change while an offer is a draft.
// Nil fields are left untouched.
type OfferPatch struct {
	JobTitle  *string    `json:"job_title,omitempty"`
	Salary    *string    `json:"salary,omitempty"`
	StartDate *time.Time `json:"start_date,omitempty"`
	ExpireAt  *time.Time `json:"expire_at,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p OfferPatch) Empty() bool {
	return p.JobTitle == nil && p.Salary == nil && p.StartDate == nil && p.ExpireAt == nil
}

// Apply returns a copy of o's input fields with the patch applied.
func (p OfferPatch) Apply(o Offer) OfferInput {
	in := OfferInput{JobTitle: o.JobTitle, Salary: o.Salary, StartDate: o.StartDate, ExpireAt: o.ExpireAt}
	if p.JobTitle != nil {
		in.JobTitle = *p.JobTitle
	}
	if p.Salary != nil {
		in.Salary = *p.Salary
	}
	if p.StartDate != nil {
		in.StartDate = p.StartDate
	}
	if p.ExpireAt != nil {
		in.ExpireAt = p.ExpireAt
	}
	return in
}

// DecodeOfferPatch parses a JSON object into an OfferPatch. Unknown keys are rejected.
func DecodeOfferPatch(r io.Reader) (OfferPatch, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var p OfferPatch
	if err := dec.Decode(&p); err != nil {
		return OfferPatch{}, fmt.Errorf("%w: offer patch: %v", errs.ErrValidation, err)
	}
	if dec.More() {
		return OfferPatch{}, fmt.Errorf("%w: offer patch: trailing data", errs.ErrValidation)
	}
	return p, nil
}

// DecodeOfferPatchBytes is DecodeOfferPatch over a byte slice.
func DecodeOfferPatchBytes(b []byte) (OfferPatch, error) {
	return DecodeOfferPatch(bytes.NewReader(b))
}

// OfferFilter narrows offer listings. Zero values mean "any".
type OfferFilter struct {
	Status      OfferStatus
	CandidateID uuid.UUID
	Limit       int
	Offset      int
	// AsOf, when set, makes Status match the effective status at that instant:
	// Sent excludes offers past expire_at and Expired includes them.
	AsOf time.Time
}

// OriginalDocuments are the artifacts recorded on a draft after original generation.
type OriginalDocuments struct {
	MarkupPath string
	MarkupBody *string // nil when the rendered file could not be re-read
	PDFPath    *string // nil when no conversion engine succeeded
}

// SignatureRecord is written exactly once when an offer becomes Signed.
type SignatureRecord struct {
	SignerName string
	SignedAt   time.Time
	HTMLPath   string
	PDFPath    *string
}

// SignatureToken is a single-use signing credential. Only the hash of the raw token is stored.
type SignatureToken struct {
	ID        uuid.UUID
	OfferID   uuid.UUID
	TokenHash []byte
	ExpiresAt time.Time
	UsedAt    *time.Time // set once on redemption
	CreatedAt time.Time
}

// Redeemable reports whether the token may still be consumed at now.
func (t SignatureToken) Redeemable(now time.Time) bool {
	return t.UsedAt == nil && t.ExpiresAt.After(now)
}
