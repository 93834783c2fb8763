// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCandidateNotFound indicates the referenced candidate does not exist.
	ErrCandidateNotFound = fmt.Errorf("candidate %w", ErrNotFound)

	// ErrOfferNotFound indicates the referenced offer does not exist.
	ErrOfferNotFound = fmt.Errorf("offer %w", ErrNotFound)

	// ErrInvalidOrExpiredToken covers unknown, already used and expired signature tokens alike.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

	// ErrIllegalTransition indicates an offer lifecycle precondition was violated.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrInvalidTemplateName indicates a template name that is not a bare file name.
	ErrInvalidTemplateName = errors.New("invalid template name")

	// ErrDocumentSourceMissing indicates the original markup needed for a signed copy is unreadable.
	ErrDocumentSourceMissing = errors.New("document source missing")

	// ErrRateLimited indicates temporary lockout of an origin after repeated failed redemptions.
	ErrRateLimited = errors.New("rate limited")

	// ErrValidation indicates malformed caller input.
	ErrValidation = errors.New("validation")
)
