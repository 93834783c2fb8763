// Package lifecycle encodes the legal transitions of an offer.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/and161185/offer-desk/internal/errs"
	"github.com/and161185/offer-desk/internal/model"
)

// Event triggers a transition.
type Event string

const (
	EventSend   Event = "send"
	EventSign   Event = "sign"
	EventCancel Event = "cancel"
	EventExpire Event = "expire"
)

type edge struct {
	from  model.OfferStatus
	event Event
}

var table = map[edge]model.OfferStatus{
	{model.StatusDraft, EventSend}:   model.StatusSent,
	{model.StatusSent, EventSign}:    model.StatusSigned,
	{model.StatusDraft, EventCancel}: model.StatusCancelled,
	{model.StatusSent, EventCancel}:  model.StatusCancelled,
	{model.StatusSent, EventExpire}:  model.StatusExpired,
}

// TransitionError describes a rejected transition. It matches errs.ErrIllegalTransition.
type TransitionError struct {
	From  model.OfferStatus
	To    model.OfferStatus // empty when only the event was known
	Event Event
}

func (e *TransitionError) Error() string {
	if e.To != "" {
		return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
	}
	return fmt.Sprintf("illegal transition: %s on %s", e.Event, e.From)
}

// Unwrap lets errors.Is match errs.ErrIllegalTransition.
func (e *TransitionError) Unwrap() error { return errs.ErrIllegalTransition }

// Next returns the status reached by applying ev in from.
func Next(from model.OfferStatus, ev Event) (model.OfferStatus, error) {
	to, ok := table[edge{from, ev}]
	if !ok {
		return "", &TransitionError{From: from, Event: ev}
	}
	return to, nil
}

// Check validates a direct from -> to move. Repositories call it before any
// status write so that stored transitions follow the same table as Next.
func Check(from, to model.OfferStatus) error {
	for e, dst := range table {
		if e.from == from && dst == to {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}

// Effective returns the status a reader should see at now. A Sent offer whose
// expire_at has passed reads as Expired; nothing is written.
func Effective(o model.Offer, now time.Time) model.OfferStatus {
	if o.Status == model.StatusSent && o.ExpireAt != nil && !o.ExpireAt.After(now) {
		return model.StatusExpired
	}
	return o.Status
}
