// Package service contains the offer workflow and signature token services.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/offer-desk/internal/document"
	"github.com/and161185/offer-desk/internal/errs"
	"github.com/and161185/offer-desk/internal/lifecycle"
	"github.com/and161185/offer-desk/internal/limiter"
	"github.com/and161185/offer-desk/internal/model"
	"github.com/and161185/offer-desk/internal/notify"
	"github.com/and161185/offer-desk/internal/repository"
)

const maxSignerName = 200

// DocumentGenerator produces the archived copies of an offer.
type DocumentGenerator interface {
	GenerateOriginal(ctx context.Context, offerID uuid.UUID, templateName string, data map[string]any) (document.Pair, error)
	GenerateSigned(ctx context.Context, offerID uuid.UUID, originalPath string, att document.Attestation) (document.Pair, error)
	Discard(p document.Pair) error
}

// Dispatcher hands offer notices to a background sender.
type Dispatcher interface {
	Dispatch(ctx context.Context, n notify.OfferNotice) notify.Outcome
}

// OfferConfig holds workflow settings sourced from the environment.
type OfferConfig struct {
	Template        string
	BaseURL         string
	TokenTTL        time.Duration
	CompanyName     string
	CompanyLocation string
	HRContactName   string
	HRContactEmail  string
}

// SendResult is the outcome of sending an offer. Documents and Notification
// report degraded optional steps; the offer itself is committed.
type SendResult struct {
	Offer        *model.Offer
	Documents    document.Outcome
	Notification notify.Outcome
}

// SignResult is the outcome of a successful signature.
type SignResult struct {
	Offer     *model.Offer
	Documents document.Outcome
}

// OfferService orchestrates the offer lifecycle. Each step commits its own state,
// so an interrupted workflow leaves a readable intermediate offer.
type OfferService struct {
	candidates repository.CandidateRepository
	offers     repository.OfferRepository
	tokens     *TokenService
	docs       DocumentGenerator
	notices    Dispatcher
	lim        limiter.Limiter
	cfg        OfferConfig
	log        *zap.Logger
	now        func() time.Time
}

// NewOfferService constructs OfferService. A nil limiter disables redemption lockout.
func NewOfferService(
	candidates repository.CandidateRepository,
	offers repository.OfferRepository,
	tokens *TokenService,
	docs DocumentGenerator,
	notices Dispatcher,
	lim limiter.Limiter,
	cfg OfferConfig,
	log *zap.Logger,
) *OfferService {
	if lim == nil {
		lim = limiter.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 72 * time.Hour
	}
	if cfg.Template == "" {
		cfg.Template = "offer_default.html"
	}
	return &OfferService{
		candidates: candidates,
		offers:     offers,
		tokens:     tokens,
		docs:       docs,
		notices:    notices,
		lim:        lim,
		cfg:        cfg,
		log:        log.With(zap.String("component", "offers")),
		now:        time.Now,
	}
}

// CreateAndSend creates a Draft offer for an existing candidate and sends it.
// If a step after creation fails, the Draft remains and Send can resume it.
func (s *OfferService) CreateAndSend(ctx context.Context, candidateID uuid.UUID, in model.OfferInput) (*SendResult, error) {
	cand, err := s.candidates.GetByID(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if err := in.Validate(s.now()); err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	o := &model.Offer{
		ID:          id,
		CandidateID: cand.ID,
		JobTitle:    strings.TrimSpace(in.JobTitle),
		Salary:      in.Salary,
		StartDate:   in.StartDate,
		ExpireAt:    in.ExpireAt,
	}
	if err := s.offers.Create(ctx, o); err != nil {
		return nil, err
	}
	s.log.Info("offer created", zap.String("offer_id", o.ID.String()), zap.String("candidate_id", cand.ID.String()))
	return s.send(ctx, cand, o)
}

// Send generates documents, issues a token and notifies the candidate for an
// existing Draft offer.
func (s *OfferService) Send(ctx context.Context, offerID uuid.UUID) (*SendResult, error) {
	o, err := s.offers.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if _, err := lifecycle.Next(o.Status, lifecycle.EventSend); err != nil {
		return nil, err
	}
	cand, err := s.candidates.GetByID(ctx, o.CandidateID)
	if err != nil {
		return nil, err
	}
	return s.send(ctx, cand, o)
}

func (s *OfferService) send(ctx context.Context, cand *model.Candidate, o *model.Offer) (*SendResult, error) {
	log := s.log.With(zap.String("offer_id", o.ID.String()))

	pair, err := s.docs.GenerateOriginal(ctx, o.ID, s.cfg.Template, s.templateData(cand, o))
	if err != nil {
		return nil, fmt.Errorf("generate original: %w", err)
	}
	docs := model.OriginalDocuments{MarkupPath: pair.MarkupPath, PDFPath: pair.Binary()}
	if b, err := os.ReadFile(pair.MarkupPath); err == nil {
		body := string(b)
		docs.MarkupBody = &body
	} else {
		log.Warn("markup not cached for audit", zap.Error(err))
	}
	if _, err := s.offers.SetOriginalDocuments(ctx, o.ID, docs); err != nil {
		return nil, err
	}

	ttl, err := s.tokenTTL(o)
	if err != nil {
		return nil, err
	}
	raw, tok, err := s.tokens.Issue(ctx, o.ID, ttl)
	if err != nil {
		return nil, err
	}
	to, err := lifecycle.Next(model.StatusDraft, lifecycle.EventSend)
	if err != nil {
		return nil, err
	}
	sent, err := s.offers.Transition(ctx, o.ID, model.StatusDraft, to)
	if err != nil {
		return nil, err
	}
	log.Info("offer sent", zap.Stringer("documents", pair.Outcome), zap.Time("link_expires_at", tok.ExpiresAt))

	outcome := s.notices.Dispatch(ctx, s.notice(cand, sent, raw))
	return &SendResult{Offer: sent, Documents: pair.Outcome, Notification: outcome}, nil
}

// RedeemAndSign consumes raw and records signerName's signature on its Sent offer.
// Rejected attempts change nothing. Once the token is consumed a later failure
// leaves the offer Sent; ResendLink issues a new token.
func (s *OfferService) RedeemAndSign(ctx context.Context, raw, signerName, originIP string) (*SignResult, error) {
	name := strings.TrimSpace(signerName)
	if name == "" {
		return nil, fmt.Errorf("%w: signer name is required", errs.ErrValidation)
	}
	if len(name) > maxSignerName {
		return nil, fmt.Errorf("%w: signer name too long", errs.ErrValidation)
	}

	ipHash := limiter.HashIP(originIP)
	allowed, _, err := s.lim.Allow(ctx, limiter.ScopeRedeem, ipHash)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errs.ErrRateLimited
	}

	tok, err := s.tokens.Redeem(ctx, raw, model.StatusSent)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidOrExpiredToken) {
			if blocked, _, ferr := s.lim.Failure(ctx, limiter.ScopeRedeem, ipHash); ferr == nil && blocked {
				return nil, errs.ErrRateLimited
			}
		}
		return nil, err
	}
	_ = s.lim.Success(ctx, limiter.ScopeRedeem, ipHash)

	log := s.log.With(zap.String("offer_id", tok.OfferID.String()), zap.String("token_id", tok.ID.String()))
	o, err := s.offers.Get(ctx, tok.OfferID)
	if err != nil {
		return nil, err
	}
	if o.MarkupPath == nil {
		log.Error("signed copy impossible: no original markup recorded")
		return nil, fmt.Errorf("offer %s: %w", o.ID, errs.ErrDocumentSourceMissing)
	}

	to, err := lifecycle.Next(o.Status, lifecycle.EventSign)
	if err != nil {
		log.Warn("offer changed after redemption", zap.String("status", string(o.Status)))
		return nil, err
	}

	signedAt := s.now().UTC()
	pair, err := s.docs.GenerateSigned(ctx, o.ID, *o.MarkupPath, document.Attestation{
		SignerName: name,
		SignedAt:   signedAt,
		OriginIP:   originIP,
	})
	if err != nil {
		log.Error("signed copy failed after redemption", zap.Error(err))
		return nil, fmt.Errorf("generate signed: %w", err)
	}

	signed, err := s.offers.RecordSignature(ctx, o.ID, o.Status, to, model.SignatureRecord{
		SignerName: name,
		SignedAt:   signedAt,
		HTMLPath:   pair.MarkupPath,
		PDFPath:    pair.Binary(),
	})
	if err != nil {
		s.dropUnrecorded(ctx, log, o.ID, pair)
		return nil, err
	}
	log.Info("offer signed", zap.Stringer("documents", pair.Outcome))
	return &SignResult{Offer: signed, Documents: pair.Outcome}, nil
}

// dropUnrecorded removes a signed copy that no offer row points to. The signed
// path is shared per offer, so it is kept when another redemption recorded it.
func (s *OfferService) dropUnrecorded(ctx context.Context, log *zap.Logger, id uuid.UUID, pair document.Pair) {
	if cur, err := s.offers.Get(ctx, id); err == nil && cur.SignedHTML != nil && *cur.SignedHTML == pair.MarkupPath {
		log.Warn("signature recorded by another redemption, keeping signed copy")
		return
	}
	if err := s.docs.Discard(pair); err != nil {
		log.Error("orphaned signed copy", zap.String("markup", pair.MarkupPath), zap.String("pdf", pair.BinaryPath), zap.Error(err))
		return
	}
	log.Warn("signature not recorded, signed copy removed", zap.String("markup", pair.MarkupPath))
}

// Get returns an offer with its effective status.
func (s *OfferService) Get(ctx context.Context, id uuid.UUID) (*model.Offer, error) {
	o, err := s.offers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Status = lifecycle.Effective(*o, s.now())
	return o, nil
}

// List returns offers matching f, newest first, with effective statuses.
func (s *OfferService) List(ctx context.Context, f model.OfferFilter) ([]model.Offer, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", errs.ErrValidation, f.Status)
	}
	now := s.now()
	f.AsOf = now
	out, err := s.offers.List(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Status = lifecycle.Effective(out[i], now)
	}
	return out, nil
}

// UpdateDraft applies a partial update to a Draft offer.
func (s *OfferService) UpdateDraft(ctx context.Context, id uuid.UUID, p model.OfferPatch) (*model.Offer, error) {
	if p.Empty() {
		return nil, fmt.Errorf("%w: empty patch", errs.ErrValidation)
	}
	o, err := s.offers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status != model.StatusDraft {
		return nil, &lifecycle.TransitionError{From: o.Status, To: model.StatusDraft}
	}
	in := p.Apply(*o)
	if err := in.Validate(s.now()); err != nil {
		return nil, err
	}
	in.JobTitle = strings.TrimSpace(in.JobTitle)
	return s.offers.UpdateDraft(ctx, id, in)
}

// Cancel withdraws a Draft or Sent offer. Outstanding tokens stop working
// because redemption requires Sent.
func (s *OfferService) Cancel(ctx context.Context, id uuid.UUID) (*model.Offer, error) {
	o, err := s.offers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	to, err := lifecycle.Next(lifecycle.Effective(*o, s.now()), lifecycle.EventCancel)
	if err != nil {
		return nil, err
	}
	out, err := s.offers.Transition(ctx, id, o.Status, to)
	if err != nil {
		return nil, err
	}
	s.log.Info("offer cancelled", zap.String("offer_id", id.String()))
	return out, nil
}

// ResendLink issues a fresh token for a Sent offer and notifies the candidate
// again. Earlier tokens stay valid until used or expired.
func (s *OfferService) ResendLink(ctx context.Context, id uuid.UUID) (*SendResult, error) {
	o, err := s.offers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if st := lifecycle.Effective(*o, s.now()); st != model.StatusSent {
		return nil, fmt.Errorf("resend on %s offer: %w", st, errs.ErrIllegalTransition)
	}
	cand, err := s.candidates.GetByID(ctx, o.CandidateID)
	if err != nil {
		return nil, err
	}
	ttl, err := s.tokenTTL(o)
	if err != nil {
		return nil, err
	}
	raw, _, err := s.tokens.Issue(ctx, o.ID, ttl)
	if err != nil {
		return nil, err
	}
	docs := document.Succeeded
	if o.PDFPath == nil {
		docs = document.Degraded
	}
	outcome := s.notices.Dispatch(ctx, s.notice(cand, o, raw))
	s.log.Info("offer link resent", zap.String("offer_id", o.ID.String()), zap.Stringer("notification", outcome))
	return &SendResult{Offer: o, Documents: docs, Notification: outcome}, nil
}

// Link builds the signing URL for a raw token.
func (s *OfferService) Link(raw string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/api/offers/preview?token=" + url.QueryEscape(raw)
}

// tokenTTL is the configured TTL, cut short so the token never outlives expire_at.
func (s *OfferService) tokenTTL(o *model.Offer) (time.Duration, error) {
	ttl := s.cfg.TokenTTL
	if o.ExpireAt != nil {
		if left := o.ExpireAt.Sub(s.now()); left < ttl {
			ttl = left
		}
	}
	if ttl <= 0 {
		return 0, fmt.Errorf("%w: offer %s already past expire_at", errs.ErrValidation, o.ID)
	}
	return ttl, nil
}

func (s *OfferService) templateData(cand *model.Candidate, o *model.Offer) map[string]any {
	return map[string]any{
		"candidate_name":    cand.FullName(),
		"job_title":         o.JobTitle,
		"salary":            o.Salary,
		"start_date":        o.StartDate,
		"offer_valid_until": o.ExpireAt,
		"company_name":      s.cfg.CompanyName,
		"location":          s.cfg.CompanyLocation,
		"hr_contact_name":   s.cfg.HRContactName,
		"hr_contact_email":  s.cfg.HRContactEmail,
		"offer_id":          o.ID.String(),
		"now":               s.now().UTC(),
	}
}

func (s *OfferService) notice(cand *model.Candidate, o *model.Offer, raw string) notify.OfferNotice {
	return notify.OfferNotice{
		To:            cand.Email,
		CandidateName: cand.FullName(),
		Link:          s.Link(raw),
		CompanyName:   s.cfg.CompanyName,
		ExpireAt:      o.ExpireAt,
	}
}
