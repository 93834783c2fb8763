package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/offer-desk/internal/crypto"
	"github.com/and161185/offer-desk/internal/errs"
	"github.com/and161185/offer-desk/internal/model"
	"github.com/and161185/offer-desk/internal/repository"
)

// TokenService issues and redeems single-use signature tokens. Raw tokens are
// returned to the caller exactly once and never stored or logged.
type TokenService struct {
	offers repository.OfferRepository
	tokens repository.TokenRepository
	log    *zap.Logger
	now    func() time.Time
}

// NewTokenService constructs TokenService.
func NewTokenService(offers repository.OfferRepository, tokens repository.TokenRepository, log *zap.Logger) *TokenService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenService{
		offers: offers,
		tokens: tokens,
		log:    log.With(zap.String("component", "tokens")),
		now:    time.Now,
	}
}

// Issue mints a token for an existing offer valid for ttl.
func (s *TokenService) Issue(ctx context.Context, offerID uuid.UUID, ttl time.Duration) (string, *model.SignatureToken, error) {
	if ttl <= 0 {
		return "", nil, fmt.Errorf("%w: token ttl must be positive", errs.ErrValidation)
	}
	if _, err := s.offers.Get(ctx, offerID); err != nil {
		return "", nil, err
	}
	raw, hash, err := pkgcrypto.NewToken()
	if err != nil {
		return "", nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", nil, err
	}
	t := &model.SignatureToken{
		ID:        id,
		OfferID:   offerID,
		TokenHash: hash,
		ExpiresAt: s.now().Add(ttl).UTC(),
	}
	if err := s.tokens.Create(ctx, t); err != nil {
		return "", nil, err
	}
	s.log.Info("token issued",
		zap.String("offer_id", offerID.String()),
		zap.String("token_id", id.String()),
		zap.Time("expires_at", t.ExpiresAt),
	)
	return raw, t, nil
}

// VerifyAndConsume redeems raw regardless of the offer's state.
func (s *TokenService) VerifyAndConsume(ctx context.Context, raw string) (*model.SignatureToken, error) {
	if pkgcrypto.CheckTokenShape(raw) != nil {
		return nil, errs.ErrInvalidOrExpiredToken
	}
	t, err := s.tokens.Consume(ctx, pkgcrypto.HashToken(raw), s.now())
	if err != nil {
		return nil, err
	}
	s.log.Info("token consumed", zap.String("token_id", t.ID.String()), zap.String("offer_id", t.OfferID.String()))
	return t, nil
}

// Redeem consumes raw only if its offer is currently in required. Any rejection
// leaves the token unused.
func (s *TokenService) Redeem(ctx context.Context, raw string, required model.OfferStatus) (*model.SignatureToken, error) {
	if pkgcrypto.CheckTokenShape(raw) != nil {
		return nil, errs.ErrInvalidOrExpiredToken
	}
	t, err := s.tokens.ConsumeForOffer(ctx, pkgcrypto.HashToken(raw), s.now(), required)
	if err != nil {
		return nil, err
	}
	s.log.Info("token redeemed", zap.String("token_id", t.ID.String()), zap.String("offer_id", t.OfferID.String()))
	return t, nil
}
