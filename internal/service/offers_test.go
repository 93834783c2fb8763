package service

import (
	"context"
	"errors"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	pkgcrypto "github.com/and161185/offer-desk/internal/crypto"
	"github.com/and161185/offer-desk/internal/document"
	"github.com/and161185/offer-desk/internal/errs"
	"github.com/and161185/offer-desk/internal/model"
	"github.com/and161185/offer-desk/internal/notify"
)

type offerFixture struct {
	svc    *OfferService
	tokens *TokenService
	db     *memDB
	docs   *fakeDocs
	notes  *fakeDispatcher
	lim    *fakeLimiter
	cand   model.Candidate
}

func newOfferFixture(t *testing.T) *offerFixture {
	t.Helper()
	db := newMemDB()
	f := &offerFixture{
		db:    db,
		docs:  &fakeDocs{dir: t.TempDir()},
		notes: &fakeDispatcher{},
		lim:   &fakeLimiter{},
		cand:  db.addCandidate("ada@example.com"),
	}
	f.tokens = NewTokenService(memOffers{db}, memTokens{db}, nil)
	f.svc = NewOfferService(memCandidates{db}, memOffers{db}, f.tokens, f.docs, f.notes, f.lim, OfferConfig{
		BaseURL:         "https://hr.example.com/",
		TokenTTL:        72 * time.Hour,
		CompanyName:     "Acme Care",
		CompanyLocation: "Melbourne",
		HRContactName:   "HR Team",
		HRContactEmail:  "hr@example.com",
	}, nil)
	return f
}

func (f *offerFixture) setNow(ts time.Time) {
	f.svc.now = func() time.Time { return ts }
	f.tokens.now = func() time.Time { return ts }
}

func validInput() model.OfferInput {
	exp := time.Now().Add(14 * 24 * time.Hour)
	start := time.Now().Add(30 * 24 * time.Hour)
	return model.OfferInput{JobTitle: " Support Worker ", Salary: "$70,000", StartDate: &start, ExpireAt: &exp}
}

// rawFromLink extracts the token a candidate would receive.
func (f *offerFixture) rawFromLink(t *testing.T, i int) string {
	t.Helper()
	u, err := url.Parse(f.notes.notices[i].Link)
	require.NoError(t, err)
	require.Equal(t, "/api/offers/preview", u.Path)
	return u.Query().Get("token")
}

func (f *offerFixture) sent(t *testing.T) (*model.Offer, string) {
	t.Helper()
	res, err := f.svc.CreateAndSend(context.Background(), f.cand.ID, validInput())
	require.NoError(t, err)
	return res.Offer, f.rawFromLink(t, len(f.notes.notices)-1)
}

func TestCreateAndSend_HappyPath(t *testing.T) {
	f := newOfferFixture(t)
	res, err := f.svc.CreateAndSend(context.Background(), f.cand.ID, validInput())
	require.NoError(t, err)

	o := res.Offer
	require.Equal(t, model.StatusSent, o.Status)
	require.Equal(t, "Support Worker", o.JobTitle)
	require.Equal(t, document.Succeeded, res.Documents)
	require.Equal(t, notify.Queued, res.Notification)
	require.NotNil(t, o.MarkupPath)
	require.NotNil(t, o.PDFPath)
	require.NotNil(t, o.MarkupBody)
	require.Equal(t, "<html><body>offer</body></html>", *o.MarkupBody)
	require.Nil(t, o.SignedAt)

	require.Equal(t, "Ada Lovelace", f.docs.lastData["candidate_name"])
	require.Equal(t, "Acme Care", f.docs.lastData["company_name"])
	require.Equal(t, o.ID.String(), f.docs.lastData["offer_id"])

	require.Len(t, f.notes.notices, 1)
	n := f.notes.notices[0]
	require.Equal(t, "ada@example.com", n.To)
	require.Equal(t, "Acme Care", n.CompanyName)
	require.Equal(t, o.ExpireAt, n.ExpireAt)

	raw := f.rawFromLink(t, 0)
	toks := f.db.tokensFor(o.ID)
	require.Len(t, toks, 1)
	require.Equal(t, pkgcrypto.HashToken(raw), toks[0].TokenHash)
}

func TestCreateAndSend_CandidateNotFound(t *testing.T) {
	f := newOfferFixture(t)
	_, err := f.svc.CreateAndSend(context.Background(), uuid.Must(uuid.NewV4()), validInput())
	require.ErrorIs(t, err, errs.ErrCandidateNotFound)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Empty(t, f.db.offers)
	require.Empty(t, f.notes.notices)
}

func TestCreateAndSend_InvalidInput(t *testing.T) {
	f := newOfferFixture(t)
	in := validInput()
	in.JobTitle = "  "
	_, err := f.svc.CreateAndSend(context.Background(), f.cand.ID, in)
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Empty(t, f.db.offers)
}

func TestCreateAndSend_DegradedStillSends(t *testing.T) {
	f := newOfferFixture(t)
	f.docs.degraded = true
	f.notes.out = notify.Skipped

	res, err := f.svc.CreateAndSend(context.Background(), f.cand.ID, validInput())
	require.NoError(t, err)
	require.Equal(t, model.StatusSent, res.Offer.Status)
	require.Equal(t, document.Degraded, res.Documents)
	require.Equal(t, notify.Skipped, res.Notification)
	require.Nil(t, res.Offer.PDFPath)
}

func TestCreateAndSend_GenerationFailureLeavesDraft_SendResumes(t *testing.T) {
	f := newOfferFixture(t)
	f.docs.origErr = errors.New("disk full")

	_, err := f.svc.CreateAndSend(context.Background(), f.cand.ID, validInput())
	require.Error(t, err)
	require.Len(t, f.db.offers, 1)

	var draft model.Offer
	for _, o := range f.db.offers {
		draft = o
	}
	require.Equal(t, model.StatusDraft, draft.Status)
	require.Empty(t, f.db.tokensFor(draft.ID))

	f.docs.origErr = nil
	res, err := f.svc.Send(context.Background(), draft.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusSent, res.Offer.Status)

	_, err = f.svc.Send(context.Background(), draft.ID)
	require.ErrorIs(t, err, errs.ErrIllegalTransition)
}

func TestCreateAndSend_TokenTTLClippedToExpireAt(t *testing.T) {
	f := newOfferFixture(t)
	now := time.Now()
	f.setNow(now)
	in := validInput()
	exp := now.Add(2 * time.Hour)
	in.ExpireAt = &exp

	res, err := f.svc.CreateAndSend(context.Background(), f.cand.ID, in)
	require.NoError(t, err)
	toks := f.db.tokensFor(res.Offer.ID)
	require.Len(t, toks, 1)
	require.True(t, toks[0].ExpiresAt.Equal(exp), "token must not outlive the offer")
}

func TestRedeemAndSign_HappyPath(t *testing.T) {
	f := newOfferFixture(t)
	o, raw := f.sent(t)

	res, err := f.svc.RedeemAndSign(context.Background(), raw, "  Ada Lovelace ", "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, model.StatusSigned, res.Offer.Status)
	require.Equal(t, document.Succeeded, res.Documents)
	require.Equal(t, "Ada Lovelace", *res.Offer.SignedByName)
	require.NotNil(t, res.Offer.SignedAt)
	require.NotNil(t, res.Offer.SignedPDF)
	require.Equal(t, *o.MarkupPath, f.docs.signedFrom)
	require.Equal(t, "10.0.0.1", f.docs.lastAttest.OriginIP)
	require.Equal(t, 1, f.lim.successes)

	orig, err := os.ReadFile(*o.MarkupPath)
	require.NoError(t, err)
	require.Equal(t, "<html><body>offer</body></html>", string(orig))
}

func TestRedeemAndSign_SecondAttemptRejected(t *testing.T) {
	f := newOfferFixture(t)
	_, raw := f.sent(t)
	ctx := context.Background()

	_, err := f.svc.RedeemAndSign(ctx, raw, "Ada", "10.0.0.1")
	require.NoError(t, err)
	_, err = f.svc.RedeemAndSign(ctx, raw, "Mallory", "10.0.0.2")
	require.ErrorIs(t, err, errs.ErrInvalidOrExpiredToken)
	require.Equal(t, 1, f.docs.signedCalls)
}

func TestRedeemAndSign_DraftOfferToken(t *testing.T) {
	f := newOfferFixture(t)
	ctx := context.Background()
	o := model.Offer{ID: uuid.Must(uuid.NewV4()), CandidateID: f.cand.ID, JobTitle: "x", Status: model.StatusDraft}
	f.db.setOffer(o)
	raw, _, err := f.tokens.Issue(ctx, o.ID, time.Hour)
	require.NoError(t, err)

	_, err = f.svc.RedeemAndSign(ctx, raw, "Ada", "10.0.0.1")
	require.ErrorIs(t, err, errs.ErrIllegalTransition)

	got := f.db.offer(o.ID)
	require.Equal(t, model.StatusDraft, got.Status)
	require.Nil(t, got.SignedAt)
	require.Nil(t, got.SignedByName)
	require.Nil(t, f.db.tokensFor(o.ID)[0].UsedAt)
	require.Zero(t, f.docs.signedCalls)
}

func TestRedeemAndSign_ExpiredToken(t *testing.T) {
	f := newOfferFixture(t)
	o, raw := f.sent(t)
	f.setNow(time.Now().Add(73 * time.Hour))

	_, err := f.svc.RedeemAndSign(context.Background(), raw, "Ada", "10.0.0.1")
	require.ErrorIs(t, err, errs.ErrInvalidOrExpiredToken)
	require.Equal(t, model.StatusSent, f.db.offer(o.ID).Status)
}

func TestRedeemAndSign_Validation(t *testing.T) {
	f := newOfferFixture(t)
	o, raw := f.sent(t)

	_, err := f.svc.RedeemAndSign(context.Background(), raw, "   ", "10.0.0.1")
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Nil(t, f.db.tokensFor(o.ID)[0].UsedAt)
}

func TestRedeemAndSign_LockoutAfterFailures(t *testing.T) {
	f := newOfferFixture(t)
	f.lim.max = 3
	_, raw := f.sent(t)
	ctx := context.Background()

	bogus, _, err := pkgcrypto.NewToken()
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = f.svc.RedeemAndSign(ctx, bogus, "x", "6.6.6.6")
		require.ErrorIs(t, err, errs.ErrInvalidOrExpiredToken)
	}
	_, err = f.svc.RedeemAndSign(ctx, bogus, "x", "6.6.6.6")
	require.ErrorIs(t, err, errs.ErrRateLimited)

	_, err = f.svc.RedeemAndSign(ctx, raw, "Ada", "6.6.6.6")
	require.ErrorIs(t, err, errs.ErrRateLimited)
}

func TestRedeemAndSign_SignedGenerationFails(t *testing.T) {
	f := newOfferFixture(t)
	o, raw := f.sent(t)
	f.docs.signedErr = errs.ErrDocumentSourceMissing

	_, err := f.svc.RedeemAndSign(context.Background(), raw, "Ada", "10.0.0.1")
	require.ErrorIs(t, err, errs.ErrDocumentSourceMissing)

	got := f.db.offer(o.ID)
	require.Equal(t, model.StatusSent, got.Status)
	require.Nil(t, got.SignedAt)

	f.docs.signedErr = nil
	res, err := f.svc.ResendLink(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, notify.Queued, res.Notification)
	_, err = f.svc.RedeemAndSign(context.Background(), f.rawFromLink(t, 1), "Ada", "10.0.0.1")
	require.NoError(t, err)
}

func TestRedeemAndSign_CancelledDuringGeneration(t *testing.T) {
	f := newOfferFixture(t)
	o, raw := f.sent(t)
	f.docs.afterSigned = func() {
		cur := f.db.offer(o.ID)
		cur.Status = model.StatusCancelled
		f.db.setOffer(cur)
	}

	_, err := f.svc.RedeemAndSign(context.Background(), raw, "Ada", "10.0.0.1")
	require.ErrorIs(t, err, errs.ErrIllegalTransition)

	got := f.db.offer(o.ID)
	require.Equal(t, model.StatusCancelled, got.Status)
	require.Nil(t, got.SignedAt)
	require.Nil(t, got.SignedHTML)
	require.Len(t, f.docs.discarded, 1)
	require.NoFileExists(t, f.docs.discarded[0].MarkupPath)
	require.FileExists(t, *o.MarkupPath)
}

func TestRedeemAndSign_SignedElsewhereKeepsCopy(t *testing.T) {
	f := newOfferFixture(t)
	o, raw := f.sent(t)
	f.docs.afterSigned = func() {
		cur := f.db.offer(o.ID)
		at, name := time.Now(), "Ada"
		path := f.docs.pathFor(o.ID, document.VariantSigned)
		cur.Status, cur.SignedAt, cur.SignedByName, cur.SignedHTML = model.StatusSigned, &at, &name, &path
		f.db.setOffer(cur)
	}

	_, err := f.svc.RedeemAndSign(context.Background(), raw, "Ada", "10.0.0.1")
	require.ErrorIs(t, err, errs.ErrIllegalTransition)
	require.Empty(t, f.docs.discarded)
	require.FileExists(t, f.docs.pathFor(o.ID, document.VariantSigned))
}

func TestGet_ReportsLazyExpiry(t *testing.T) {
	f := newOfferFixture(t)
	o, _ := f.sent(t)

	got, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusSent, got.Status)

	f.setNow(o.ExpireAt.Add(time.Second))
	got, err = f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusExpired, got.Status)
	require.Equal(t, model.StatusSent, f.db.offer(o.ID).Status, "expiry is never written")

	_, err = f.svc.Get(context.Background(), uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrOfferNotFound)
}

func TestList(t *testing.T) {
	f := newOfferFixture(t)
	f.sent(t)
	f.sent(t)

	all, err := f.svc.List(context.Background(), model.OfferFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	f.setNow(time.Now().Add(15 * 24 * time.Hour))
	expired, err := f.svc.List(context.Background(), model.OfferFilter{Status: model.StatusExpired})
	require.NoError(t, err)
	require.Len(t, expired, 2)
	for _, o := range expired {
		require.Equal(t, model.StatusExpired, o.Status)
	}

	_, err = f.svc.List(context.Background(), model.OfferFilter{Status: "Pending"})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestUpdateDraft(t *testing.T) {
	f := newOfferFixture(t)
	ctx := context.Background()
	o := model.Offer{ID: uuid.Must(uuid.NewV4()), CandidateID: f.cand.ID, JobTitle: "Old", Status: model.StatusDraft}
	f.db.setOffer(o)

	_, err := f.svc.UpdateDraft(ctx, o.ID, model.OfferPatch{})
	require.ErrorIs(t, err, errs.ErrValidation)

	title := "Team Leader"
	got, err := f.svc.UpdateDraft(ctx, o.ID, model.OfferPatch{JobTitle: &title})
	require.NoError(t, err)
	require.Equal(t, "Team Leader", got.JobTitle)

	past := time.Now().Add(-time.Hour)
	_, err = f.svc.UpdateDraft(ctx, o.ID, model.OfferPatch{ExpireAt: &past})
	require.ErrorIs(t, err, errs.ErrValidation)

	sent, _ := f.sent(t)
	_, err = f.svc.UpdateDraft(ctx, sent.ID, model.OfferPatch{JobTitle: &title})
	require.ErrorIs(t, err, errs.ErrIllegalTransition)
}

func TestCancel(t *testing.T) {
	f := newOfferFixture(t)
	ctx := context.Background()
	o, raw := f.sent(t)

	got, err := f.svc.Cancel(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, got.Status)

	_, err = f.svc.RedeemAndSign(ctx, raw, "Ada", "10.0.0.1")
	require.ErrorIs(t, err, errs.ErrIllegalTransition)
	require.Nil(t, f.db.tokensFor(o.ID)[0].UsedAt)

	_, err = f.svc.Cancel(ctx, o.ID)
	require.ErrorIs(t, err, errs.ErrIllegalTransition)
}

func TestCancel_SignedAndExpiredAreTerminal(t *testing.T) {
	f := newOfferFixture(t)
	ctx := context.Background()

	signed, raw := f.sent(t)
	_, err := f.svc.RedeemAndSign(ctx, raw, "Ada", "10.0.0.1")
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, signed.ID)
	require.ErrorIs(t, err, errs.ErrIllegalTransition)

	expired, _ := f.sent(t)
	f.setNow(expired.ExpireAt.Add(time.Minute))
	_, err = f.svc.Cancel(ctx, expired.ID)
	require.ErrorIs(t, err, errs.ErrIllegalTransition)
}

func TestResendLink(t *testing.T) {
	f := newOfferFixture(t)
	ctx := context.Background()
	o, _ := f.sent(t)

	res, err := f.svc.ResendLink(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, o.ID, res.Offer.ID)
	require.Len(t, f.notes.notices, 2)
	require.Len(t, f.db.tokensFor(o.ID), 2)
	require.NotEqual(t, f.rawFromLink(t, 0), f.rawFromLink(t, 1))

	draft := model.Offer{ID: uuid.Must(uuid.NewV4()), CandidateID: f.cand.ID, JobTitle: "x", Status: model.StatusDraft}
	f.db.setOffer(draft)
	_, err = f.svc.ResendLink(ctx, draft.ID)
	require.ErrorIs(t, err, errs.ErrIllegalTransition)
}

func TestLink_EscapesToken(t *testing.T) {
	f := newOfferFixture(t)
	require.Equal(t, "https://hr.example.com/api/offers/preview?token=abc-_x", f.svc.Link("abc-_x"))
}
