package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/offer-desk/internal/document"
	"github.com/and161185/offer-desk/internal/errs"
	"github.com/and161185/offer-desk/internal/lifecycle"
	"github.com/and161185/offer-desk/internal/model"
	"github.com/and161185/offer-desk/internal/notify"
	"github.com/and161185/offer-desk/internal/repository"
)

// memDB mimics the conditional writes of the Postgres repositories.
type memDB struct {
	mu     sync.Mutex
	cands  map[uuid.UUID]model.Candidate
	offers map[uuid.UUID]model.Offer
	tokens []*model.SignatureToken
}

func newMemDB() *memDB {
	return &memDB{cands: map[uuid.UUID]model.Candidate{}, offers: map[uuid.UUID]model.Offer{}}
}

func (m *memDB) addCandidate(email string) model.Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := model.Candidate{ID: uuid.Must(uuid.NewV4()), FirstName: "Ada", LastName: "Lovelace", Email: email}
	m.cands[c.ID] = c
	return c
}

func (m *memDB) offer(id uuid.UUID) model.Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offers[id]
}

func (m *memDB) setOffer(o model.Offer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[o.ID] = o
}

func (m *memDB) tokensFor(offerID uuid.UUID) []model.SignatureToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SignatureToken
	for _, t := range m.tokens {
		if t.OfferID == offerID {
			out = append(out, *t)
		}
	}
	return out
}

type memCandidates struct{ *memDB }
type memOffers struct{ *memDB }
type memTokens struct{ *memDB }

var (
	_ repository.CandidateRepository = memCandidates{}
	_ repository.OfferRepository     = memOffers{}
	_ repository.TokenRepository     = memTokens{}
)

func (m memCandidates) GetByID(_ context.Context, id uuid.UUID) (*model.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cands[id]
	if !ok {
		return nil, errs.ErrCandidateNotFound
	}
	return &c, nil
}

func (m memCandidates) GetByEmail(_ context.Context, email string) (*model.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cands {
		if c.Email == email {
			return &c, nil
		}
	}
	return nil, errs.ErrCandidateNotFound
}

func (m memOffers) Create(_ context.Context, o *model.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cands[o.CandidateID]; !ok {
		return errs.ErrCandidateNotFound
	}
	now := time.Now()
	o.Status, o.CreatedAt, o.UpdatedAt = model.StatusDraft, now, now
	m.offers[o.ID] = *o
	return nil
}

func (m memOffers) Get(_ context.Context, id uuid.UUID) (*model.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, errs.ErrOfferNotFound
	}
	return &o, nil
}

func (m memOffers) List(_ context.Context, f model.OfferFilter) ([]model.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Offer
	for _, o := range m.offers {
		if f.Status != "" && lifecycle.Effective(o, f.AsOf) != f.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m memOffers) update(id uuid.UUID, from, to model.OfferStatus, fn func(*model.Offer)) (*model.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, errs.ErrOfferNotFound
	}
	if o.Status != from {
		return nil, &lifecycle.TransitionError{From: o.Status, To: to}
	}
	fn(&o)
	o.UpdatedAt = time.Now()
	m.offers[id] = o
	return &o, nil
}

func (m memOffers) UpdateDraft(_ context.Context, id uuid.UUID, in model.OfferInput) (*model.Offer, error) {
	return m.update(id, model.StatusDraft, model.StatusDraft, func(o *model.Offer) {
		o.JobTitle, o.Salary, o.StartDate, o.ExpireAt = in.JobTitle, in.Salary, in.StartDate, in.ExpireAt
	})
}

func (m memOffers) SetOriginalDocuments(_ context.Context, id uuid.UUID, d model.OriginalDocuments) (*model.Offer, error) {
	return m.update(id, model.StatusDraft, model.StatusDraft, func(o *model.Offer) {
		p := d.MarkupPath
		o.MarkupPath, o.MarkupBody, o.PDFPath = &p, d.MarkupBody, d.PDFPath
	})
}

func (m memOffers) Transition(_ context.Context, id uuid.UUID, from, to model.OfferStatus) (*model.Offer, error) {
	if err := lifecycle.Check(from, to); err != nil {
		return nil, err
	}
	return m.update(id, from, to, func(o *model.Offer) { o.Status = to })
}

func (m memOffers) RecordSignature(_ context.Context, id uuid.UUID, from, to model.OfferStatus, rec model.SignatureRecord) (*model.Offer, error) {
	if err := lifecycle.Check(from, to); err != nil {
		return nil, err
	}
	return m.update(id, from, to, func(o *model.Offer) {
		at, name, html := rec.SignedAt, rec.SignerName, rec.HTMLPath
		o.Status, o.SignedAt, o.SignedByName, o.SignedHTML, o.SignedPDF = to, &at, &name, &html, rec.PDFPath
	})
}

func (m memTokens) Create(_ context.Context, t *model.SignatureToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.offers[t.OfferID]; !ok {
		return errs.ErrOfferNotFound
	}
	t.CreatedAt = time.Now()
	c := *t
	m.tokens = append(m.tokens, &c)
	return nil
}

func (m memTokens) find(hash []byte, now time.Time) (*model.SignatureToken, error) {
	for _, t := range m.tokens {
		if bytes.Equal(t.TokenHash, hash) && t.Redeemable(now) {
			return t, nil
		}
	}
	return nil, errs.ErrInvalidOrExpiredToken
}

func (m memTokens) Consume(_ context.Context, hash []byte, now time.Time) (*model.SignatureToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.find(hash, now)
	if err != nil {
		return nil, err
	}
	used := now
	t.UsedAt = &used
	c := *t
	return &c, nil
}

func (m memTokens) ConsumeForOffer(_ context.Context, hash []byte, now time.Time, want model.OfferStatus) (*model.SignatureToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.find(hash, now)
	if err != nil {
		return nil, err
	}
	if st := m.offers[t.OfferID].Status; st != want {
		return nil, fmt.Errorf("offer is %s: %w", st, errs.ErrIllegalTransition)
	}
	used := now
	t.UsedAt = &used
	c := *t
	return &c, nil
}

func (m memTokens) ListByOffer(_ context.Context, offerID uuid.UUID) ([]model.SignatureToken, error) {
	return m.tokensFor(offerID), nil
}

// fakeDocs writes small markup files so that audit re-reads work.
type fakeDocs struct {
	dir         string
	degraded    bool
	origErr     error
	signedErr   error
	lastData    map[string]any
	signedFrom  string
	lastAttest  document.Attestation
	signedCalls int
	afterSigned func() // runs once the signed copy is on disk
	discarded   []document.Pair
}

func (f *fakeDocs) pathFor(id uuid.UUID, v document.Variant) string {
	return filepath.Join(f.dir, fmt.Sprintf("offer_%s_%s.html", id, v))
}

func (f *fakeDocs) pair(id uuid.UUID, v document.Variant, body string) (document.Pair, error) {
	p := f.pathFor(id, v)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		return document.Pair{}, err
	}
	if f.degraded {
		return document.Pair{MarkupPath: p, Outcome: document.Degraded}, nil
	}
	return document.Pair{MarkupPath: p, BinaryPath: document.BinaryPathFor(p), Outcome: document.Succeeded}, nil
}

func (f *fakeDocs) GenerateOriginal(_ context.Context, id uuid.UUID, _ string, data map[string]any) (document.Pair, error) {
	f.lastData = data
	if f.origErr != nil {
		return document.Pair{}, f.origErr
	}
	return f.pair(id, document.VariantOriginal, "<html><body>offer</body></html>")
}

func (f *fakeDocs) GenerateSigned(_ context.Context, id uuid.UUID, src string, att document.Attestation) (document.Pair, error) {
	f.signedCalls++
	f.signedFrom, f.lastAttest = src, att
	if f.signedErr != nil {
		return document.Pair{}, f.signedErr
	}
	p, err := f.pair(id, document.VariantSigned, "<html><body>signed</body></html>")
	if err == nil && f.afterSigned != nil {
		f.afterSigned()
	}
	return p, err
}

func (f *fakeDocs) Discard(p document.Pair) error {
	f.discarded = append(f.discarded, p)
	return os.Remove(p.MarkupPath)
}

type fakeDispatcher struct {
	mu      sync.Mutex
	out     notify.Outcome
	notices []notify.OfferNotice
}

func (f *fakeDispatcher) Dispatch(_ context.Context, n notify.OfferNotice) notify.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, n)
	return f.out
}

// fakeLimiter blocks once failures reach max.
type fakeLimiter struct {
	mu        sync.Mutex
	max       int
	fails     int
	successes int
}

func (f *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.max == 0 || f.fails < f.max, 0, nil
}

func (f *fakeLimiter) Success(context.Context, string, []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes++
	f.fails = 0
	return nil
}

func (f *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fails++
	return f.max > 0 && f.fails >= f.max, time.Minute, nil
}
