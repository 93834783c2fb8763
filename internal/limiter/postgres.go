package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/blake2b"
)

// Policy configures the failure window and lockout.
type Policy struct {
	Window   time.Duration // failures older than this start a fresh count
	MaxFails int           // failures within Window that trigger a block
	BlockFor time.Duration
}

// Querier is the subset of a pgx pool used by PG.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PG keeps per-origin failure counters in the redeem_limiter table.
type PG struct {
	q      Querier
	policy Policy
	now    func() time.Time
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(q Querier, p Policy) *PG {
	if p.MaxFails <= 0 {
		p.MaxFails = 10
	}
	return &PG{q: q, policy: p, now: time.Now}
}

// HashIP returns a stable digest of an origin address so raw IPs are never stored.
func HashIP(ip string) []byte {
	h := blake2b.Sum256([]byte("origin:" + ip))
	return h[:]
}

// Allow reports whether scope/ip is outside any active block.
func (l *PG) Allow(ctx context.Context, scope string, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM redeem_limiter WHERE scope=$1 AND ip_hash=$2`
	var until time.Time
	if err := l.q.QueryRow(ctx, q, scope, ipHash).Scan(&until); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true, 0, nil
		}
		return false, 0, err
	}
	if wait := until.Sub(l.now()); wait > 0 {
		return false, wait, nil
	}
	return true, 0, nil
}

// Success clears the counter for scope/ip.
func (l *PG) Success(ctx context.Context, scope string, ipHash []byte) error {
	const q = `DELETE FROM redeem_limiter WHERE scope=$1 AND ip_hash=$2`
	_, err := l.q.Exec(ctx, q, scope, ipHash)
	return err
}

// Failure counts a failed attempt and blocks the origin once MaxFails is reached
// inside the window. The count and the block are written by one statement.
func (l *PG) Failure(ctx context.Context, scope string, ipHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO redeem_limiter AS rl (scope, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 1, CASE WHEN $4 <= 1 THEN $3::timestamptz + $6::interval ELSE 'epoch' END, $3)
ON CONFLICT (scope, ip_hash) DO UPDATE
SET fail_count = CASE WHEN $3::timestamptz - rl.updated_at > $5::interval THEN 1 ELSE rl.fail_count + 1 END,
    blocked_until = CASE
        WHEN (CASE WHEN $3::timestamptz - rl.updated_at > $5::interval THEN 1 ELSE rl.fail_count + 1 END) >= $4
        THEN $3::timestamptz + $6::interval
        ELSE rl.blocked_until END,
    updated_at = $3
RETURNING fail_count`
	now := l.now()
	var fails int
	if err := l.q.QueryRow(ctx, q, scope, ipHash, now, l.policy.MaxFails, l.policy.Window, l.policy.BlockFor).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails >= l.policy.MaxFails {
		return true, l.policy.BlockFor, nil
	}
	return false, 0, nil
}

// Noop never blocks. Used when no database-backed limiter is configured.
type Noop struct{}

func (Noop) Allow(context.Context, string, []byte) (bool, time.Duration, error)   { return true, 0, nil }
func (Noop) Success(context.Context, string, []byte) error                         { return nil }
func (Noop) Failure(context.Context, string, []byte) (bool, time.Duration, error) { return false, 0, nil }
