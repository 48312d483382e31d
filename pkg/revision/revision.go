// Package revision implements the Revision record and the revision-number
// domain helpers: non-negative integers, plus a sentinel domain that
// additionally admits -1 to mean "no revisions yet".
package revision

import (
	"time"

	"github.com/quietloom/revstore/pkg/delta"
	"github.com/quietloom/revstore/pkg/errors"
)

// Revision is the quadruple (revNum, delta, timestamp?, authorId?).
// Timestamp and AuthorID are nil when the revision carries no
// single-moment/single-author provenance, which is typical of composed
// revisions.
type Revision struct {
	RevNum    int64
	Delta     delta.Delta
	Timestamp *time.Time
	AuthorID  *string
}

// Empty is the canonical revision every file's revisions[0] must equal:
// revNum 0, an empty delta, no timestamp, no author.
func Empty() Revision {
	return Revision{RevNum: 0, Delta: delta.New()}
}

// New builds a revision carrying optional provenance.
func New(revNum int64, d delta.Delta, timestamp *time.Time, authorID *string) (Revision, error) {
	if err := Check(revNum); err != nil {
		return Revision{}, err
	}
	return Revision{RevNum: revNum, Delta: d, Timestamp: timestamp, AuthorID: authorID}, nil
}

// Check validates that n is a well-formed, non-negative revision number.
func Check(n int64) error {
	if n < 0 {
		return errors.NewBadValuef("revNum", "%d must be non-negative", n)
	}
	return nil
}

// CheckOrNeg1 validates n against the sentinel domain that additionally
// admits -1 ("no revisions yet", an absent file's currentRevNum).
func CheckOrNeg1(n int64) error {
	if n == -1 {
		return nil
	}
	return Check(n)
}

// MaxInc returns the larger of n and limit (a lower clamp: the result is
// never below limit; values above limit pass through unchanged), used to
// advance currentRevNum to at least prev+1 on append.
func MaxInc(n, limit int64) int64 {
	if n > limit {
		return n
	}
	return limit
}

// MaxExc returns n if n is strictly below limit, otherwise limit-1, an
// exclusive upper clamp used when validating a requested revNum against a
// tip that must not be exceeded.
func MaxExc(n, limit int64) int64 {
	if n < limit {
		return n
	}
	return limit - 1
}

// Min returns the smaller of n and floor, an upper clamp on n.
func Min(n, floor int64) int64 {
	if n < floor {
		return n
	}
	return floor
}

// OrNeg1 returns n, or -1 if n is negative. Normalizes any negative value
// into the domain's single sentinel rather than propagating arbitrary
// negative numbers.
func OrNeg1(n int64) int64 {
	if n < 0 {
		return -1
	}
	return n
}
