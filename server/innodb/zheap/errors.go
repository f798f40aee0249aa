package zheap

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors, grouped the way server/innodb/basic/errors.go groups
// its error vars by concern.
var (
	// ErrInvariantViolation marks a decoded tuple/undo-record state that
	// contradicts spec.md §3's invariants. The caller's page is corrupt;
	// this package never attempts to repair it.
	ErrInvariantViolation = errors.New("zheap: invariant violation")

	// ErrChainExhausted is returned internally when a chain walk runs out
	// of undo without reaching a terminal state; it should never escape
	// resolveEffective/walk, which always terminate at a frozen/pre-horizon
	// state per spec.md §8 property 4.
	ErrChainExhausted = errors.New("zheap: undo chain exhausted without a verdict")
)

// errInvariantf wraps ErrInvariantViolation with context using the
// errors.Wrapf idiom.
func errInvariantf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvariantViolation, format, args...)
}

// assertf panics on a violated invariant. Called only from sites the
// design treats as fail-fast assertions (spec.md §7): a decoded undo
// record inconsistent with its expected type, or mutually-exclusive flags
// that already slipped past TupleFlags.Validate.
func assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf("zheap: assertion failed: "+format, args...))
	}
}
