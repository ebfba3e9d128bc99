package lockfree

import (
	"errors"
	"fmt"
)

var (
	// ErrLinksExhausted indicates the link index space is used up. The link
	// budget is static, so this is a sizing bug or a leak, never transient.
	ErrLinksExhausted = errors.New(`lockfree: link index space exhausted`)

	// ErrInvalidLink indicates an index outside the published pages was
	// resolved.
	ErrInvalidLink = errors.New(`lockfree: invalid link index`)

	// ErrStalledPop indicates a worker tried to stall while its stall bit was
	// already set, i.e. a lost wake or a re-entrant pop.
	ErrStalledPop = errors.New(`lockfree: pop with stall bit already set`)

	// ErrTooManyWorkers indicates a worker id outside the stall mask.
	ErrTooManyWorkers = errors.New(`lockfree: worker id exceeds stall mask`)
)

// FatalError is the panic value for unrecoverable conditions. The host may
// recover it, but the structure that raised it must be considered corrupt.
type FatalError struct {
	Err error
	Op  string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf(`%s: %v`, e.Op, e.Err)
}

// Unwrap supports [errors.Is] against the sentinel errors.
func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatal(op string, err error) {
	panic(&FatalError{Op: op, Err: err})
}
