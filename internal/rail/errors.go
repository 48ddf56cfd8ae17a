// internal/rail/errors.go
package rail

import (
	"context"
	"errors"
	"fmt"
	"net"

	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/util"
)

// Error is returned by adapters. Kind is one of the util sentinels so callers
// can branch with errors.Is across packages.
type Error struct {
	Rail domain.RailType
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Rail, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Rail, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Unavailable wraps a transport failure.
func Unavailable(r domain.RailType, op string, err error) error {
	return &Error{Rail: r, Op: op, Kind: util.ErrRailUnavailable, Err: err}
}

// InvalidDestination reports a malformed destination before any network call.
func InvalidDestination(r domain.RailType, op, destination string) error {
	return &Error{Rail: r, Op: op, Kind: util.ErrInvalidDestination, Err: fmt.Errorf("%q", destination)}
}

// Classify maps a raw client error onto the taxonomy. Timeouts, cancellations
// and network errors are unavailability; anything else keeps its kind.
func Classify(r domain.RailType, op string, err error, fallback error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return Unavailable(r, op, err)
	}
	return &Error{Rail: r, Op: op, Kind: fallback, Err: err}
}
