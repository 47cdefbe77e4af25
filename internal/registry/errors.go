package registry

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition indicates an attempt to move an item between
// non-adjacent states, or from a state it is no longer in. It signals a
// caller bug, never a recoverable runtime condition.
var ErrIllegalTransition = errors.New("illegal status transition")

// ErrDuplicateItem indicates a second registration for an item id.
var ErrDuplicateItem = errors.New("item already registered")

// ErrUnknownItem indicates an operation against an id the registry has
// never seen.
var ErrUnknownItem = errors.New("unknown item")

func illegalTransition(itemID string, from, to, actual Status) error {
	if actual != "" && actual != from {
		return fmt.Errorf("%w: item %s is %s, not %s (wanted %s)", ErrIllegalTransition, itemID, actual, from, to)
	}
	return fmt.Errorf("%w: item %s: %s -> %s", ErrIllegalTransition, itemID, from, to)
}
