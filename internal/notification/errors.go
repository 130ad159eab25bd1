package notification

import (
	"fmt"

	"github.com/hrconsole/notifyd/internal/errors"
)

const componentName = "notification"

// ErrClosed is returned by operations on a closed Engine.
var ErrClosed = errors.Newf("notification engine closed").
	Component(componentName).
	Category(errors.CategoryState).
	Build()

// FetchError reports a failed snapshot request. Local state is unchanged.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching notification snapshot: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RollbackError reports a rejected read confirmation. The entry has been
// returned to the unread set in StateRollbackFailed and MarkRead may be
// called again.
type RollbackError struct {
	ID  string
	Err error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("marking notification %s read: %v", e.ID, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }
