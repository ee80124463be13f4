package content

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a page id that is not present for the current actor.
	ErrNotFound = errors.New("content: page not found")

	// ErrParentNotFound is returned by Create when the parent id is unknown.
	ErrParentNotFound = fmt.Errorf("%w: parent", ErrNotFound)

	// ErrExists is returned by Create instead of overwriting a file.
	ErrExists = errors.New("content: page already exists")

	// ErrTreeDisabled is returned by Tree when the store was built without PageTree.
	ErrTreeDisabled = errors.New("content: page tree is not enabled")
)

// IntegrityError reports authored content that cannot be served safely,
// e.g. a PRIVATE page without an owner. It aborts the read cycle.
type IntegrityError struct {
	ID     string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("content: page %s: %s", e.ID, e.Reason)
}

// IsIntegrity reports whether err carries an *IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
