package resilience

import (
	"errors"
	"fmt"

	"github.com/kalambet/lecturelens/internal/docstore"
)

// ErrRemoteNotConfigured is reported when no remote store was configured and
// the coordinator runs in local-only mode.
var ErrRemoteNotConfigured = errors.New("remote store not configured")

// PersistenceError means both backends failed for one operation. Document
// holds the caller's document (or patch) so the write can be retried.
type PersistenceError struct {
	Op         string
	Collection string
	ID         string
	Document   docstore.Document
	Remote     error
	Local      error
}

func (e *PersistenceError) Error() string {
	target := e.Collection
	if e.ID != "" {
		target += "/" + e.ID
	}
	return fmt.Sprintf("%s %s failed on both backends: remote: %v; local: %v", e.Op, target, e.Remote, e.Local)
}

func (e *PersistenceError) Unwrap() []error {
	var errs []error
	if e.Remote != nil {
		errs = append(errs, e.Remote)
	}
	if e.Local != nil {
		errs = append(errs, e.Local)
	}
	return errs
}

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
