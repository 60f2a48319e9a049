package migration

import (
	"errors"
	"fmt"
)

// Sentinel kinds of the migration error taxonomy. Match them with errors.Is.
var (
	// ErrConfigConflict: a store name holds more than one role within a
	// single version, or the migration list itself is malformed. Detected
	// before any transaction opens.
	ErrConfigConflict = errors.New("config conflict")
	// ErrDuplicateStoreName: a new store's name already exists in the live
	// database at apply time.
	ErrDuplicateStoreName = errors.New("duplicate store name")
	// ErrMissingStore: a delete or update references a store absent from the
	// live database.
	ErrMissingStore = errors.New("missing store")
	// ErrMapper: a record mapper failed while transforming a record.
	ErrMapper = errors.New("record mapper failed")
	// ErrDowngradeUnsupported: target version is below the stored version.
	ErrDowngradeUnsupported = errors.New("downgrade unsupported")
	// ErrEngine: the underlying storage engine failed.
	ErrEngine = errors.New("storage engine failure")
)

// Error is the single aggregated error reported by a failed open. Version and
// Store identify the sub-step that triggered the failure; both are zero
// values when the failure precedes migration apply.
type Error struct {
	Kind    error
	Version int
	Store   string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Version > 0 {
		msg = fmt.Sprintf("%s at version %d", msg, e.Version)
	}
	if e.Store != "" {
		msg = fmt.Sprintf("%s (store %q)", msg, e.Store)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, ErrMissingStore) works on the
// aggregate.
func (e *Error) Is(target error) bool { return target == e.Kind }

func newError(kind error, version int, store string, err error) *Error {
	return &Error{Kind: kind, Version: version, Store: store, Err: err}
}
