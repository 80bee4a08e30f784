// Package apperrors provides the typed error kinds shared across the engine.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error. Every error surfaced by a backend or the
// transaction layer wraps exactly one kind so callers can match with errors.Is.
type Kind int

const (
	// KindNotFound indicates an unknown revision or object id.
	KindNotFound Kind = iota
	// KindConflict indicates a stale source revision at commit time.
	KindConflict
	// KindValidation indicates a change set or rollback target that violates
	// the catalog invariants.
	KindValidation
	// KindUnsupported indicates an operation the backend cannot provide.
	KindUnsupported
	// KindBackendIO indicates an underlying storage or transport failure,
	// treated as possibly transient.
	KindBackendIO
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindUnsupported:
		return "unsupported"
	case KindBackendIO:
		return "backend I/O"
	}
	return "unknown"
}

// Error is a typed engine error: a kind, a human-readable cause chain, and
// optional revision/object context for the caller's retry decision.
type Error struct {
	Kind     Kind
	Revision string // source revision, when known
	Target   string // target or current revision, when known
	ObjectID string // object id, when known
	Err      error
	Msg      string
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.ObjectID != "" {
		msg = fmt.Sprintf("%s (object %s)", msg, e.ObjectID)
	}
	if e.Revision != "" {
		msg = fmt.Sprintf("%s (revision %s)", msg, e.Revision)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the kind sentinel and the cause chain.
func (e *Error) Unwrap() []error {
	errs := []error{sentinelFor(e.Kind)}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Sentinels matched by errors.Is. Typed Errors unwrap to these.
var (
	// ErrNotFound is the KindNotFound sentinel.
	ErrNotFound = errors.New("not found")

	// ErrConflict is the KindConflict sentinel.
	ErrConflict = errors.New("source revision is stale")

	// ErrValidation is the KindValidation sentinel.
	ErrValidation = errors.New("validation failed")

	// ErrUnsupported is the KindUnsupported sentinel.
	ErrUnsupported = errors.New("operation not supported by backend")

	// ErrBackendIO is the KindBackendIO sentinel.
	ErrBackendIO = errors.New("backend I/O failure")
)

func sentinelFor(k Kind) error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindValidation:
		return ErrValidation
	case KindUnsupported:
		return ErrUnsupported
	case KindBackendIO:
		return ErrBackendIO
	}
	return nil
}

// NotFound builds a KindNotFound error.
func NotFound(msg string, err error) *Error {
	return &Error{Kind: KindNotFound, Msg: msg, Err: err}
}

// NotFoundObject builds a KindNotFound error for an object id.
func NotFoundObject(id string) *Error {
	return &Error{Kind: KindNotFound, Msg: "object not found", ObjectID: id}
}

// NotFoundRevision builds a KindNotFound error for a revision.
func NotFoundRevision(revision string) *Error {
	return &Error{Kind: KindNotFound, Msg: "unknown revision", Revision: revision}
}

// Conflict builds a KindConflict error carrying the stale source revision and
// the backend's current revision.
func Conflict(source, current string) *Error {
	return &Error{
		Kind:     KindConflict,
		Msg:      "current revision has moved",
		Revision: source,
		Target:   current,
	}
}

// Validation builds a KindValidation error.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Msg: msg}
}

// ValidationObject builds a KindValidation error for an object id.
func ValidationObject(msg, id string) *Error {
	return &Error{Kind: KindValidation, Msg: msg, ObjectID: id}
}

// Unsupported builds a KindUnsupported error.
func Unsupported(msg string) *Error {
	return &Error{Kind: KindUnsupported, Msg: msg}
}

// BackendIO wraps an underlying storage or transport failure.
func BackendIO(msg string, err error) *Error {
	return &Error{Kind: KindBackendIO, Msg: msg, Err: err}
}

// Common static errors used throughout the application.
var (
	// ErrTransactionClosed is returned when staging or committing on a
	// transaction that has already been committed or aborted.
	ErrTransactionClosed = errors.New("transaction already committed or aborted")

	// ErrRepositoryExists is returned when initializing over a non-empty directory.
	ErrRepositoryExists = errors.New("repository already initialized")

	// ErrRepositoryNotFound is returned when opening a directory that is not a repository.
	ErrRepositoryNotFound = errors.New("repository not found")

	// ErrProcessorNotFound is returned when the requested processor is not registered.
	ErrProcessorNotFound = errors.New("processor not found")

	// ErrRemoteNotConfigured is returned when a sync operation is attempted
	// without a remote location.
	ErrRemoteNotConfigured = errors.New("no remote configured")

	// ErrHTTPSPasswordRequired is returned when an HTTPS remote URL is used
	// without STAC_GIT_PASS.
	ErrHTTPSPasswordRequired = errors.New("STAC_GIT_PASS required for HTTPS remotes")
)
