package sessiontable

import "errors"

var (
	// ErrTooManySessions is returned by CreateSession when the table is at its
	// configured capacity. No state is modified; the caller may surface a
	// protocol-level "server too busy" response and retry later.
	ErrTooManySessions = errors.New("session table is at capacity")

	// ErrOutOfMemory is returned by CreateSession when the external session
	// initializer cannot acquire the resources the new session needs. No state
	// is modified and the identifier counter is not advanced.
	ErrOutOfMemory = errors.New("session resources could not be allocated")

	// ErrNotFound is returned by lookups and RemoveSession when no live session
	// matches the given identifier or token. Callers should treat this as
	// "already gone" / "never existed".
	ErrNotFound = errors.New("session not found")

	// ErrInvalidArgument is returned when an operation is invoked on a nil
	// table. It indicates a caller bug, not a recoverable runtime condition.
	ErrInvalidArgument = errors.New("invalid argument")
)
