package domain

import "errors"

// Error classes. Concrete errors wrap one of these so callers can branch
// with errors.Is without knowing the concrete type.
var (
	// ErrConfiguration covers duplicate identities and malformed operation
	// descriptors. Always raised before any connection is attempted.
	ErrConfiguration = errors.New("configuration error")

	// ErrConnection covers an unbuilt registry, a missing surface client and
	// transport failures while opening a session.
	ErrConnection = errors.New("connection error")

	// ErrSubscriptionTerminated is raised when an open stream ends abnormally.
	// It is confined to the task that owns the stream.
	ErrSubscriptionTerminated = errors.New("subscription terminated")

	// ErrPersistence is raised by snapshot writers. The writer keeps going.
	ErrPersistence = errors.New("persistence error")
)
