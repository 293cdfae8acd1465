package ecs

import "github.com/rotisserie/eris"

// Error taxonomy shared by the runtime. Callers match with errors.Is; the
// returned errors carry context added with eris.Wrapf.
var (
	// ErrNotFound reports a missing entity, component, or query handle.
	ErrNotFound = eris.New("not found")
	// ErrInvalidSignature reports a query or column access over an unknown or
	// mismatched component type.
	ErrInvalidSignature = eris.New("invalid signature")
	// ErrConfiguration reports malformed data, such as an unsupported collider
	// kind or a snapshot that does not match the registered schemas.
	ErrConfiguration = eris.New("configuration error")
	// ErrBackendFailure reports a failed call into an external engine.
	ErrBackendFailure = eris.New("backend failure")
)
