package ecs

// System represents a behavior that operates on entities with specific
// components. Update is expected to evaluate each query the system owns once
// and then act on the result.
type System interface {
	Update(frame *UpdateFrame) error
}

// Starter is implemented by systems that define queries or acquire resources
// before their first update.
type Starter interface {
	Start(w *World) error
}

// Freezer is implemented by systems with state worth saving.
type Freezer interface {
	Freeze() (State, error)
}

// Thawer is implemented by systems that can restore state produced by Freeze.
// Thaw is only called on started systems.
type Thawer interface {
	Thaw(state State) error
}

// Closer is implemented by systems that hold external resources.
type Closer interface {
	Close() error
}

// Named systems are registered under their own name instead of their Go type
// name. Names key frozen system state.
type Named interface {
	Name() string
}
