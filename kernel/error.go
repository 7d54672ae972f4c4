// Package kernel holds the error type and memory helpers shared by every
// kernel package.
package kernel

// Error is the error type returned by kernel code. Errors are declared as
// package-level *Error values and compared by identity; kernel code runs
// without a heap so it cannot build errors at runtime.
type Error struct {
	// Module names the subsystem that raised the error, e.g. "pfa".
	Module string

	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
