// Package cpu exposes the handful of processor instructions needed during
// early boot.
package cpu

// DisableInterrupts clears the interrupt flag.
func DisableInterrupts()

// Halt disables interrupts and stops instruction execution. It never
// returns.
func Halt()
