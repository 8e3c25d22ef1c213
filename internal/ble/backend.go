package ble

import "fmt"

// Supported stack backends.
const (
	BackendTinyGo = "tinygo"
	BackendGoBLE  = "goble"
)

// NewStack returns the stack implementation for backend.
func NewStack(backend string) (Stack, error) {
	switch backend {
	case BackendTinyGo:
		return newTinyGoStack()
	case BackendGoBLE:
		return NewGoBLEStack(), nil
	default:
		return nil, fmt.Errorf("ble: unknown backend %q", backend)
	}
}
