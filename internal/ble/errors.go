package ble

import (
	"errors"
	"fmt"
	"strings"
)

// Precondition errors returned by Peripheral. The requested action is not
// performed when any of them is returned.
var (
	ErrNotInitialized          = errors.New("ble: server not initialized")
	ErrDuplicateService        = errors.New("ble: service already exists")
	ErrUnknownService          = errors.New("ble: service does not exist")
	ErrDuplicateCharacteristic = errors.New("ble: characteristic already exists")
	ErrUnknownCharacteristic   = errors.New("ble: characteristic does not exist")
	ErrServiceStarted          = errors.New("ble: service already started")
	ErrNotConnected            = errors.New("ble: no client connected")
	ErrInvalidUUID             = errors.New("ble: invalid UUID")
)

// Stack errors, see NormalizeError.
var (
	ErrBluetoothOff    = errors.New("ble: bluetooth is turned off")
	ErrPermission      = errors.New("ble: permission denied")
	ErrAdapterNotFound = errors.New("ble: adapter not found")
)

// errNotPublished is returned by stack characteristics used before their
// service was started.
var errNotPublished = errors.New("ble: characteristic not published")

// NormalizeError maps known stack error messages to the sentinel errors
// above, wrapping the original.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "is bluetooth turned on"),
		strings.Contains(msg, "bluetooth is turned off"),
		strings.Contains(msg, "powered off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case strings.Contains(msg, "operation not permitted"),
		strings.Contains(msg, "permission denied"):
		return fmt.Errorf("%w: %v", ErrPermission, err)
	case strings.Contains(msg, "no such device"),
		strings.Contains(msg, "can't init hci"):
		return fmt.Errorf("%w: %v", ErrAdapterNotFound, err)
	default:
		return err
	}
}
