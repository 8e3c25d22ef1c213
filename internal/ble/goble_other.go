//go:build !linux && !darwin

package ble

import (
	"fmt"
	"runtime"
)

func newGoBLEDevice() (GoBLEDevice, error) {
	return nil, fmt.Errorf("ble: goble backend is not supported on %s", runtime.GOOS)
}
