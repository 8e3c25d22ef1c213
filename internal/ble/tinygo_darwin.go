package ble

import "errors"

func newTinyGoStack() (Stack, error) {
	return nil, errors.New("ble: tinygo peripheral mode is not supported on macOS, use the goble backend")
}
