package ble

import "github.com/go-ble/ble/darwin"

func newGoBLEDevice() (GoBLEDevice, error) {
	dev, err := darwin.NewDevice()
	if err != nil {
		return nil, err
	}
	return dev, nil
}
