//go:build linux

package goble

import "github.com/go-ble/ble/linux"

// platformAdapter names the adapter newPlatformDevice opens
const platformAdapter = "first available HCI adapter"

func newPlatformDevice() (ScanDevice, error) {
	dev, err := linux.NewDevice()
	if err != nil {
		return nil, err
	}
	return dev, nil
}
