//go:build darwin

package goble

import "github.com/go-ble/ble/darwin"

// platformAdapter names the adapter newPlatformDevice opens
const platformAdapter = "CoreBluetooth"

func newPlatformDevice() (ScanDevice, error) {
	dev, err := darwin.NewDevice()
	if err != nil {
		return nil, err
	}
	return dev, nil
}
