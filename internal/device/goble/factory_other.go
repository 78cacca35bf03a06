//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/srg/blescan/internal/device"
)

// platformAdapter names the adapter newPlatformDevice opens
const platformAdapter = "none"

func newPlatformDevice() (ScanDevice, error) {
	return nil, fmt.Errorf("%w: go-ble does not support %s", device.ErrNoAdapter, runtime.GOOS)
}
