package device

import (
	"errors"
	"fmt"
	"strings"
)

// Adapter state errors
var (
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrUnauthorized = errors.New("bluetooth access is not authorized")
	ErrNoAdapter    = errors.New("no bluetooth adapter available")
)

// Radio state errors
var (
	ErrScanInProgress = errors.New("scan already in progress")
)

// IsAuthorizationError reports whether err means the process may not use the radio
// at all, as opposed to a transient failure of a single operation.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrBluetoothOff) || errors.Is(err, ErrNoAdapter)
}

// Advertisement is a single BLE advertisement observation.
type Advertisement interface {
	LocalName() string
	Connectable() bool
	RSSI() int
	Addr() string
}

// Radio is a platform scanning facility.
//
// StartScan returns once the platform accepted the scan request; advertisements
// are delivered to handler on a platform goroutine until StopScan is called.
type Radio interface {
	StartScan(allowDup bool, handler func(Advertisement)) error
	StopScan() error
}

// EndNotifier is implemented by radios that can report a scan the platform
// ended on its own, without StopScan.
type EndNotifier interface {
	OnScanEnded(fn func(err error))
}

// AdapterNamer is implemented by radios that can name the adapter they use.
type AdapterNamer interface {
	Adapter() string
}

// NormalizeAddress returns the canonical form of a device address used as a
// deduplication key: trimmed and upper-cased.
func NormalizeAddress(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}

// ValidateAddress checks that addr is usable as a device key.
func ValidateAddress(addr string) (string, error) {
	norm := NormalizeAddress(addr)
	if norm == "" {
		return "", fmt.Errorf("empty device address")
	}
	return norm, nil
}
