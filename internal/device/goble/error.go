package goble

import (
	"fmt"
	"strings"

	"github.com/srg/blescan/internal/device"
)

// NormalizeError maps known go-ble error strings to the device sentinel errors.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	// darwin: CBManagerState 4 = poweredOff, 3 = unauthorized, 2 = unsupported
	case containsIgnoreCase(msg, "invalid state: have=4"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "invalid state: have=3"):
		return fmt.Errorf("%w: %v", device.ErrUnauthorized, err)
	case containsIgnoreCase(msg, "invalid state: have=2"):
		return fmt.Errorf("%w: %v", device.ErrNoAdapter, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	// linux: HCI user channel needs CAP_NET_ADMIN
	case containsIgnoreCase(msg, "operation not permitted"),
		containsIgnoreCase(msg, "permission denied"):
		return fmt.Errorf("%w: %v", device.ErrUnauthorized, err)
	case containsIgnoreCase(msg, "no devices available"),
		containsIgnoreCase(msg, "no supported devices"):
		return fmt.Errorf("%w: %v", device.ErrNoAdapter, err)
	default:
		return err
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
