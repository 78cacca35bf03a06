package main

import (
	"errors"
	"fmt"

	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/scanner"
)

// permissionsMessage is shown instead of the scanner when access is denied
const permissionsMessage = "Permissions not granted"

// FormatUserError turns scanner and radio errors into a one-line message.
// Unknown errors are returned as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var hint string
	switch {
	case errors.Is(err, scanner.ErrAuthorizationDenied):
		return permissionsMessage
	case errors.Is(err, device.ErrBluetoothOff):
		hint = "turn Bluetooth on and try again"
	case errors.Is(err, device.ErrUnauthorized):
		hint = "grant Bluetooth access to this terminal in system settings"
	case errors.Is(err, device.ErrNoAdapter):
		hint = "no usable Bluetooth adapter was found"
	case errors.Is(err, scanner.ErrAlreadyScanning):
		return "a scan is already running"
	}

	if hint == "" {
		return err.Error()
	}
	return fmt.Sprintf("%v (%s)", err, hint)
}
