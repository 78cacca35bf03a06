package device_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srg/blescan/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "aa:bb:cc:dd:ee:ff", want: "AA:BB:CC:DD:EE:FF"},
		{in: "  AA:BB:CC:DD:EE:FF\n", want: "AA:BB:CC:DD:EE:FF"},
		{in: "01234567-89ab-cdef-0123-456789abcdef", want: "01234567-89AB-CDEF-0123-456789ABCDEF"},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, device.NormalizeAddress(tt.in))
		})
	}
}

func TestValidateAddress(t *testing.T) {
	addr, err := device.ValidateAddress("aa:bb")
	require.NoError(t, err)
	assert.Equal(t, "AA:BB", addr)

	_, err = device.ValidateAddress("   ")
	assert.EqualError(t, err, "empty device address")
}

func TestIsAuthorizationError(t *testing.T) {
	assert.True(t, device.IsAuthorizationError(device.ErrUnauthorized))
	assert.True(t, device.IsAuthorizationError(fmt.Errorf("%w: have=4", device.ErrBluetoothOff)))
	assert.True(t, device.IsAuthorizationError(device.ErrNoAdapter))
	assert.False(t, device.IsAuthorizationError(device.ErrScanInProgress))
	assert.False(t, device.IsAuthorizationError(errors.New("bluetooth is turned off")), "only sentinel errors count")
	assert.False(t, device.IsAuthorizationError(nil))
}
