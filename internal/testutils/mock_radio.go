package testutils

import (
	"sync"

	"github.com/srg/blescan/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockRadio is a testify mock of device.Radio.
//
// When StartScan succeeds, the configured Advertisements are delivered
// synchronously to the handler, and further ones can be pushed with Emit.
// The handler is kept after StopScan so tests can model late platform callbacks.
//
//	radio := testutils.NewMockRadio(adv1, adv2)
//	radio.On("StartScan", mock.Anything, mock.Anything).Return(nil)
//	radio.On("StopScan").Return(nil)
type MockRadio struct {
	mock.Mock

	Advertisements []device.Advertisement

	mu      sync.Mutex
	handler func(device.Advertisement)
	onEnded func(error)
}

// NewMockRadio creates a MockRadio delivering advs on start
func NewMockRadio(advs ...device.Advertisement) *MockRadio {
	return &MockRadio{Advertisements: advs}
}

// NewStartedMockRadio creates a MockRadio whose start and stop both succeed
func NewStartedMockRadio(advs ...device.Advertisement) *MockRadio {
	m := NewMockRadio(advs...)
	m.On("StartScan", mock.Anything, mock.Anything).Return(nil)
	m.On("StopScan").Return(nil)
	return m
}

func (m *MockRadio) StartScan(allowDup bool, handler func(device.Advertisement)) error {
	args := m.Called(allowDup, handler)
	if err := args.Error(0); err != nil {
		return err
	}

	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()

	for _, adv := range m.Advertisements {
		handler(adv)
	}
	return nil
}

func (m *MockRadio) StopScan() error {
	args := m.Called()
	return args.Error(0)
}

// Emit delivers adv to the most recent scan handler, if any.
func (m *MockRadio) Emit(adv device.Advertisement) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()

	if h != nil {
		h(adv)
	}
}

// OnScanEnded keeps fn for End
func (m *MockRadio) OnScanEnded(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnded = fn
}

// End simulates the platform ending the scan on its own.
func (m *MockRadio) End(err error) {
	m.mu.Lock()
	fn := m.onEnded
	m.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}
