package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/blescan/internal/device"
)

// Advertisement is a static device.Advertisement
type Advertisement struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	SignalRSSI    int    `json:"rssi"`
	IsConnectable bool   `json:"connectable"`
}

func (a *Advertisement) LocalName() string { return a.Name }
func (a *Advertisement) Connectable() bool { return a.IsConnectable }
func (a *Advertisement) RSSI() int         { return a.SignalRSSI }
func (a *Advertisement) Addr() string      { return a.Address }

// AdvertisementBuilder builds advertisements for testing.
// Defaults: connectable, RSSI -50, no name.
type AdvertisementBuilder struct {
	adv Advertisement
}

// NewAdvertisementBuilder creates a new AdvertisementBuilder with default values.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: Advertisement{
		SignalRSSI:    -50,
		IsConnectable: true,
	}}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.SignalRSSI = rssi
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.IsConnectable = c
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Absent fields keep their current values. Panics on invalid JSON as this is
// intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)
	if err := json.Unmarshal([]byte(jsonStr), &b.adv); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}
	return b
}

// Build returns a copy of the configured advertisement.
func (b *AdvertisementBuilder) Build() device.Advertisement {
	adv := b.adv
	return &adv
}
