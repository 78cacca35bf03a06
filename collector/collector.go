// Package collector maintains the ordered, de-duplicated set of BLE devices
// seen during the current scan session.
//
// Devices are keyed by address. The first advertisement from an address fixes
// its position; later advertisements refresh the entry in place (last wins):
// RSSI, connectability and last-seen time are replaced, and the name is
// replaced only when the newer advertisement carries one.
package collector

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/internal/ringchan"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrAlreadyScanning is returned by Start when a session is already active.
var ErrAlreadyScanning = errors.New("already scanning")

// DefaultEventBuffer is the capacity of the Events channel.
const DefaultEventBuffer = 100

// Event is a single advertisement observation, and the stored state of a device.
type Event struct {
	Address     string    `json:"address"`
	Name        string    `json:"name,omitempty"`
	RSSI        int       `json:"rssi"`
	Connectable bool      `json:"connectable"`
	LastSeen    time.Time `json:"lastSeen"`
	Count       int       `json:"count"`
}

// DisplayName returns the advertised name, or "Unknown" when none was seen.
func (e Event) DisplayName() string {
	if e.Name == "" {
		return "Unknown"
	}
	return e.Name
}

// FromAdvertisement converts a radio advertisement into an Event.
func FromAdvertisement(adv device.Advertisement) Event {
	return Event{
		Address:     adv.Addr(),
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
	}
}

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

func (t DeviceEventType) String() string {
	switch t {
	case EventNew:
		return "new"
	case EventUpdated:
		return "updated"
	default:
		return "unknown"
	}
}

// DeviceEvent reports a change to the collected set
type DeviceEvent struct {
	Type   DeviceEventType
	Device Event
}

// Collector is safe for concurrent use: the owner calls Start and Stop,
// the radio callback calls OnEvent, renderers call Snapshot.
type Collector struct {
	mu       sync.RWMutex
	active   bool
	results  *orderedmap.OrderedMap[string, Event]
	previous *orderedmap.OrderedMap[string, Event] // kept until the session takes effect

	events *ringchan.RingChannel[DeviceEvent]
	now    func() time.Time
	logger *logrus.Logger
}

// Option configures a Collector
type Option func(*Collector)

// WithClock overrides the time source used for LastSeen.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(capacity int) Option {
	return func(c *Collector) {
		c.events = ringchan.New[DeviceEvent](capacity)
	}
}

// New creates an inactive collector with an empty result set.
func New(logger *logrus.Logger, opts ...Option) *Collector {
	if logger == nil {
		logger = logrus.New()
	}

	c := &Collector{
		results: orderedmap.New[string, Event](),
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.events == nil {
		c.events = ringchan.New[DeviceEvent](DefaultEventBuffer)
	}
	return c
}

// Start begins a fresh session, discarding results of the previous one.
func (c *Collector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return ErrAlreadyScanning
	}

	c.previous = c.results
	c.results = orderedmap.New[string, Event]()
	c.active = true
	c.logger.Debug("Scan session started")
	return nil
}

// Abort ends a session that never took effect and restores the results of
// the previous one. It is a no-op outside an active session.
func (c *Collector) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return
	}
	c.active = false
	if c.previous != nil {
		c.results = c.previous
	}
	c.previous = nil
	c.logger.Debug("Scan session aborted")
}

// Stop ends the session. Results stay readable until the next Start.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return
	}
	c.active = false
	c.previous = nil
	c.logger.WithField("device_count", c.results.Len()).Debug("Scan session stopped")
}

// IsActive reports whether a session is in progress
func (c *Collector) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// OnEvent records an advertisement. Events outside an active session and
// events without an address are dropped.
func (c *Collector) OnEvent(ev Event) {
	addr := device.NormalizeAddress(ev.Address)
	if addr == "" {
		return
	}
	ev.Address = addr

	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}

	ev.LastSeen = c.now()
	devEvent := DeviceEvent{Type: EventNew}

	if existing, ok := c.results.Get(addr); ok {
		existing.RSSI = ev.RSSI
		existing.Connectable = ev.Connectable
		existing.LastSeen = ev.LastSeen
		existing.Count++
		if ev.Name != "" {
			existing.Name = ev.Name
		}
		c.results.Set(addr, existing)

		devEvent.Type = EventUpdated
		devEvent.Device = existing
	} else {
		ev.Count = 1
		c.results.Set(addr, ev)
		devEvent.Device = ev
	}
	c.mu.Unlock()

	if devEvent.Type == EventNew {
		c.logger.WithFields(logrus.Fields{
			"device":  devEvent.Device.DisplayName(),
			"address": devEvent.Device.Address,
			"rssi":    devEvent.Device.RSSI,
		}).Info("Discovered new device")
	} else {
		c.logger.WithFields(logrus.Fields{
			"address": devEvent.Device.Address,
			"rssi":    devEvent.Device.RSSI,
		}).Debug("Updated device")
	}

	if c.events.Send(devEvent) {
		c.logger.Debug("Event buffer full, dropped oldest device event")
	}
}

// HandleAdvertisement adapts OnEvent to a radio advertisement handler.
func (c *Collector) HandleAdvertisement(adv device.Advertisement) {
	c.OnEvent(FromAdvertisement(adv))
}

// Snapshot returns a copy of the collected devices in first-seen order.
func (c *Collector) Snapshot() []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Event, 0, c.results.Len())
	for pair := c.results.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Get returns the stored state of a single device
func (c *Collector) Get(address string) (Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.results.Get(device.NormalizeAddress(address))
}

// Len returns the number of distinct devices collected
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.results.Len()
}

// Events returns a read-only channel of device events.
// The channel is bounded; when the reader falls behind the oldest events are dropped.
func (c *Collector) Events() <-chan DeviceEvent {
	return c.events.C()
}
