package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/internal/groutine"
)

const (
	// DefaultStartSettle is how long StartScan waits for the platform to reject
	// a scan request before reporting the scan as started. go-ble returns start
	// failures synchronously from Scan, so they arrive well within this window.
	DefaultStartSettle = 250 * time.Millisecond

	// DefaultStopTimeout bounds how long StopScan waits for the scan goroutine.
	DefaultStopTimeout = 5 * time.Second
)

var errScanEnded = errors.New("scan ended by platform")

// ScanDevice is the part of ble.Device the radio needs.
type ScanDevice interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
}

// DeviceFactory creates the platform scanning device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Radio implements device.Radio on top of go-ble.
// The platform device is created lazily on first use and reused afterwards.
type Radio struct {
	logger      *logrus.Logger
	startSettle time.Duration
	stopTimeout time.Duration

	mu      sync.Mutex
	dev     ScanDevice
	session *scanSession
	onEnded func(error)
}

// scanSession is one running platform scan
type scanSession struct {
	cancel   context.CancelFunc
	ended    chan struct{} // closed when dev.Scan returned
	err      error         // valid once ended is closed
	stopping bool          // guarded by Radio.mu
}

// NewRadio creates a go-ble radio
func NewRadio(logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	return &Radio{
		logger:      logger,
		startSettle: DefaultStartSettle,
		stopTimeout: DefaultStopTimeout,
	}
}

// Adapter names the platform adapter this radio scans with.
func (r *Radio) Adapter() string {
	return platformAdapter
}

// OnScanEnded registers fn to be called when a started scan ends without
// StopScan, for example when the adapter is switched off mid-scan.
func (r *Radio) OnScanEnded(fn func(err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEnded = fn
}

// WithTimings overrides the start settle window and the stop timeout.
func (r *Radio) WithTimings(startSettle, stopTimeout time.Duration) *Radio {
	r.startSettle = startSettle
	r.stopTimeout = stopTimeout
	return r
}

// Probe opens the platform device without scanning.
// It reports adapter state and authorization failures as device sentinel errors.
func (r *Radio) Probe(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.deviceLocked()
	return err
}

func (r *Radio) deviceLocked() (ScanDevice, error) {
	if r.dev != nil {
		return r.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	r.dev = dev
	return dev, nil
}

// StartScan starts a go-ble scan delivering advertisements to handler.
func (r *Radio) StartScan(allowDup bool, handler func(device.Advertisement)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return device.ErrScanInProgress
	}

	dev, err := r.deviceLocked()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &scanSession{cancel: cancel, ended: make(chan struct{})}

	groutine.Go(ctx, "ble-scan", func(ctx context.Context) {
		sess.err = dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
			handler(NewAdvertisement(adv))
		})
		close(sess.ended)
		r.scanEnded(sess)
	})

	select {
	case <-sess.ended:
		cancel()
		if sess.err == nil {
			return errScanEnded
		}
		return NormalizeError(sess.err)
	case <-time.After(r.startSettle):
	}

	r.session = sess
	r.logger.WithField("allow_duplicates", allowDup).Debug("go-ble scan started")
	return nil
}

// scanEnded runs on the scan goroutine after dev.Scan returned.
// A session that was not asked to stop is reported to the OnScanEnded callback.
func (r *Radio) scanEnded(sess *scanSession) {
	r.mu.Lock()
	if r.session != sess {
		// rejected during the settle window, or already cleaned up by StopScan
		r.mu.Unlock()
		return
	}
	r.session = nil
	stopping := sess.stopping
	onEnded := r.onEnded
	r.mu.Unlock()

	sess.cancel()
	if stopping {
		return
	}

	err := errScanEnded
	if sess.err != nil {
		err = NormalizeError(sess.err)
	}
	r.logger.WithError(err).Warn("go-ble scan ended unexpectedly")
	if onEnded != nil {
		onEnded(err)
	}
}

// StopScan stops the running scan. Stopping an idle radio is a no-op.
func (r *Radio) StopScan() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.session
	if sess == nil {
		return nil
	}

	sess.stopping = true
	sess.cancel()

	select {
	case <-sess.ended:
	case <-time.After(r.stopTimeout):
		// the scan goroutine is stuck in the platform; keep state so a retry can wait again
		return fmt.Errorf("timed out after %s waiting for scan to stop", r.stopTimeout)
	}

	r.session = nil

	if err := sess.err; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return NormalizeError(err)
	}

	r.logger.Debug("go-ble scan stopped")
	return nil
}
