package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/srg/blescan/collector"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/internal/permission"
)

var (
	// ErrAuthorizationDenied means the permission gate refused scanning.
	ErrAuthorizationDenied = errors.New("bluetooth permissions not granted")
	// ErrStartFailed matches any *OpError returned by Start.
	ErrStartFailed = errors.New("start failed")
	// ErrStopFailed matches any *OpError returned by Stop.
	ErrStopFailed = errors.New("stop failed")
	// ErrAlreadyScanning is returned by Start while a scan is running.
	ErrAlreadyScanning = collector.ErrAlreadyScanning
)

// OpError reports a radio operation that did not take effect.
type OpError struct {
	Op  string // "start" or "stop"
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("failed to %s scan: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStartFailed) and errors.Is(err, ErrStopFailed) work
func (e *OpError) Is(target error) bool {
	switch target {
	case ErrStartFailed:
		return e.Op == "start"
	case ErrStopFailed:
		return e.Op == "stop"
	default:
		return false
	}
}

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Scan phases reported to ProgressCallback
const (
	PhaseScanning   = "Scanning"
	PhaseProcessing = "Processing results"
)

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// addressFilter holds normalized allow/block sets
type addressFilter struct {
	allow map[string]struct{}
	block map[string]struct{}
}

func newAddressFilter(opts *ScanOptions) (*addressFilter, error) {
	allow, err := addressSet("allow", opts.AllowList)
	if err != nil {
		return nil, err
	}
	block, err := addressSet("block", opts.BlockList)
	if err != nil {
		return nil, err
	}
	return &addressFilter{allow: allow, block: block}, nil
}

func addressSet(list string, addrs []string) (map[string]struct{}, error) {
	for i, addr := range addrs {
		if _, err := device.ValidateAddress(addr); err != nil {
			return nil, fmt.Errorf("invalid %s list entry %d: %w", list, i, err)
		}
	}
	return lo.Keyify(lo.Map(addrs, func(a string, _ int) string { return device.NormalizeAddress(a) })), nil
}

// includes applies block then allow lists
func (f *addressFilter) includes(addr string) bool {
	addr = device.NormalizeAddress(addr)
	if _, blocked := f.block[addr]; blocked {
		return false
	}
	if len(f.allow) > 0 {
		_, allowed := f.allow[addr]
		return allowed
	}
	return true
}

// Scanner drives a radio on behalf of a collector, subject to a permission gate.
type Scanner struct {
	radio     device.Radio
	gate      permission.Gate
	collector *collector.Collector
	logger    *logrus.Logger

	opMu    sync.Mutex // serializes Start and Stop
	filter  atomic.Pointer[addressFilter]
	lastEnd atomic.Pointer[endError]
}

// endError boxes the error of a scan the radio ended on its own
type endError struct {
	err error
}

// NewScanner creates a new BLE scanner
func NewScanner(radio device.Radio, gate permission.Gate, logger *logrus.Logger, opts ...collector.Option) (*Scanner, error) {
	if radio == nil {
		return nil, fmt.Errorf("radio is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if gate == nil {
		gate = permission.StaticGate(true)
	}

	s := &Scanner{
		radio:     radio,
		gate:      gate,
		collector: collector.New(logger, opts...),
		logger:    logger,
	}
	s.filter.Store(&addressFilter{})
	if n, ok := radio.(device.EndNotifier); ok {
		n.OnScanEnded(s.radioEnded)
	}
	return s, nil
}

// Start begins a new scan session. Results of the previous session are discarded
// once the radio accepts the scan; a rejected start keeps them.
func (s *Scanner) Start(ctx context.Context, opts *ScanOptions) error {
	if opts == nil {
		opts = DefaultScanOptions()
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.collector.IsActive() {
		return ErrAlreadyScanning
	}

	filter, err := newAddressFilter(opts)
	if err != nil {
		return err
	}

	granted, err := s.gate.Authorized(ctx)
	if err != nil {
		return fmt.Errorf("failed to check bluetooth authorization: %w", err)
	}
	if !granted {
		return ErrAuthorizationDenied
	}

	s.filter.Store(filter)
	s.lastEnd.Store(nil)

	// the collector is armed before the radio so the first advertisements are kept
	if err := s.collector.Start(); err != nil {
		return err
	}

	if err := s.radio.StartScan(!opts.DuplicateFilter, s.handleAdvertisement); err != nil {
		s.collector.Abort()
		s.logger.WithError(err).Error("Failed to start BLE scan")
		return &OpError{Op: "start", Err: err}
	}

	s.logger.WithField("duplicate_filter", opts.DuplicateFilter).Info("Starting BLE scan...")
	return nil
}

// Stop ends the scan session. Stopping an idle scanner is a no-op.
// When the radio refuses to stop, the session stays active.
func (s *Scanner) Stop() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.collector.IsActive() {
		return nil
	}

	if err := s.radio.StopScan(); err != nil {
		s.logger.WithError(err).Error("Failed to stop BLE scan")
		return &OpError{Op: "stop", Err: err}
	}

	s.collector.Stop()
	s.logger.WithField("device_count", s.collector.Len()).Info("BLE scan stopped")
	return nil
}

// Scan performs a bounded scan: start, wait for opts.Duration or ctx, stop.
// A zero Duration scans until ctx is done. The collected devices are returned
// even when ctx was canceled, together with ctx.Err().
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]collector.Event, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting bounded BLE scan")

	if err := s.Start(ctx, opts); err != nil {
		return nil, err
	}
	progressCallback(PhaseScanning)

	var timeout <-chan time.Time
	if opts.Duration > 0 {
		timer := time.NewTimer(opts.Duration)
		defer timer.Stop()
		timeout = timer.C
	}

	var waitErr error
	select {
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			waitErr = ctx.Err()
		}
	case <-timeout:
	}

	progressCallback(PhaseProcessing)

	if err := s.Stop(); err != nil {
		return s.collector.Snapshot(), err
	}

	if err := s.EndError(); err != nil {
		return s.collector.Snapshot(), fmt.Errorf("scan ended early: %w", err)
	}

	s.logger.WithField("device_count", s.collector.Len()).Info("BLE scan completed")
	return s.collector.Snapshot(), waitErr
}

// radioEnded closes the session when the radio stopped scanning without Stop
func (s *Scanner) radioEnded(err error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.collector.IsActive() {
		return
	}
	if err == nil {
		err = errors.New("scan ended by platform")
	}

	s.collector.Stop()
	s.lastEnd.Store(&endError{err: err})
	s.logger.WithError(err).WithField("device_count", s.collector.Len()).Error("BLE scan ended unexpectedly")
}

// EndError returns why the radio ended the last session on its own,
// or nil when the session was stopped by Stop or is still running.
func (s *Scanner) EndError() error {
	if e := s.lastEnd.Load(); e != nil {
		return e.err
	}
	return nil
}

// handleAdvertisement applies address filters and forwards to the collector
func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	if !s.filter.Load().includes(adv.Addr()) {
		return
	}
	s.collector.HandleAdvertisement(adv)
}

// Adapter names the radio's adapter, or "unknown" when the radio can't tell.
func (s *Scanner) Adapter() string {
	if n, ok := s.radio.(device.AdapterNamer); ok && n.Adapter() != "" {
		return n.Adapter()
	}
	return "unknown"
}

// IsScanning reports whether a scan session is active
func (s *Scanner) IsScanning() bool {
	return s.collector.IsActive()
}

// Devices returns a snapshot of discovered devices in first-seen order
func (s *Scanner) Devices() []collector.Event {
	return s.collector.Snapshot()
}

// Events returns a read-only channel of device events
func (s *Scanner) Events() <-chan collector.DeviceEvent {
	return s.collector.Events()
}
