package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blescan/collector"
	"github.com/srg/blescan/internal/groutine"
	"github.com/srg/blescan/pkg/config"
	"github.com/srg/blescan/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Each device is listed once, keyed by its address, with the name it
advertises (or "Unknown"), its latest RSSI and whether it accepts
connections. Devices that do not accept connections are shown in grey.

With --watch the table is redrawn every second until Ctrl+C, showing
devices seen recently, strongest signal first.`,
	Example: `  blescan scan
  blescan scan -d 30s --format json
  blescan scan --watch --block AA:BB:CC:DD:EE:FF`,
	RunE: runScan,
}

var (
	scanDuration    time.Duration
	scanFormat      string
	scanAllowList   []string
	scanBlockList   []string
	scanNoDuplicate bool
	scanWatch       bool
)

var validFormats = []string{config.FormatTable, config.FormatJSON}

func init() {
	addScanFlags(scanCmd)
}

func addScanFlags(cmd *cobra.Command) {
	defaults := config.DefaultConfig()
	cmd.Flags().DurationVarP(&scanDuration, "duration", "d", defaults.ScanDuration, "Scan duration (0 scans until Ctrl+C)")
	cmd.Flags().StringVarP(&scanFormat, "format", "f", defaults.OutputFormat, "Output format (table, json)")
	cmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	cmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	cmd.Flags().BoolVar(&scanNoDuplicate, "no-duplicates", defaults.DuplicateFilter, "Filter duplicate advertisements")
	cmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously scan and update results")
}

// applyScanFlags copies explicitly set flags over the config values
func applyScanFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("duration") {
		cfg.ScanDuration = scanDuration
	}
	if flags.Changed("format") {
		cfg.OutputFormat = scanFormat
	}
	if flags.Changed("allow") {
		cfg.AllowList = scanAllowList
	}
	if flags.Changed("block") {
		cfg.BlockList = scanBlockList
	}
	if flags.Changed("no-duplicates") {
		cfg.DuplicateFilter = scanNoDuplicate
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	if !slices.Contains(validFormats, strings.ToLower(scanFormat)) {
		return fmt.Errorf("invalid format '%s': must be one of %v", scanFormat, validFormats)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyScanFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := configureLogger(cmd, cfg)

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	s, _, err := newScanner(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	opts := &scanner.ScanOptions{
		Duration:        cfg.ScanDuration,
		DuplicateFilter: cfg.DuplicateFilter,
		AllowList:       cfg.AllowList,
		BlockList:       cfg.BlockList,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if scanWatch {
		// watch runs until Ctrl+C unless a duration was asked for explicitly
		if !cmd.Flags().Changed("duration") && !cfg.IsSet("scan_duration") {
			opts.Duration = 0
		}
		return runWatchMode(ctx, cmd.OutOrStdout(), s, opts, cfg, logger)
	}

	return runSingleScan(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), s, opts, cfg, logger)
}

func runSingleScan(ctx context.Context, out, progressOut io.Writer, s *scanner.Scanner, opts *scanner.ScanOptions, cfg *config.Config, logger *logrus.Logger) error {
	var callback scanner.ProgressCallback
	if isTerminal(progressOut) {
		progress := NewProgressPrinter(progressOut, "Scanning for BLE devices", scanner.PhaseScanning, opts.Duration, scanner.PhaseProcessing)
		progress.Start()
		defer progress.Stop()
		callback = progress.Callback()
	}

	devices, err := s.Scan(ctx, opts, callback)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("scan failed")
		return err
	}
	if err != nil {
		fmt.Fprintln(progressOut, "\nCtrl+C pressed, scan cancelled")
	}

	return displayDevices(out, devices, cfg.OutputFormat, isTerminal(out) && !color.NoColor, time.Now())
}

// watchIndex is the live view of watch mode: the latest event per address,
// written by the event consumer and read by the renderer.
type watchIndex struct {
	devices    *hashmap.Map[string, collector.Event]
	staleAfter time.Duration
}

func newWatchIndex(staleAfter time.Duration) *watchIndex {
	return &watchIndex{
		devices:    hashmap.New[string, collector.Event](),
		staleAfter: staleAfter,
	}
}

// consume records events until ctx is done
func (w *watchIndex) consume(ctx context.Context, events <-chan collector.DeviceEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			w.devices.Set(ev.Device.Address, ev.Device)
		}
	}
}

// view returns devices seen within staleAfter, strongest signal first.
// Stale entries are evicted.
func (w *watchIndex) view(now time.Time) []collector.Event {
	out := make([]collector.Event, 0, w.devices.Len())
	var stale []string

	w.devices.Range(func(addr string, ev collector.Event) bool {
		if w.isStale(ev, now) {
			stale = append(stale, addr)
			return true
		}
		out = append(out, ev)
		return true
	})
	w.evict(stale, now)

	slices.SortFunc(out, func(a, b collector.Event) int {
		if a.RSSI != b.RSSI {
			return b.RSSI - a.RSSI
		}
		return strings.Compare(a.Address, b.Address)
	})
	return out
}

func (w *watchIndex) isStale(ev collector.Event, now time.Time) bool {
	return w.staleAfter > 0 && now.Sub(ev.LastSeen) > w.staleAfter
}

// evict removes addrs that are still stale; the consumer may have refreshed
// an entry since it was collected.
func (w *watchIndex) evict(addrs []string, now time.Time) {
	for _, addr := range addrs {
		if ev, ok := w.devices.Get(addr); ok && w.isStale(ev, now) {
			w.devices.Del(addr)
		}
	}
}

func runWatchMode(ctx context.Context, out io.Writer, s *scanner.Scanner, opts *scanner.ScanOptions, cfg *config.Config, logger *logrus.Logger) error {
	// a live view needs every advertisement, not only the first per device
	watchOpts := *opts
	watchOpts.DuplicateFilter = false

	if watchOpts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, watchOpts.Duration)
		defer cancel()
	}

	index := newWatchIndex(cfg.StaleAfter)
	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	groutine.Go(consumerCtx, "watch-events", func(ctx context.Context) {
		index.consume(ctx, s.Events())
	})

	if err := s.Start(ctx, &watchOpts); err != nil {
		return err
	}

	tty := isTerminal(out)
	colorize := tty && !color.NoColor
	redraw := func() error {
		if tty {
			clearScreen(out)
		}
		return displayDevices(out, index.view(time.Now()), cfg.OutputFormat, colorize, time.Now())
	}

	ticker := time.NewTicker(cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stopConsumer()
			if err := s.Stop(); err != nil {
				return err
			}
			logger.WithField("device_count", len(s.Devices())).Info("Watch stopped")
			return redraw()

		case <-ticker.C:
			if err := redraw(); err != nil {
				return err
			}
		}
	}
}
