package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blescan/collector"
	"github.com/srg/blescan/internal/groutine"
	"github.com/srg/blescan/internal/permission"
	"github.com/srg/blescan/scanner"
)

const (
	labelStartScanning = "Start Scanning"
	labelStopScanning  = "Stop Scanning"

	pageMain        = "main"
	pagePermissions = "permissions"
)

// uiCmd represents the ui command
var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Interactive BLE scanner",
	Long: `Open a terminal UI with a Start/Stop toggle and a live list of nearby
BLE devices. Each row shows the device name, MAC address and RSSI;
devices that do not accept connections are shown in grey.

Keys: (s) toggle scanning  (Tab) switch focus  (r) recheck permissions  (q) quit`,
	RunE: runUI,
}

// rechecker is implemented by gates that can evaluate permissions again
type rechecker interface {
	Recheck(ctx context.Context) (bool, error)
}

// scanController holds the state behind the ui screen
type scanController struct {
	scanner *scanner.Scanner
	gate    permission.Gate
	opts    *scanner.ScanOptions
	logger  *logrus.Logger

	mu      sync.Mutex
	lastErr error
}

func newScanController(s *scanner.Scanner, gate permission.Gate, opts *scanner.ScanOptions, logger *logrus.Logger) *scanController {
	// the ui is a live view: every advertisement refreshes the RSSI
	uiOpts := *opts
	uiOpts.DuplicateFilter = false
	uiOpts.Duration = 0

	return &scanController{scanner: s, gate: gate, opts: &uiOpts, logger: logger}
}

// authorized asks the gate, rechecking it when requested and supported
func (c *scanController) authorized(ctx context.Context, recheck bool) (bool, error) {
	if r, ok := c.gate.(rechecker); ok && recheck {
		return r.Recheck(ctx)
	}
	return c.gate.Authorized(ctx)
}

// toggle starts an idle scanner or stops a running one.
// The error is also kept for the status footer.
func (c *scanController) toggle(ctx context.Context) error {
	var err error
	if c.scanner.IsScanning() {
		err = c.scanner.Stop()
	} else {
		err = c.scanner.Start(ctx, c.opts)
	}

	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()

	if err != nil {
		c.logger.WithError(err).Warn("Scan toggle failed")
	}
	return err
}

// buttonLabel follows the scanner state, not the last button press
func (c *scanController) buttonLabel() string {
	if c.scanner.IsScanning() {
		return labelStopScanning
	}
	return labelStartScanning
}

// status is the footer text
func (c *scanController) status() string {
	c.mu.Lock()
	err := c.lastErr
	c.mu.Unlock()

	if err == nil {
		err = c.scanner.EndError()
	}
	if err != nil {
		return fmt.Sprintf("[red]%s[-]", tview.Escape(FormatUserError(err)))
	}

	count := len(c.scanner.Devices())
	if c.scanner.IsScanning() {
		return fmt.Sprintf("Scanning - %d devices", count)
	}
	return fmt.Sprintf("Idle - %d devices", count)
}

// footer is the status line prefixed with the adapter in use
func (c *scanController) footer() string {
	return fmt.Sprintf("BLE: %s | %s", tview.Escape(c.scanner.Adapter()), c.status())
}

// rows returns the device list in first-seen order
func (c *scanController) rows() []string {
	return lo.Map(c.scanner.Devices(), func(e collector.Event, _ int) string {
		return formatDeviceRow(e)
	})
}

// formatDeviceRow renders a list row; non-connectable devices are grey
func formatDeviceRow(e collector.Event) string {
	text := tview.Escape(fmt.Sprintf("Device: %s - MAC: %s - RSSI: %d", e.DisplayName(), e.Address, e.RSSI))
	if !e.Connectable {
		return "[gray]" + text + "[-]"
	}
	return text
}

func runUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := configureLogger(cmd, cfg)

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	s, gate, err := newScanner(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	ctrl := newScanController(s, gate, &scanner.ScanOptions{
		AllowList: cfg.AllowList,
		BlockList: cfg.BlockList,
	}, logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	granted, err := ctrl.authorized(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to check bluetooth authorization: %w", err)
	}

	defer func() {
		if err := s.Stop(); err != nil {
			logger.WithError(err).Error("Failed to stop scan on exit")
		}
	}()

	return newScanScreen(ctrl, logger, cfg.RefreshInterval).run(ctx, granted)
}

// scanScreen is the tview layout of the ui command
type scanScreen struct {
	ctrl    *scanController
	logger  *logrus.Logger
	refresh time.Duration

	app    *tview.Application
	pages  *tview.Pages
	list   *tview.List
	button *tview.Button
	footer *tview.TextView
	log    *tview.TextView
}

func newScanScreen(ctrl *scanController, logger *logrus.Logger, refresh time.Duration) *scanScreen {
	return &scanScreen{ctrl: ctrl, logger: logger, refresh: refresh}
}

func (u *scanScreen) build() {
	// create app
	u.app = tview.NewApplication().
		EnableMouse(true)

	// set up pages
	u.pages = tview.NewPages()
	u.app.SetRoot(u.pages, true)

	// prepare device list
	u.list = tview.NewList().
		ShowSecondaryText(false)
	u.list.SetBorder(true).
		SetTitle("Devices")

	// prepare toggle button
	u.button = tview.NewButton(u.ctrl.buttonLabel())
	u.button.SetSelectedFunc(u.toggle)

	// prepare footer
	u.footer = tview.NewTextView().
		SetDynamicColors(true)
	u.footer.SetBorder(true).
		SetTitle("Status")

	// prepare log view and route the logger into it
	u.log = tview.NewTextView().
		SetDynamicColors(false).
		SetScrollable(true).
		SetWrap(false)
	u.log.SetBorder(true).
		SetTitle("Log")
	u.log.ScrollToEnd()
	u.logger.SetOutput(u.log)

	// prepare container
	container := tview.NewFlex().SetDirection(tview.FlexRow)
	container.AddItem(u.button, 1, 0, true)
	container.AddItem(u.list, 0, 3, false)
	container.AddItem(u.footer, 3, 0, false)
	container.AddItem(u.log, 0, 1, false)
	container.SetInputCapture(u.capture)

	u.pages.AddPage(pageMain, container, true, true)

	// prepare permissions page
	denied := tview.NewTextView().
		SetTextAlign(tview.AlignCenter).
		SetText(permissionsMessage + "\n\n(r) Recheck  (q) Quit")
	denied.SetInputCapture(u.capture)
	u.pages.AddPage(pagePermissions, centered(40, 5, denied), true, false)
}

func (u *scanScreen) run(ctx context.Context, granted bool) error {
	u.build()

	if !granted {
		u.pages.SwitchToPage(pagePermissions)
	}

	// update immediately and on every tick
	u.update()
	groutine.Go(ctx, "ui-refresh", func(ctx context.Context) {
		ticker := time.NewTicker(u.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				u.app.QueueUpdateDraw(u.update)
			}
		}
	})

	groutine.Go(ctx, "ui-stop", func(ctx context.Context) {
		<-ctx.Done()
		u.app.Stop()
	})

	return u.app.Run()
}

// update refreshes list, button and footer; must run on the ui goroutine
func (u *scanScreen) update() {
	// capture selection and clear list
	current := u.list.GetCurrentItem()
	u.list.Clear()

	rows := u.ctrl.rows()
	for _, row := range rows {
		u.list.AddItem(row, "", 0, nil)
	}

	// restore selection
	if len(rows) > 0 {
		u.list.SetCurrentItem(min(max(current, 0), len(rows)-1))
	}

	u.button.SetLabel(u.ctrl.buttonLabel())
	u.footer.SetText(u.ctrl.footer())
}

// toggle runs the radio operation off the ui goroutine
func (u *scanScreen) toggle() {
	u.button.SetLabel("...")
	groutine.Go(context.Background(), "ui-toggle", func(ctx context.Context) {
		err := u.ctrl.toggle(ctx)
		u.app.QueueUpdateDraw(func() {
			if errors.Is(err, scanner.ErrAuthorizationDenied) {
				u.pages.SwitchToPage(pagePermissions)
			}
			u.update()
		})
	})
}

// recheck evaluates the permission again from the permissions page
func (u *scanScreen) recheck() {
	groutine.Go(context.Background(), "ui-recheck", func(ctx context.Context) {
		granted, err := u.ctrl.authorized(ctx, true)
		if err != nil {
			u.logger.WithError(err).Warn("Permission recheck failed")
		}
		u.app.QueueUpdateDraw(func() {
			if granted {
				u.pages.SwitchToPage(pageMain)
				u.app.SetFocus(u.button)
			}
			u.update()
		})
	})
}

func (u *scanScreen) capture(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyEscape:
		u.app.Stop()
		return nil
	case tcell.KeyTab:
		if u.button.HasFocus() {
			u.app.SetFocus(u.list)
		} else {
			u.app.SetFocus(u.button)
		}
		return nil
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			u.app.Stop()
			return nil
		case 's', 'S':
			if name, _ := u.pages.GetFrontPage(); name == pageMain {
				u.toggle()
			}
			return nil
		case 'r', 'R':
			if name, _ := u.pages.GetFrontPage(); name == pagePermissions {
				u.recheck()
			}
			return nil
		}
	}
	return event
}

// centered places primitive in the middle of the screen
func centered(width, height int, primitive tview.Primitive) tview.Primitive {
	row := tview.NewFlex().
		AddItem(tview.NewBox(), 0, 1, false).
		AddItem(primitive, width, 0, true).
		AddItem(tview.NewBox(), 0, 1, false)

	return tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(tview.NewBox(), 0, 1, false).
		AddItem(row, height, 0, true).
		AddItem(tview.NewBox(), 0, 1, false)
}
