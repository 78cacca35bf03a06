package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/srg/blescan/collector"
	"github.com/srg/blescan/pkg/config"
	"golang.org/x/term"
)

const (
	maxNameWidth    = 20
	clearScreenCode = "\033[2J\033[H"
)

// greyRow renders rows of devices that do not accept connections
var greyRow = color.New(color.FgHiBlack)

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// displayDevices writes devices in the configured format.
// colorize enables grey rows for non-connectable devices.
func displayDevices(w io.Writer, devices []collector.Event, format string, colorize bool, now time.Time) error {
	switch strings.ToLower(format) {
	case config.FormatJSON:
		return displayDevicesJSON(w, devices)
	default:
		return displayDevicesTable(w, devices, colorize, now)
	}
}

func displayDevicesTable(w io.Writer, devices []collector.Event, colorize bool, now time.Time) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "No devices discovered")
		return err
	}

	// tabwriter counts escape codes as text, so colour is applied after alignment
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tCONNECTABLE\tSEEN")
	for _, d := range devices {
		fmt.Fprintln(tw, formatTableRow(d, now))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	fmt.Fprintln(w, lines[0])
	fmt.Fprintln(w, strings.Repeat("-", len(lines[0])))
	for i, line := range lines[1:] {
		if colorize && !devices[i].Connectable {
			line = greyRow.Sprint(line)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// formatTableRow returns a tab separated row for d
func formatTableRow(d collector.Event, now time.Time) string {
	name := d.DisplayName()
	if len(name) > maxNameWidth {
		name = name[:maxNameWidth-3] + "..."
	}

	connectable := "yes"
	if !d.Connectable {
		connectable = "no"
	}

	return fmt.Sprintf("%s\t%s\t%d dBm\t%s\t%s", name, d.Address, d.RSSI, connectable, seenAgo(d.LastSeen, now))
}

// seenAgo formats the age of a last-seen timestamp
func seenAgo(lastSeen, now time.Time) string {
	if lastSeen.IsZero() {
		return "-"
	}
	age := now.Sub(lastSeen)
	if age < time.Second {
		return "now"
	}
	return humanDuration(age) + " ago"
}

// humanDuration formats d with one or two units
func humanDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func displayDevicesJSON(w io.Writer, devices []collector.Event) error {
	if devices == nil {
		devices = []collector.Event{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}

func clearScreen(w io.Writer) {
	fmt.Fprint(w, clearScreenCode)
}
