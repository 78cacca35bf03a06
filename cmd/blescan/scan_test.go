package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/srg/blescan/collector"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/internal/testutils"
	"github.com/srg/blescan/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

// ScanTestSuite provides testify/suite for proper test isolation
type ScanTestSuite struct {
	CommandTestSuite
}

func (suite *ScanTestSuite) TestScanCmd_Help() {
	// GOAL: Verify scan command displays help text with all flags
	//
	// TEST SCENARIO: Execute scan --help → returns success → output contains description and flag documentation

	output, err := suite.ExecuteCommand("scan", "--help")
	suite.Require().NoError(err, "help command MUST succeed")

	suite.Contains(output, "Scan for and display Bluetooth Low Energy devices", "help MUST contain command description")
	suite.Contains(output, "--duration", "help MUST document --duration flag")
	suite.Contains(output, "--format", "help MUST document --format flag")
	suite.Contains(output, "--watch", "help MUST document --watch flag")
	suite.Contains(output, "--config", "help MUST document inherited --config flag")
}

func (suite *ScanTestSuite) TestScanCmd_InvalidFormat() {
	// GOAL: Verify scan command rejects invalid format values
	//
	// TEST SCENARIO: Execute scan with invalid format → returns error → error message lists valid formats

	_, err := suite.ExecuteCommand("scan", "--format=invalid")

	suite.Require().Error(err, "invalid format MUST return error")
	suite.Contains(err.Error(), "invalid format 'invalid': must be one of [table json]", "error MUST list valid formats")
	suite.Radio.AssertNotCalled(suite.T(), "StartScan", mock.Anything, mock.Anything)
}

func (suite *ScanTestSuite) TestScanCmd_InvalidLogLevel() {
	_, err := suite.ExecuteCommand("scan", "--log-level=chatty")

	suite.Require().Error(err)
	suite.Contains(err.Error(), "invalid log level: chatty")
}

func (suite *ScanTestSuite) TestScanCmd_Flags() {
	// GOAL: Verify scan command parses all flags correctly
	//
	// TEST SCENARIO: Execute scan with various flags → parsing succeeds → flag values set correctly

	tests := []struct {
		name     string
		args     []string
		expected map[string]interface{}
	}{
		{
			name: "default flags",
			args: []string{"scan", "-d", "10ms"},
			expected: map[string]interface{}{
				"format":        "table",
				"no-duplicates": true,
				"watch":         false,
			},
		},
		{
			name: "custom duration",
			args: []string{"scan", "--duration=20ms"},
			expected: map[string]interface{}{
				"duration": 20 * time.Millisecond,
			},
		},
		{
			name: "json format",
			args: []string{"scan", "-d", "10ms", "--format=json"},
			expected: map[string]interface{}{
				"format": "json",
			},
		},
		{
			name: "address filters",
			args: []string{"scan", "-d", "10ms", "--allow=AA:BB:CC:DD:EE:FF", "--block=11:22:33:44:55:66,99:88:77:66:55:44"},
			expected: map[string]interface{}{
				"allow": []string{"AA:BB:CC:DD:EE:FF"},
				"block": []string{"11:22:33:44:55:66", "99:88:77:66:55:44"},
			},
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := suite.ExecuteCommand(tt.args...)
			suite.Require().NoError(err)

			for key, expected := range tt.expected {
				switch key {
				case "duration":
					suite.Equal(expected, scanDuration, "duration flag MUST be parsed correctly")
				case "format":
					suite.Equal(expected, scanFormat, "format flag MUST be parsed correctly")
				case "no-duplicates":
					suite.Equal(expected, scanNoDuplicate, "no-duplicates flag MUST be parsed correctly")
				case "watch":
					suite.Equal(expected, scanWatch, "watch flag MUST be parsed correctly")
				case "allow":
					suite.Equal(expected, scanAllowList, "allow flag MUST be parsed correctly")
				case "block":
					suite.Equal(expected, scanBlockList, "block flag MUST be parsed correctly")
				}
			}
		})
	}
}

func (suite *ScanTestSuite) TestScanCmd_TableOutput() {
	// GOAL: Verify a bounded scan prints each device once, in first-seen order
	//
	// TEST SCENARIO: radio delivers a named device, an unnamed beacon and a repeat → table with 2 rows

	radio := suite.UseRadio(testutils.NewStartedMockRadio(append(suite.DefaultAdvertisements(),
		testutils.NewAdvertisementBuilder().WithName("Test Device 1").WithAddress("aa:bb:cc:dd:ee:ff").WithRSSI(-45).Build(),
	)...))

	output, err := suite.ExecuteCommand("scan", "-d", "20ms")
	suite.Require().NoError(err)

	expected := `NAME           ADDRESS            RSSI     CONNECTABLE  SEEN
------------------------------------------------------------
Test Device 1  AA:BB:CC:DD:EE:FF  -45 dBm  yes          now
Unknown        99:88:77:66:55:44  -80 dBm  no           now
`
	testutils.NewTextAsserter(suite.T()).Assert(output, expected)

	radio.AssertCalled(suite.T(), "StartScan", false, mock.Anything)
	radio.AssertNumberOfCalls(suite.T(), "StopScan", 1)
}

func (suite *ScanTestSuite) TestScanCmd_JSONOutput() {
	output, err := suite.ExecuteCommand("scan", "-d", "20ms", "--format", "json")
	suite.Require().NoError(err)

	expected := `[
		{"address":"AA:BB:CC:DD:EE:FF","name":"Test Device 1","rssi":-45,"connectable":true,"count":1},
		{"address":"99:88:77:66:55:44","rssi":-80,"connectable":false,"count":1}
	]`
	testutils.NewJSONAsserter(suite.T()).
		WithOptions(testutils.WithIgnoredFields("lastSeen")).
		Assert(output, expected)
}

func (suite *ScanTestSuite) TestScanCmd_NoDevices() {
	suite.UseRadio(testutils.NewStartedMockRadio())

	output, err := suite.ExecuteCommand("scan", "-d", "10ms")
	suite.Require().NoError(err)
	suite.Equal("No devices discovered\n", output)
}

func (suite *ScanTestSuite) TestScanCmd_BlockList() {
	output, err := suite.ExecuteCommand("scan", "-d", "20ms", "--block", strings.ToLower(TestDeviceAddress2))
	suite.Require().NoError(err)

	suite.Contains(output, TestDeviceAddress1)
	suite.NotContains(output, TestDeviceAddress2, "blocked device MUST NOT be listed")
}

func (suite *ScanTestSuite) TestScanCmd_AllowDuplicates() {
	_, err := suite.ExecuteCommand("scan", "-d", "10ms", "--no-duplicates=false")
	suite.Require().NoError(err)

	suite.Radio.AssertCalled(suite.T(), "StartScan", true, mock.Anything)
}

func (suite *ScanTestSuite) TestScanCmd_PermissionDenied() {
	// GOAL: Verify a denied permission is reported and the radio is never started
	//
	// TEST SCENARIO: probe reports unauthorized → ErrAuthorizationDenied → "Permissions not granted"

	suite.Radio.probeErr = device.ErrUnauthorized

	output, err := suite.ExecuteCommand("scan", "-d", "10ms")

	suite.Require().ErrorIs(err, scanner.ErrAuthorizationDenied)
	suite.Equal("Permissions not granted", FormatUserError(err))
	suite.Empty(output)
	suite.Radio.AssertNotCalled(suite.T(), "StartScan", mock.Anything, mock.Anything)
}

func (suite *ScanTestSuite) TestScanCmd_StartFailure() {
	radio := testutils.NewMockRadio(suite.DefaultAdvertisements()...)
	radio.On("StartScan", mock.Anything, mock.Anything).Return(device.ErrBluetoothOff)
	suite.UseRadio(radio)

	_, err := suite.ExecuteCommand("scan", "-d", "10ms")

	suite.Require().ErrorIs(err, scanner.ErrStartFailed)
	suite.Equal("failed to start scan: bluetooth is turned off (turn Bluetooth on and try again)", FormatUserError(err))
}

func (suite *ScanTestSuite) TestScanCmd_ConfigFile() {
	// GOAL: Verify config file values apply and explicit flags win over them
	//
	// TEST SCENARIO: config selects json + 20ms → json output; --format table → table output

	path := filepath.Join(suite.T().TempDir(), "blescan.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte("output_format: json\nscan_duration: 20ms\nlog_level: error\n"), 0o600))

	output, err := suite.ExecuteCommand("scan", "--config", path)
	suite.Require().NoError(err)
	suite.True(strings.HasPrefix(strings.TrimSpace(output), "["), "config format MUST apply: %s", output)

	output, err = suite.ExecuteCommand("scan", "--config", path, "--format", "table")
	suite.Require().NoError(err)
	suite.True(strings.HasPrefix(output, "NAME"), "flag MUST win over config: %s", output)
}

func (suite *ScanTestSuite) TestScanCmd_WatchMode() {
	// GOAL: Verify watch mode receives every advertisement and prints a final view
	//
	// TEST SCENARIO: scan --watch -d 200ms --format json → duplicates allowed → devices strongest first

	output, err := suite.ExecuteCommand("scan", "--watch", "-d", "200ms", "--format", "json")
	suite.Require().NoError(err)

	suite.Radio.AssertCalled(suite.T(), "StartScan", true, mock.Anything)
	suite.Radio.AssertNumberOfCalls(suite.T(), "StopScan", 1)

	expected := `[
		{"address":"AA:BB:CC:DD:EE:FF","name":"Test Device 1","rssi":-45,"connectable":true,"count":1},
		{"address":"99:88:77:66:55:44","rssi":-80,"connectable":false,"count":1}
	]`
	testutils.NewJSONAsserter(suite.T()).
		WithOptions(testutils.WithIgnoredFields("lastSeen")).
		Assert(output, expected)
}

// startCommand runs args in the background; the returned channel yields the result
func (suite *ScanTestSuite) startCommand(ctx context.Context, args ...string) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := suite.ExecuteCommandContext(ctx, args...)
		done <- err
	}()
	return done
}

// assertRunsUntilCancelled checks the command is alive after a while and exits cleanly on cancel
func (suite *ScanTestSuite) assertRunsUntilCancelled(cancel context.CancelFunc, done <-chan error) {
	select {
	case err := <-done:
		suite.Failf("watch mode MUST NOT exit without interrupt", "returned: %v", err)
		return
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		suite.NoError(err)
	case <-time.After(2 * time.Second):
		suite.Fail("watch mode MUST exit after cancel")
	}
}

func (suite *ScanTestSuite) TestScanCmd_WatchRunsUntilCancelled() {
	// GOAL: Verify watch mode without a duration runs until its context is cancelled
	//
	// TEST SCENARIO: scan --watch → still running after 300ms → cancel → returns without error

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	suite.assertRunsUntilCancelled(cancel, suite.startCommand(ctx, "scan", "--watch"))

	// flag globals are only safe to read once the command has returned
	suite.True(scanWatch, "watch flag MUST be set")
	suite.Radio.AssertNumberOfCalls(suite.T(), "StopScan", 1)
}

func (suite *ScanTestSuite) TestScanCmd_WatchConfigWithoutDurationRunsUntilCancelled() {
	// GOAL: Verify a config file that does not set scan_duration keeps watch mode unbounded
	//
	// TEST SCENARIO: config with output_format only + --watch → still running after 300ms → cancel

	path := filepath.Join(suite.T().TempDir(), "blescan.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte("output_format: json\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	suite.assertRunsUntilCancelled(cancel, suite.startCommand(ctx, "scan", "--watch", "--config", path))
}

func (suite *ScanTestSuite) TestScanCmd_WatchConfigDurationBoundsWatch() {
	path := filepath.Join(suite.T().TempDir(), "blescan.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte("scan_duration: 100ms\noutput_format: json\n"), 0o600))

	output, err := suite.ExecuteCommand("scan", "--watch", "--config", path)
	suite.Require().NoError(err)
	suite.Contains(output, TestDeviceAddress1)
	suite.Radio.AssertNumberOfCalls(suite.T(), "StopScan", 1)
}

func TestWatchIndex_View(t *testing.T) {
	// GOAL: Verify the watch view orders by signal strength and evicts stale devices
	//
	// TEST SCENARIO: 3 fresh devices + 1 stale → 3 rows strongest first → stale entry removed

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	index := newWatchIndex(30 * time.Second)

	index.devices.Set("A", collector.Event{Address: "A", RSSI: -70, LastSeen: now})
	index.devices.Set("B", collector.Event{Address: "B", RSSI: -40, LastSeen: now.Add(-10 * time.Second)})
	index.devices.Set("C", collector.Event{Address: "C", RSSI: -70, LastSeen: now})
	index.devices.Set("D", collector.Event{Address: "D", RSSI: -30, LastSeen: now.Add(-time.Minute)})

	view := index.view(now)

	addrs := make([]string, len(view))
	for i, e := range view {
		addrs[i] = e.Address
	}
	assert.Equal(t, []string{"B", "A", "C"}, addrs, "view MUST be strongest first, ties by address")

	_, ok := index.devices.Get("D")
	assert.False(t, ok, "stale device MUST be evicted")
}

func TestWatchIndex_EvictKeepsRefreshedEntries(t *testing.T) {
	// GOAL: Verify an entry refreshed after it was found stale survives eviction
	//
	// TEST SCENARIO: A and B collected as stale → A refreshed → evict → only B removed

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	index := newWatchIndex(30 * time.Second)

	index.devices.Set("A", collector.Event{Address: "A", RSSI: -50, LastSeen: now.Add(-time.Minute)})
	index.devices.Set("B", collector.Event{Address: "B", RSSI: -60, LastSeen: now.Add(-time.Minute)})
	stale := []string{"A", "B"}

	index.devices.Set("A", collector.Event{Address: "A", RSSI: -45, LastSeen: now})
	index.evict(stale, now)

	ev, ok := index.devices.Get("A")
	assert.True(t, ok, "refreshed device MUST NOT be evicted")
	assert.Equal(t, -45, ev.RSSI)

	_, ok = index.devices.Get("B")
	assert.False(t, ok, "still stale device MUST be evicted")
}

func TestWatchIndex_Consume(t *testing.T) {
	index := newWatchIndex(0)
	events := make(chan collector.DeviceEvent, 2)
	events <- collector.DeviceEvent{Type: collector.EventNew, Device: collector.Event{Address: "A", RSSI: -50}}
	events <- collector.DeviceEvent{Type: collector.EventUpdated, Device: collector.Event{Address: "A", RSSI: -60}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		index.consume(ctx, events)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		ev, ok := index.devices.Get("A")
		return ok && ev.RSSI == -60
	}, time.Second, 5*time.Millisecond, "latest event MUST win")

	cancel()
	<-done
}

// TestScanCommandSuite runs the test suite
func TestScanCommandSuite(t *testing.T) {
	suite.Run(t, new(ScanTestSuite))
}
