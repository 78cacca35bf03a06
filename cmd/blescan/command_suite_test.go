package main

import (
	"bytes"
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blescan/internal/device"
	"github.com/srg/blescan/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent mock device identification
const (
	TestDeviceAddress1 = "AA:BB:CC:DD:EE:FF"
	TestDeviceAddress2 = "99:88:77:66:55:44"
)

// fakeRadio is a MockRadio that also answers permission checks and names its adapter
type fakeRadio struct {
	*testutils.MockRadio
	probeErr error
}

func (r *fakeRadio) Probe(context.Context) error {
	return r.probeErr
}

func (r *fakeRadio) Adapter() string {
	return "test adapter"
}

// CommandTestSuite swaps the platform radio for a mock and runs commands
// against a fresh root. All cmd/blescan suites embed it.
type CommandTestSuite struct {
	suite.Suite
	Helper *testutils.TestHelper
	Radio  *fakeRadio

	originalFactory func(*logrus.Logger) probingRadio
}

func (s *CommandTestSuite) SetupSuite() {
	s.originalFactory = radioFactory
}

func (s *CommandTestSuite) TearDownSuite() {
	radioFactory = s.originalFactory
}

func (s *CommandTestSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.UseRadio(testutils.NewStartedMockRadio(s.DefaultAdvertisements()...))

	resetScanFlags()
}

// DefaultAdvertisements returns a named connectable device and an unnamed beacon
func (s *CommandTestSuite) DefaultAdvertisements() []device.Advertisement {
	return []device.Advertisement{
		testutils.NewAdvertisementBuilder().
			WithName("Test Device 1").
			WithAddress(TestDeviceAddress1).
			WithRSSI(-45).
			Build(),
		testutils.NewAdvertisementBuilder().
			WithAddress(TestDeviceAddress2).
			WithRSSI(-80).
			WithConnectable(false).
			Build(),
	}
}

// UseRadio makes commands use radio
func (s *CommandTestSuite) UseRadio(radio *testutils.MockRadio) *fakeRadio {
	s.Radio = &fakeRadio{MockRadio: radio}
	radioFactory = func(*logrus.Logger) probingRadio {
		return s.Radio
	}
	return s.Radio
}

// ExecuteCommand runs args against a fresh root, returns stdout and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return s.ExecuteCommandContext(context.Background(), args...)
}

// ExecuteCommandContext is ExecuteCommand with a caller-controlled context.
func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, args ...string) (string, error) {
	// Re-create the scan flags so values and parent flags of a previous run don't leak
	scanCmd.ResetFlags()
	addScanFlags(scanCmd)
	// cobra only hands the root context to subcommands that have none yet
	scanCmd.SetContext(ctx)

	root := &cobra.Command{Use: "blescan", SilenceErrors: true}
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().String("config", "", "Path to a YAML config file")
	root.AddCommand(scanCmd)

	out := new(bytes.Buffer)
	errOut := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func resetScanFlags() {
	scanDuration = 0
	scanFormat = "table"
	scanAllowList = nil
	scanBlockList = nil
	scanNoDuplicate = true
	scanWatch = false
}
