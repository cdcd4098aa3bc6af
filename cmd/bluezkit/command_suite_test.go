package main

import (
	"bytes"
	"context"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/bluezkit/internal/bus"
	"github.com/srg/bluezkit/internal/clientfactory"
	"github.com/srg/bluezkit/internal/testutils"
)

// keepOpen hides Close so a command cannot tear down the suite's fake bus.
type keepOpen struct {
	bus.Conn
}

func (keepOpen) Close() error { return nil }

// CommandTestSuite extends BlueZSuite with command testing utilities.
// All cmd/bluezkit test suites should embed this instead of BlueZSuite.
type CommandTestSuite struct {
	testutils.BlueZSuite

	originalFactory func(string, *logrus.Logger) (bus.Conn, error)
	originalNoColor bool
}

// Object paths of the CLI profile.
var (
	testAdapterPath = testutils.AdapterPath("hci0")
	testDevicePath  = testutils.DevicePath("hci0", testutils.DefaultDeviceAddress)
	batteryCharPath = testDevicePath + "/service000a/char000b"
	vendorCharPath  = testDevicePath + "/service000d/char000e"
	modelCharPath   = testDevicePath + "/service000d/char0010"
	alertCharPath   = testDevicePath + "/service0012/char0013"
)

// CLIProfile is one powered adapter with a disconnected device exposing
// Battery (180F), Device Information (180A) and Immediate Alert (1802).
func CLIProfile() *testutils.BlueZBuilder {
	return testutils.NewBlueZBuilder().
		WithAdapter("hci0", testutils.DefaultAdapterAddress, true).
		WithDevice(testutils.DefaultDeviceAddress, "Sensor", -50).
		WithBattery(50).
		WithService("180F").
		WithCharacteristic("2A19", "read,notify", []byte{50}).
		WithService("180A").
		WithCharacteristic("2A29", "read", []byte("Acme\x00")).
		WithCharacteristic("2A24", "read", []byte("X1")).
		WithService("1802").
		WithCharacteristic("2A06", "write,write-without-response", nil)
}

// SetupTest builds the fake daemon and routes every command to it. Suites
// may set Builder beforehand to replace CLIProfile.
func (s *CommandTestSuite) SetupTest() {
	if s.Builder == nil {
		s.Builder = CLIProfile()
	}
	s.BlueZSuite.SetupTest()

	s.originalFactory = clientfactory.ConnFactory
	fake := s.Bus
	clientfactory.ConnFactory = func(string, *logrus.Logger) (bus.Conn, error) {
		return keepOpen{Conn: fake}, nil
	}

	s.originalNoColor = color.NoColor
	color.NoColor = true
}

func (s *CommandTestSuite) TearDownTest() {
	clientfactory.ConnFactory = s.originalFactory
	color.NoColor = s.originalNoColor
	s.BlueZSuite.TearDownTest()
}

// ExecuteCommand runs the root command with args and returns what it wrote
// to stdout and stderr. Flags are reset first so tests do not leak into
// each other.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (stdout, stderr string, err error) {
	return s.ExecuteCommandContext(s.Ctx(), args...)
}

// ExecuteCommandContext is ExecuteCommand with an explicit context.
func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, args ...string) (stdout, stderr string, err error) {
	resetFlags(rootCmd)
	// cobra hands the context down only to commands that have none yet, so
	// every command keeps the first run's context unless it is set here.
	setContext(rootCmd, ctx)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()

	err = rootCmd.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func setContext(cmd *cobra.Command, ctx context.Context) {
	cmd.SetContext(ctx)
	for _, sub := range cmd.Commands() {
		setContext(sub, ctx)
	}
}

// resetFlags restores every flag of cmd and its subcommands to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}
