package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/srg/bluezkit/internal/bledb"
	"github.com/srg/bluezkit/pkg/bluez"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info <device-address>",
	Short: "Connect to a device and show its services and characteristics",
	Long: `Connects to a device, waits for service discovery, and prints the
device properties, battery level, Device Information strings and the
GATT services with their characteristics. Readable characteristics are
read unless --no-read is given.

Examples:
  bluezkit info AA:BB:CC:DD:EE:FF
  bluezkit info AA:BB:CC:DD:EE:FF --format yaml
  bluezkit info AA:BB:CC:DD:EE:FF --keep-connected`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

var (
	infoNoRead        bool
	infoKeepConnected bool
)

func init() {
	infoCmd.Flags().BoolVar(&infoNoRead, "no-read", false, "Skip reading characteristic values")
	infoCmd.Flags().BoolVar(&infoKeepConnected, "keep-connected", false, "Leave the device connected when done")
}

// Device Information service strings shown in the report header.
var deviceInfoStrings = []struct {
	uuid  string
	label string
}{
	{uuid: "2a29", label: "Manufacturer"},
	{uuid: "2a24", label: "Model"},
	{uuid: "2a26", label: "Firmware"},
}

type characteristicReport struct {
	UUID  string   `json:"uuid" yaml:"uuid"`
	Name  string   `json:"name,omitempty" yaml:"name,omitempty"`
	Flags []string `json:"flags" yaml:"flags"`
	Value string   `json:"value,omitempty" yaml:"value,omitempty"`
	Error string   `json:"error,omitempty" yaml:"error,omitempty"`
}

type serviceReport struct {
	UUID            string                 `json:"uuid" yaml:"uuid"`
	Name            string                 `json:"name,omitempty" yaml:"name,omitempty"`
	Primary         bool                   `json:"primary" yaml:"primary"`
	Characteristics []characteristicReport `json:"characteristics" yaml:"characteristics"`
}

type deviceReport struct {
	Device      bluez.DeviceProperties `json:"device" yaml:"device"`
	Battery     *uint8                 `json:"battery,omitempty" yaml:"battery,omitempty"`
	Information map[string]string      `json:"information,omitempty" yaml:"information,omitempty"`
	Services    []serviceReport        `json:"services" yaml:"services"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	address := args[0]

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Inspecting device %s", address), "Connecting", 0)
	progress.Start()
	defer progress.Stop()

	dev, cleanup, err := s.connectDevice(ctx, address, !infoKeepConnected)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := buildDeviceReport(ctx, s, dev)
	if err != nil {
		return err
	}
	progress.Stop()

	out := cmd.OutOrStdout()
	if done, err := writeStructured(out, s.cfg.OutputFormat, report); done {
		return err
	}
	return printDeviceReport(out, report)
}

func buildDeviceReport(ctx context.Context, s *session, dev *bluez.Device) (*deviceReport, error) {
	props, err := dev.Info(ctx)
	if err != nil {
		return nil, err
	}
	report := &deviceReport{Device: props, Information: map[string]string{}}

	battery, err := dev.Battery(ctx)
	switch {
	case err == nil:
		pct, err := battery.Percentage(ctx)
		_ = battery.Close()
		if err != nil {
			return nil, err
		}
		report.Battery = &pct
	case !errors.Is(err, bluez.ErrNotFound):
		return nil, err
	}

	services, err := dev.Services(ctx)
	if err != nil {
		return nil, err
	}

	for _, svc := range services {
		chars, err := svc.Characteristics(ctx)
		if err != nil {
			return nil, err
		}

		sr := serviceReport{
			UUID:            bluez.ShortUUID(svc.UUID()),
			Name:            bledb.LookupService(svc.UUID()),
			Primary:         svc.Primary(),
			Characteristics: []characteristicReport{},
		}
		for _, c := range chars {
			cr := characteristicReport{
				UUID:  bluez.ShortUUID(c.UUID()),
				Name:  bledb.LookupCharacteristic(c.UUID()),
				Flags: c.Flags(),
			}
			if !infoNoRead && c.HasFlag("read") {
				data, err := c.ReadValue(ctx, s.cfg.ReadTimeout)
				if err != nil {
					s.logger.WithError(err).WithField("uuid", cr.UUID).Warn("Failed to read characteristic")
					cr.Error = FormatUserError(err)
				} else {
					cr.Value = hex.EncodeToString(data)
					for _, di := range deviceInfoStrings {
						if bluez.EqualUUID(di.uuid, c.UUID()) {
							report.Information[di.label] = printable(data)
						}
					}
				}
			}
			sr.Characteristics = append(sr.Characteristics, cr)
			_ = c.Close()
		}
		report.Services = append(report.Services, sr)
	}
	return report, nil
}

// printable trims trailing NULs some firmwares pad strings with.
func printable(data []byte) string {
	return strings.TrimRightFunc(string(data), func(r rune) bool {
		return r == 0 || unicode.IsSpace(r)
	})
}

// manufacturerLines formats advertised manufacturer data, one company per
// line, ordered by company identifier.
func manufacturerLines(data map[uint16][]byte) []string {
	ids := make([]uint16, 0, len(data))
	for id := range data {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		company := fmt.Sprintf("%04x", id)
		if name := bledb.LookupVendor(id); name != "" {
			company += " (" + name + ")"
		}
		lines = append(lines, company+" "+hex.EncodeToString(data[id]))
	}
	return lines
}

func withName(uuid, name string) string {
	if name == "" {
		return uuid
	}
	return uuid + " " + name
}

func printDeviceReport(out io.Writer, r *deviceReport) error {
	d := r.Device
	headerColor.Fprintf(out, "Device: %s\n", d.String())
	fmt.Fprintf(out, "  Connected: %s  Paired: %s  Trusted: %s\n", onOff(d.Connected), onOff(d.Paired), onOff(d.Trusted))
	if r.Battery != nil {
		fmt.Fprintf(out, "  Battery: %d%%\n", *r.Battery)
	}
	for _, di := range deviceInfoStrings {
		if v, ok := r.Information[di.label]; ok {
			fmt.Fprintf(out, "  %s: %s\n", di.label, v)
		}
	}
	for _, line := range manufacturerLines(d.ManufacturerData) {
		fmt.Fprintf(out, "  Manufacturer data: %s\n", line)
	}

	headerColor.Fprintf(out, "Services (%d):\n", len(r.Services))
	for _, svc := range r.Services {
		kind := "secondary"
		if svc.Primary {
			kind = "primary"
		}
		fmt.Fprintf(out, "  %s (%s)\n", withName(svc.UUID, svc.Name), kind)
		for _, c := range svc.Characteristics {
			line := fmt.Sprintf("    %s [%s]", withName(c.UUID, c.Name), strings.Join(c.Flags, ", "))
			switch {
			case c.Error != "":
				line += " error: " + c.Error
			case c.Value != "":
				line += " = " + c.Value
			}
			fmt.Fprintln(out, line)
		}
	}
	return nil
}
