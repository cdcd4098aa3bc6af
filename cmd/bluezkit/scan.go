package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/bluezkit/pkg/bluez"
	"github.com/srg/bluezkit/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Bluetooth devices",
	Long: `Runs discovery on the adapter and displays the devices found, including
their names, addresses, RSSI values, and advertised services. Devices
bluetoothd already knows about are included.

Examples:
  bluezkit scan
  bluezkit scan --duration 30s --services 180d
  bluezkit scan --watch --min-rssi -70
  bluezkit scan --format json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration    time.Duration
	scanServices    []string
	scanAllowList   []string
	scanBlockList   []string
	scanNoDuplicate bool
	scanWatch       bool
	scanMinRSSI     int
	scanTransport   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default: scan_timeout from the config, 10s)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVar(&scanNoDuplicate, "no-duplicates", true, "Filter duplicate advertisements")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously scan and update results until interrupted")
	scanCmd.Flags().IntVar(&scanMinRSSI, "min-rssi", 0, "Hide devices weaker than this RSSI in dBm (0 disables)")
	scanCmd.Flags().StringVar(&scanTransport, "transport", "le", "Discovery transport: auto, le or bredr")
}

func runScan(cmd *cobra.Command, args []string) error {
	var serviceUUIDs []string
	if len(scanServices) > 0 {
		var err error
		serviceUUIDs, err = bluez.ValidateUUID(scanServices...)
		if err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}
	switch scanTransport {
	case "auto", "le", "bredr":
	default:
		return fmt.Errorf("invalid transport %q: use auto, le or bredr", scanTransport)
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := &scanner.ScanOptions{
		Duration:        s.cfg.ScanTimeout,
		DuplicateFilter: scanNoDuplicate,
		ServiceUUIDs:    serviceUUIDs,
		AllowList:       scanAllowList,
		BlockList:       scanBlockList,
		Transport:       scanTransport,
	}
	if scanDuration > 0 {
		opts.Duration = scanDuration
	} else if scanWatch {
		opts.Duration = 0
	}
	if scanMinRSSI != 0 {
		rssi := int16(scanMinRSSI)
		opts.MinRSSI = &rssi
	}

	sc, err := scanner.NewScanner(s.client, s.cfg.Adapter, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create scanner: %w", err)
	}
	defer sc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if scanWatch {
		return runWatchMode(ctx, cmd.OutOrStdout(), sc, opts, s.cfg.OutputFormat)
	}
	return runSingleScan(ctx, cmd, sc, opts, s.cfg.OutputFormat)
}

func runSingleScan(ctx context.Context, cmd *cobra.Command, sc *scanner.Scanner, opts *scanner.ScanOptions, format string) error {
	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning for devices", scanner.PhaseScanning, opts.Duration, scanner.PhaseProcessing)
	progress.Start()
	defer progress.Stop()

	devices, err := sc.Scan(ctx, opts, progress.Callback())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	progress.Stop()

	return displayDevices(cmd.OutOrStdout(), devices, format)
}

func runWatchMode(ctx context.Context, out io.Writer, sc *scanner.Scanner, opts *scanner.ScanOptions, format string) error {
	// Scan until interrupted by the user.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	devices := make(map[string]scanner.DeviceInfo)

	scanErrCh := make(chan error, 1)
	go func() {
		_, err := sc.Scan(ctx, opts, nil)
		scanErrCh <- err
	}()

	refresh := time.NewTicker(time.Second)
	defer refresh.Stop()

	redraw := func() error {
		clearScreen(out)
		return displayDevices(out, devices, format)
	}

	for {
		select {
		case err := <-scanErrCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return redraw()

		case <-refresh.C:
			if err := redraw(); err != nil {
				return err
			}

		case ev := <-sc.Events():
			devices[ev.Device.Address] = ev.Device
		}
	}
}

// sortedDevices orders devices by signal strength, strongest first, then by
// address.
func sortedDevices(devices map[string]scanner.DeviceInfo) []scanner.DeviceInfo {
	list := make([]scanner.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].RSSI != list[j].RSSI {
			return list[i].RSSI > list[j].RSSI
		}
		return list[i].Address < list[j].Address
	})
	return list
}

func displayDevices(out io.Writer, devices map[string]scanner.DeviceInfo, format string) error {
	list := sortedDevices(devices)
	if done, err := writeStructured(out, format, list); done {
		return err
	}

	if len(list) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	headerColor.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, dev := range list {
		name := dev.DisplayName()
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		uuids := make([]string, 0, len(dev.UUIDs))
		for _, u := range dev.UUIDs {
			uuids = append(uuids, bluez.ShortUUID(u))
		}
		services := strings.Join(uuids, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		lastSeen := time.Since(dev.LastSeen).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s ago\n", name, dev.Address, dev.RSSI, services, lastSeen)
	}

	return w.Flush()
}

func clearScreen(out io.Writer) {
	if isTerminal(out) {
		fmt.Fprint(out, "\033[2J\033[H")
	}
}
