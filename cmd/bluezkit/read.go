package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bluezkit/pkg/bluez"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address> <uuid[,uuid...]>",
	Short: "Read characteristic values",
	Long: `Reads one or more characteristics. Values are printed as hex on a
terminal and as raw bytes when piped; --hex and --raw force either.

Examples:
  # Read Battery Level
  bluezkit read AA:BB:CC:DD:EE:FF 2a19

  # Read several characteristics
  bluezkit read AA:BB:CC:DD:EE:FF 2a29,2a24 --hex

  # Disambiguate with the service
  bluezkit read AA:BB:CC:DD:EE:FF 2a19 --service 180f

  # Read every second until interrupted
  bluezkit read AA:BB:CC:DD:EE:FF 2a19 --watch 1s`,
	Args: cobra.ExactArgs(2),
	RunE: runRead,
}

var (
	readServiceUUID string
	readHex         bool
	readRaw         bool
	readTimeout     time.Duration
	readWatch       time.Duration
)

func init() {
	readCmd.Flags().StringVar(&readServiceUUID, "service", "", "Service UUID (required if characteristic UUID is ambiguous)")
	readCmd.Flags().BoolVar(&readHex, "hex", false, "Output as hex string")
	readCmd.Flags().BoolVar(&readRaw, "raw", false, "Output raw bytes")
	readCmd.Flags().DurationVar(&readTimeout, "timeout", 0, "Read timeout (default: read_timeout from the config, 10s)")
	readCmd.Flags().DurationVar(&readWatch, "watch", 0, "Read repeatedly at this interval until interrupted")
	readCmd.MarkFlagsMutuallyExclusive("hex", "raw")
}

func runRead(cmd *cobra.Command, args []string) error {
	address, uuidInput := args[0], args[1]

	uuids := parseCSVUUIDs(uuidInput)
	if len(uuids) == 0 {
		return fmt.Errorf("no valid UUIDs provided")
	}
	if readWatch > 0 && len(uuids) > 1 {
		return fmt.Errorf("watch mode requires a single characteristic, got %d", len(uuids))
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	timeout := readTimeout
	if timeout <= 0 {
		timeout = s.cfg.ReadTimeout
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Reading %s from %s", uuidInput, address), "Connecting", 0)
	progress.Start()
	defer progress.Stop()

	dev, cleanup, err := s.connectDevice(ctx, address, false)
	if err != nil {
		return err
	}
	defer cleanup()

	chars, err := resolveCharacteristics(ctx, dev, uuidInput, readServiceUUID)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range chars {
			_ = c.Close()
		}
	}()
	progress.Stop()

	out := newValueWriter(cmd.OutOrStdout(), readHex, readRaw)

	if readWatch > 0 {
		return watchChar(ctx, dev, chars[0], out, timeout, readWatch, s.logger)
	}

	if len(chars) == 1 {
		data, err := chars[0].ReadValue(ctx, timeout)
		if err != nil {
			return fmt.Errorf("failed to read characteristic: %w", err)
		}
		return out.write("", data)
	}

	// Report per-characteristic errors and continue with the rest.
	var failed int
	for _, c := range chars {
		prefix := bluez.ShortUUID(c.UUID())
		data, err := c.ReadValue(ctx, timeout)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: error: %s\n", prefix, FormatUserError(err))
			failed++
			continue
		}
		if err := out.write(prefix, data); err != nil {
			return err
		}
	}
	if failed == len(chars) {
		return fmt.Errorf("all %d reads failed", failed)
	}
	return nil
}

// watchChar reads c every interval until ctx is done or the device
// disconnects.
func watchChar(ctx context.Context, dev *bluez.Device, c *bluez.Characteristic, out valueWriter, timeout, interval time.Duration, logger *logrus.Logger) error {
	lost := disconnected(dev)
	defer lost.cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		data, err := c.ReadValue(ctx, timeout)
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			logger.WithError(err).Warn("Failed to read characteristic, continuing...")
		default:
			if err := out.write("", data); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-lost.ch:
			return ErrConnectionLost
		case <-ticker.C:
		}
	}
}

type disconnectWatch struct {
	ch     chan struct{}
	cancel func()
}

// disconnected returns a watch whose channel closes the first time dev
// drops its connection.
func disconnected(dev *bluez.Device) disconnectWatch {
	var once sync.Once
	ch := make(chan struct{})
	sub := dev.OnDisconnected(func(bluez.Event) {
		once.Do(func() { close(ch) })
	})
	return disconnectWatch{ch: ch, cancel: sub.Cancel}
}
