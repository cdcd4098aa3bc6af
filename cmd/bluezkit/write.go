package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/bluezkit/pkg/bluez"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-address> <uuid> <data>",
	Short: "Write to a characteristic",
	Long: `Writes data to a characteristic.

Examples:
  # Write string data
  bluezkit write AA:BB:CC:DD:EE:FF 2a06 "high"

  # Write hex data
  bluezkit write AA:BB:CC:DD:EE:FF 2a06 01 --hex

  # Write without response (no ACK)
  bluezkit write AA:BB:CC:DD:EE:FF 2a06 "data" --without-response`,
	Args: cobra.ExactArgs(3),
	RunE: runWrite,
}

var (
	writeServiceUUID string
	writeHex         bool
	writeNoResponse  bool
	writeOffset      uint16
	writeTimeout     time.Duration
)

func init() {
	writeCmd.Flags().StringVar(&writeServiceUUID, "service", "", "Service UUID (required if characteristic UUID is ambiguous)")
	writeCmd.Flags().BoolVar(&writeHex, "hex", false, "Parse input as hex string (e.g., 'FF01'); raw bytes by default")
	writeCmd.Flags().BoolVar(&writeNoResponse, "without-response", false, "Write without response (no ACK)")
	writeCmd.Flags().Uint16Var(&writeOffset, "offset", 0, "Write at this byte offset")
	writeCmd.Flags().DurationVar(&writeTimeout, "timeout", 0, "Write timeout (default: read_timeout from the config, 10s)")
}

func runWrite(cmd *cobra.Command, args []string) error {
	address, uuid := args[0], args[1]

	data, err := parseWriteData(args[2], writeHex)
	if err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	timeout := writeTimeout
	if timeout <= 0 {
		timeout = s.cfg.ReadTimeout
	}

	ctx := cmd.Context()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Writing %d bytes to %s on %s", len(data), uuid, address), "Connecting", 0)
	progress.Start()
	defer progress.Stop()

	dev, cleanup, err := s.connectDevice(ctx, address, false)
	if err != nil {
		return err
	}
	defer cleanup()

	chars, err := resolveCharacteristics(ctx, dev, uuid, writeServiceUUID)
	if err != nil {
		return err
	}
	char := chars[0]
	defer char.Close()

	opts := bluez.WriteOptions{Offset: writeOffset, Type: bluez.WriteWithResponse}
	switch {
	case writeNoResponse:
		if !char.HasFlag("write-without-response") {
			return fmt.Errorf("characteristic %s does not support write without response: %w", bluez.ShortUUID(uuid), bluez.ErrNotSupported)
		}
		opts.Type = bluez.WriteWithoutResponse
	case !char.HasFlag("write") && char.HasFlag("write-without-response"):
		opts.Type = bluez.WriteWithoutResponse
	case !char.HasFlag("write"):
		return fmt.Errorf("characteristic %s does not support write operations: %w", bluez.ShortUUID(uuid), bluez.ErrNotSupported)
	}

	_, err = bluez.RunWithTimeout(ctx, timeout, "write "+bluez.ShortUUID(uuid), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, char.WriteValue(ctx, data, opts)
	})
	if err != nil {
		return err
	}
	progress.Stop()

	fmt.Fprintln(cmd.OutOrStdout(), "Write successful")
	return nil
}

func parseWriteData(dataStr string, asHex bool) ([]byte, error) {
	if !asHex {
		return []byte(dataStr), nil
	}

	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "", "0x", "").Replace(dataStr)
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}
