package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bluezkit/internal/groutine"
	"github.com/srg/bluezkit/internal/ringchan"
	"github.com/srg/bluezkit/pkg/bluez"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <device-address> <uuid[,uuid...]>",
	Short: "Stream characteristic notifications",
	Long: `Subscribes to one or more characteristics and prints every value
the device sends until interrupted. With several characteristics each
line is prefixed with the characteristic UUID.

Examples:
  # Stream heart rate measurements
  bluezkit subscribe AA:BB:CC:DD:EE:FF 2a37

  # Stop after 10 notifications
  bluezkit subscribe AA:BB:CC:DD:EE:FF 2a37 --count 10

  # Stream two characteristics for a minute
  bluezkit subscribe AA:BB:CC:DD:EE:FF 2a37,2a19 --duration 1m`,
	Args: cobra.ExactArgs(2),
	RunE: runSubscribe,
}

var (
	subscribeServiceUUID string
	subscribeHex         bool
	subscribeRaw         bool
	subscribeCount       int
	subscribeDuration    time.Duration
	subscribeBuffer      int
)

func init() {
	subscribeCmd.Flags().StringVar(&subscribeServiceUUID, "service", "", "Service UUID (required if characteristic UUID is ambiguous)")
	subscribeCmd.Flags().BoolVar(&subscribeHex, "hex", false, "Output as hex string")
	subscribeCmd.Flags().BoolVar(&subscribeRaw, "raw", false, "Output raw bytes")
	subscribeCmd.Flags().IntVar(&subscribeCount, "count", 0, "Stop after this many notifications (0 = unlimited)")
	subscribeCmd.Flags().DurationVar(&subscribeDuration, "duration", 0, "Stop after this long (0 = until interrupted)")
	subscribeCmd.Flags().IntVar(&subscribeBuffer, "buffer", 256, "Notifications buffered before the oldest are dropped")
	subscribeCmd.MarkFlagsMutuallyExclusive("hex", "raw")
}

// notification is one value received from a characteristic.
type notification struct {
	uuid string
	data []byte
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	address, uuidInput := args[0], args[1]

	if len(parseCSVUUIDs(uuidInput)) == 0 {
		return fmt.Errorf("no valid UUIDs provided")
	}
	if subscribeBuffer <= 0 {
		return fmt.Errorf("--buffer must be positive, got %d", subscribeBuffer)
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if subscribeDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, subscribeDuration)
		defer cancel()
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Subscribing to %s on %s", uuidInput, address), "Connecting", 0)
	progress.Start()
	defer progress.Stop()

	dev, cleanup, err := s.connectDevice(ctx, address, false)
	if err != nil {
		return err
	}
	defer cleanup()

	lost := disconnected(dev)
	defer lost.cancel()

	chars, err := resolveCharacteristics(ctx, dev, uuidInput, subscribeServiceUUID)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range chars {
			_ = c.Close()
		}
	}()

	for _, c := range chars {
		if !c.SupportsNotify() {
			return fmt.Errorf("characteristic %s does not support notifications: %w", bluez.ShortUUID(c.UUID()), bluez.ErrNotSupported)
		}
	}

	values := ringchan.New[notification](subscribeBuffer)
	defer values.Close()

	subs := make([]*bluez.Subscription, 0, len(chars))
	defer func() {
		for _, sub := range subs {
			sub.Cancel()
		}
	}()
	for _, c := range chars {
		uuid := bluez.ShortUUID(c.UUID())
		subs = append(subs, c.OnValue(func(e bluez.Event) {
			if values.Send(notification{uuid: uuid, data: e.Bytes()}) {
				s.logger.WithField("uuid", uuid).Debug("Notification buffer full, dropped oldest value")
			}
		}))
	}

	// OnValue starts notifications in the background; retry here so a
	// failure reaches the user.
	for _, c := range chars {
		if err := c.Flush(ctx); err != nil {
			return err
		}
		notifying, err := c.GetProperty(ctx, bluez.PropNotifying)
		if err != nil {
			return err
		}
		if on, _ := notifying.(bool); !on {
			if err := c.StartNotify(ctx); err != nil {
				return fmt.Errorf("failed to enable notifications on %s: %w", bluez.ShortUUID(c.UUID()), err)
			}
		}
	}
	progress.Stop()

	s.logger.WithFields(logrus.Fields{
		"address":         address,
		"characteristics": len(chars),
	}).Info("Streaming notifications")

	out := newValueWriter(cmd.OutOrStdout(), subscribeHex, subscribeRaw)
	prefixed := len(chars) > 1

	printed := make(chan error, 1)
	groutine.Go(ctx, "subscribe-printer", func(ctx context.Context) {
		printed <- printNotifications(ctx, values, out, prefixed, subscribeCount)
	})

	var result error
	select {
	case result = <-printed:
	case <-lost.ch:
		// Print what arrived before the link dropped.
		values.Close()
		<-printed
		result = ErrConnectionLost
	case <-ctx.Done():
		<-printed
	}
	values.Close()

	stats := values.Stats()
	if stats.Overwritten > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "Dropped %d of %d notifications\n", stats.Overwritten, stats.Written)
	}
	return result
}

// printNotifications writes values until ctx ends, the channel closes or
// count values are printed.
func printNotifications(ctx context.Context, values *ringchan.RingChannel[notification], out valueWriter, prefixed bool, count int) error {
	printed := 0
	for {
		var n notification
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-values.C():
			if !ok {
				return nil
			}
			n = v
		}
		prefix := ""
		if prefixed {
			prefix = n.uuid
		}
		if err := out.write(prefix, n.data); err != nil {
			return err
		}
		printed++
		if count > 0 && printed >= count {
			return nil
		}
	}
}
