package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/bluezkit/pkg/bluez"
)

// powerCmd represents the power command
var powerCmd = &cobra.Command{
	Use:   "power <on|off>",
	Short: "Switch an adapter on or off",
	Long: `Sets the Powered property of the adapter and waits until bluetoothd
reports the new state.

Examples:
  bluezkit power on
  bluezkit power off --adapter hci1`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      runPower,
}

func runPower(cmd *cobra.Command, args []string) error {
	var on bool
	switch args[0] {
	case "on":
		on = true
	case "off":
	default:
		return fmt.Errorf("invalid power state %q: use on or off", args[0])
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	adapter, err := s.adapter(ctx)
	if err != nil {
		return err
	}
	defer adapter.Close()

	if err := adapter.SetPowered(ctx, on); err != nil {
		return err
	}
	if err := adapter.WaitForPropertyValue(ctx, bluez.PropPowered, on, s.cfg.DeviceTimeout); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: powered %s\n", adapter.Name(), args[0])
	return nil
}
