package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/bluezkit/pkg/bluez"
)

// adaptersCmd represents the adapters command
var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List Bluetooth adapters",
	Long: `Lists the adapters bluetoothd manages with their address and state.

Examples:
  bluezkit adapters
  bluezkit adapters --format json`,
	Args: cobra.NoArgs,
	RunE: runAdapters,
}

type adapterView struct {
	ID string `json:"id" yaml:"id"`
	bluez.AdapterProperties `yaml:",inline"`
	Devices int `json:"devices" yaml:"devices"`
}

func runAdapters(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), s.cfg.DeviceTimeout)
	defer cancel()

	adapters, err := s.client.Adapters(ctx)
	if err != nil {
		return err
	}
	defer func() {
		for _, a := range adapters {
			_ = a.Close()
		}
	}()

	views := make([]adapterView, 0, len(adapters))
	for _, a := range adapters {
		props, err := a.Info(ctx)
		if err != nil {
			return err
		}
		devices, err := s.client.Catalog().ListHandles(ctx, bluez.DeviceInterface, a.Path())
		if err != nil {
			return err
		}
		views = append(views, adapterView{ID: a.Name(), AdapterProperties: props, Devices: len(devices)})
	}

	out := cmd.OutOrStdout()
	if done, err := writeStructured(out, s.cfg.OutputFormat, views); done {
		return err
	}

	if len(views) == 0 {
		fmt.Fprintln(out, "No adapters found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	headerColor.Fprintln(w, "ADAPTER\tADDRESS\tALIAS\tPOWERED\tDISCOVERING\tDEVICES")
	fmt.Fprintln(w, strings.Repeat("-", 70))
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n", v.ID, v.Address, v.Alias, onOff(v.Powered), onOff(v.Discovering), v.Devices)
	}
	return w.Flush()
}
