package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bluezkit/internal/clientfactory"
	"github.com/srg/bluezkit/pkg/bluez"
	"github.com/srg/bluezkit/pkg/config"
)

// session bundles what every command needs: merged configuration, a logger
// and a connected client.
type session struct {
	cfg    *config.Config
	logger *logrus.Logger
	client *bluez.Client
}

// loadConfig reads --config (or the defaults) and applies global flag
// overrides on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v, _ := cmd.Flags().GetString("adapter"); v != "" {
		cfg.Adapter = v
	}
	if v, _ := cmd.Flags().GetString("bus"); v != "" {
		cfg.BusAddress = v
	}
	if v, _ := cmd.Flags().GetString("format"); v != "" {
		if !slices.Contains(config.OutputFormats, v) {
			return nil, fmt.Errorf("invalid format '%s': must be one of %v", v, config.OutputFormats)
		}
		cfg.OutputFormat = v
	}
	return cfg, cfg.Validate()
}

// newSession validates flags and opens the client. After it succeeds the
// command stops printing usage on errors.
func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	client, err := clientfactory.NewClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the %s bus: %w", cfg.BusAddress, err)
	}
	return &session{cfg: cfg, logger: logger, client: client}, nil
}

func (s *session) Close() {
	if err := s.client.Close(); err != nil {
		s.logger.WithError(err).Debug("Failed to close bus connection")
	}
}

func (s *session) adapter(ctx context.Context) (*bluez.Adapter, error) {
	return s.client.Adapter(ctx, s.cfg.Adapter)
}

// connectDevice resolves address on the configured adapter, connects if
// needed and waits for service discovery. The returned cleanup closes the
// handles; disconnect additionally disconnects a device this call connected.
func (s *session) connectDevice(ctx context.Context, address string, disconnect bool) (*bluez.Device, func(), error) {
	adapter, err := s.adapter(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer adapter.Close()

	dev, err := adapter.Device(ctx, address)
	if err != nil {
		return nil, nil, err
	}

	connected, err := dev.Connected(ctx)
	if err != nil {
		_ = dev.Close()
		return nil, nil, err
	}

	if !connected {
		_, err = bluez.RunWithTimeout(ctx, s.cfg.DeviceTimeout, "connect "+dev.Address(), func(ctx context.Context) (struct{}, error) {
			return struct{}{}, dev.Connect(ctx)
		})
		if err != nil {
			_ = dev.Close()
			return nil, nil, err
		}
	}

	if err := dev.WaitForPropertyValue(ctx, bluez.PropServicesResolved, true, s.cfg.DeviceTimeout); err != nil {
		_ = dev.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if disconnect && !connected {
			if err := dev.Disconnect(context.Background()); err != nil {
				s.logger.WithError(err).Warn("Failed to disconnect")
			}
		}
		_ = dev.Close()
	}
	return dev, cleanup, nil
}
