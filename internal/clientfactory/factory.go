package clientfactory

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/bluezkit/internal/bus"
	"github.com/srg/bluezkit/pkg/bluez"
	"github.com/srg/bluezkit/pkg/config"
)

// ConnFactory opens the bus connection clients are built on.
// This is a variable so that it can be overridden in tests.
var ConnFactory = func(address string, logger *logrus.Logger) (bus.Conn, error) {
	conn, err := bus.Connect(address, logger)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// NewClient opens a BlueZ client for cfg using ConnFactory.
func NewClient(cfg *config.Config, logger *logrus.Logger) (*bluez.Client, error) {
	conn, err := ConnFactory(cfg.BusAddress, logger)
	if err != nil {
		return nil, err
	}
	return bluez.NewClient(conn, logger, bluez.WithService(cfg.Service)), nil
}
