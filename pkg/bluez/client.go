// Package bluez exposes BlueZ adapters, devices and GATT objects as typed
// handles with edge-triggered events, built on the bus package.
package bluez

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/bluezkit/internal/bus"
)

// Client is the entry point: it owns the bus connection and hands out role
// handles. Handles outlive nothing: close them before the client.
type Client struct {
	conn    bus.Conn
	catalog *Catalog
	logger  *logrus.Logger
	service string
}

// ClientOption configures NewClient.
type ClientOption func(*Client)

// WithService targets a bus name other than org.bluez, e.g. a test daemon.
func WithService(name string) ClientOption {
	return func(c *Client) {
		if name != "" {
			c.service = name
		}
	}
}

// NewClient wraps conn. The client takes ownership of conn.
func NewClient(conn bus.Conn, logger *logrus.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	c := &Client{conn: conn, logger: logger, service: ServiceName}
	for _, opt := range opts {
		opt(c)
	}
	c.catalog = NewCatalog(conn, c.service, logger)
	return c
}

func (c *Client) Catalog() *Catalog { return c.catalog }
func (c *Client) Conn() bus.Conn    { return c.conn }

// Adapters opens a handle for every adapter, sorted by path.
func (c *Client) Adapters(ctx context.Context) ([]*Adapter, error) {
	handles, err := c.catalog.ListHandles(ctx, AdapterInterface, "")
	if err != nil {
		return nil, err
	}

	adapters := make([]*Adapter, 0, len(handles))
	for _, h := range handles {
		a, err := newAdapter(c.catalog, h.Path)
		if err != nil {
			for _, opened := range adapters {
				_ = opened.Close()
			}
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// Adapter opens the adapter called name ("hci0") or at a full path. An
// empty name selects the first adapter.
func (c *Client) Adapter(ctx context.Context, name string) (*Adapter, error) {
	handles, err := c.catalog.ListHandles(ctx, AdapterInterface, "")
	if err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		return nil, &NotFoundError{Resource: "adapter"}
	}
	if name == "" {
		return newAdapter(c.catalog, handles[0].Path)
	}

	want := AdapterPath(name)
	for _, h := range handles {
		if h.Path == want {
			return newAdapter(c.catalog, h.Path)
		}
	}
	return nil, &NotFoundError{Resource: "adapter", Keys: []string{name}}
}

// DefaultAdapter opens the first adapter.
func (c *Client) DefaultAdapter(ctx context.Context) (*Adapter, error) {
	return c.Adapter(ctx, "")
}

// Close closes the underlying bus connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
