package bluez

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/srg/bluezkit/internal/bus"
)

// Service is a GATT service. It carries no events, so it holds no watch and
// needs no Close.
type Service struct {
	catalog *Catalog
	handle  bus.Handle
	uuid    string
	primary bool
}

func newService(c *Catalog, e Entry) *Service {
	uuid, _ := e.Properties[PropUUID].(string)
	primary, _ := e.Properties[PropPrimary].(bool)
	return &Service{
		catalog: c,
		handle:  e.Handle,
		uuid:    NormalizeUUID(uuid),
		primary: primary,
	}
}

func (s *Service) Handle() bus.Handle   { return s.handle }
func (s *Service) Path() dbus.ObjectPath { return s.handle.Path }
func (s *Service) UUID() string          { return s.uuid }
func (s *Service) Primary() bool         { return s.primary }

// Characteristics opens a handle for every characteristic of the service.
// The caller closes them.
func (s *Service) Characteristics(ctx context.Context) ([]*Characteristic, error) {
	entries, err := s.catalog.Entries(ctx, GattCharacteristicInterface, s.handle.Path)
	if err != nil {
		return nil, err
	}

	chars := make([]*Characteristic, 0, len(entries))
	for _, e := range entries {
		c, err := newCharacteristic(s.catalog, e)
		if err != nil {
			for _, opened := range chars {
				_ = opened.Close()
			}
			return nil, err
		}
		chars = append(chars, c)
	}
	return chars, nil
}

// Characteristic opens the characteristic with uuid, or fails with *NotFoundError.
func (s *Service) Characteristic(ctx context.Context, uuid string) (*Characteristic, error) {
	entries, err := s.catalog.Entries(ctx, GattCharacteristicInterface, s.handle.Path)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if u, _ := e.Properties[PropUUID].(string); EqualUUID(u, uuid) {
			return newCharacteristic(s.catalog, e)
		}
	}
	return nil, &NotFoundError{Resource: "characteristic", Keys: []string{ShortUUID(s.uuid), uuid}}
}
