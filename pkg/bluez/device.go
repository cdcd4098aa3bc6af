package bluez

import (
	"context"
	"strings"

	"github.com/godbus/dbus/v5"
)

var deviceSchema = Schema{
	Interface: DeviceInterface,
	Properties: map[string]PropertyKind{
		PropConnected:        EdgeProperty,
		PropServicesResolved: EdgeProperty,
		PropRSSI:             ValueProperty,
	},
}

// Device is a remote peer known to an adapter (org.bluez.Device1).
type Device struct {
	*RemoteObject
	catalog *Catalog
	address string
}

func newDevice(c *Catalog, e Entry) (*Device, error) {
	obj, err := newRemoteObject(c.conn, handleFor(c, e.Handle.Path, DeviceInterface), deviceSchema, c.logger)
	if err != nil {
		return nil, err
	}

	address, _ := e.Properties[PropAddress].(string)
	if address == "" {
		address, _ = AddressFromPath(e.Handle.Path)
	}
	return &Device{RemoteObject: obj, catalog: c, address: strings.ToUpper(address)}, nil
}

// Address returns the device address as BlueZ reported it when the handle was opened.
func (d *Device) Address() string {
	return d.address
}

// AdapterPath returns the path of the adapter the device belongs to.
func (d *Device) AdapterPath() dbus.ObjectPath {
	p := string(d.Path())
	if i := strings.LastIndex(p, "/"); i > 0 {
		return dbus.ObjectPath(p[:i])
	}
	return ""
}

func (d *Device) Info(ctx context.Context) (DeviceProperties, error) {
	snap, err := d.Properties(ctx)
	if err != nil {
		return DeviceProperties{}, err
	}
	return NewDeviceProperties(snap), nil
}

func (d *Device) Connected(ctx context.Context) (bool, error) {
	v, err := d.GetProperty(ctx, PropConnected)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

func (d *Device) Connect(ctx context.Context) error {
	d.log().WithField("address", d.address).Info("Connecting to BLE device...")
	_, err := d.Call(ctx, "Connect")
	return err
}

func (d *Device) Disconnect(ctx context.Context) error {
	d.log().WithField("address", d.address).Info("Disconnecting BLE device...")
	_, err := d.Call(ctx, "Disconnect")
	return err
}

func (d *Device) ConnectProfile(ctx context.Context, uuid string) error {
	_, err := d.Call(ctx, "ConnectProfile", NormalizeUUID(uuid))
	return err
}

func (d *Device) DisconnectProfile(ctx context.Context, uuid string) error {
	_, err := d.Call(ctx, "DisconnectProfile", NormalizeUUID(uuid))
	return err
}

func (d *Device) Pair(ctx context.Context) error {
	_, err := d.Call(ctx, "Pair")
	return err
}

func (d *Device) CancelPairing(ctx context.Context) error {
	_, err := d.Call(ctx, "CancelPairing")
	return err
}

// Services lists the GATT services resolved for the device, sorted by path.
func (d *Device) Services(ctx context.Context) ([]*Service, error) {
	entries, err := d.catalog.Entries(ctx, GattServiceInterface, d.Path())
	if err != nil {
		return nil, err
	}

	services := make([]*Service, 0, len(entries))
	for _, e := range entries {
		// Services sit directly below the device; deeper objects are characteristics or descriptors.
		if !isDirectChild(d.Path(), e.Handle.Path) {
			continue
		}
		services = append(services, newService(d.catalog, e))
	}
	return services, nil
}

// Service returns the service with uuid, or *NotFoundError.
func (d *Device) Service(ctx context.Context, uuid string) (*Service, error) {
	services, err := d.Services(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range services {
		if EqualUUID(s.UUID(), uuid) {
			return s, nil
		}
	}
	return nil, &NotFoundError{Resource: "service", Keys: []string{d.address, uuid}}
}

// Battery opens the device's org.bluez.Battery1 interface, or fails with
// *NotFoundError if the device does not expose one.
func (d *Device) Battery(ctx context.Context) (*Battery, error) {
	e, ok, err := d.catalog.Lookup(ctx, BatteryInterface, d.Path())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &NotFoundError{Resource: "battery", Keys: []string{d.address}}
	}
	return newBattery(d.catalog, e)
}

// OnConnected fires when the device connects; if it already is, fn gets one
// catch-up event first.
func (d *Device) OnConnected(fn Listener) *Subscription {
	return d.On(PropConnected, BecameTrue, true, fn)
}

func (d *Device) OnDisconnected(fn Listener) *Subscription {
	return d.On(PropConnected, BecameFalse, false, fn)
}

// OnServicesResolved fires when GATT discovery completes; if it already has,
// fn gets one catch-up event first.
func (d *Device) OnServicesResolved(fn Listener) *Subscription {
	return d.On(PropServicesResolved, BecameTrue, true, fn)
}

func (d *Device) OnServicesUnresolved(fn Listener) *Subscription {
	return d.On(PropServicesResolved, BecameFalse, false, fn)
}

// OnRSSI fires on every RSSI broadcast, repeated values included.
func (d *Device) OnRSSI(fn Listener) *Subscription {
	return d.On(PropRSSI, Changed, false, fn)
}

func isDirectChild(parent, child dbus.ObjectPath) bool {
	rest, ok := strings.CutPrefix(string(child), string(parent)+"/")
	return ok && rest != "" && !strings.Contains(rest, "/")
}
