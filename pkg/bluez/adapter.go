package bluez

import (
	"context"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var adapterSchema = Schema{
	Interface: AdapterInterface,
	Properties: map[string]PropertyKind{
		PropPowered:     EdgeProperty,
		PropDiscovering: EdgeProperty,
	},
}

// Adapter is a local Bluetooth controller (org.bluez.Adapter1).
type Adapter struct {
	*RemoteObject
	catalog *Catalog
}

func newAdapter(c *Catalog, path dbus.ObjectPath) (*Adapter, error) {
	obj, err := newRemoteObject(c.conn, handleFor(c, path, AdapterInterface), adapterSchema, c.logger)
	if err != nil {
		return nil, err
	}
	return &Adapter{RemoteObject: obj, catalog: c}, nil
}

// Name returns the adapter's object name, e.g. "hci0".
func (a *Adapter) Name() string {
	return ObjectName(a.Path())
}

func (a *Adapter) Info(ctx context.Context) (AdapterProperties, error) {
	snap, err := a.Properties(ctx)
	if err != nil {
		return AdapterProperties{}, err
	}
	return NewAdapterProperties(snap), nil
}

func (a *Adapter) Address(ctx context.Context) (string, error) {
	v, err := a.GetProperty(ctx, PropAddress)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (a *Adapter) Powered(ctx context.Context) (bool, error) {
	return a.boolProperty(ctx, PropPowered)
}

func (a *Adapter) Discovering(ctx context.Context) (bool, error) {
	return a.boolProperty(ctx, PropDiscovering)
}

func (a *Adapter) boolProperty(ctx context.Context, name string) (bool, error) {
	v, err := a.GetProperty(ctx, name)
	if err != nil {
		return false, err
	}
	b, _ := v.(bool)
	return b, nil
}

func (a *Adapter) SetPowered(ctx context.Context, on bool) error {
	a.log().WithField("powered", on).Info("Setting adapter power")
	return a.SetProperty(ctx, PropPowered, on)
}

func (a *Adapter) PowerOn(ctx context.Context) error  { return a.SetPowered(ctx, true) }
func (a *Adapter) PowerOff(ctx context.Context) error { return a.SetPowered(ctx, false) }

func (a *Adapter) StartDiscovery(ctx context.Context) error {
	_, err := a.Call(ctx, "StartDiscovery")
	return err
}

func (a *Adapter) StopDiscovery(ctx context.Context) error {
	_, err := a.Call(ctx, "StopDiscovery")
	return err
}

// DiscoveryFilter narrows discovery results. Zero fields are not sent; an
// empty filter clears any previous one.
type DiscoveryFilter struct {
	UUIDs         []string
	RSSI          *int16
	Pathloss      *uint16
	Transport     string // "auto", "bredr" or "le"
	DuplicateData *bool
	Discoverable  *bool
	Pattern       string
}

func (f DiscoveryFilter) toDict() map[string]dbus.Variant {
	dict := make(map[string]dbus.Variant)
	if len(f.UUIDs) > 0 {
		uuids := make([]string, 0, len(f.UUIDs))
		for _, u := range f.UUIDs {
			if n := NormalizeUUID(u); n != "" {
				uuids = append(uuids, n)
			}
		}
		dict["UUIDs"] = dbus.MakeVariant(uuids)
	}
	if f.RSSI != nil {
		dict["RSSI"] = dbus.MakeVariant(*f.RSSI)
	}
	if f.Pathloss != nil {
		dict["Pathloss"] = dbus.MakeVariant(*f.Pathloss)
	}
	if f.Transport != "" {
		dict["Transport"] = dbus.MakeVariant(f.Transport)
	}
	if f.DuplicateData != nil {
		dict["DuplicateData"] = dbus.MakeVariant(*f.DuplicateData)
	}
	if f.Discoverable != nil {
		dict["Discoverable"] = dbus.MakeVariant(*f.Discoverable)
	}
	if f.Pattern != "" {
		dict["Pattern"] = dbus.MakeVariant(f.Pattern)
	}
	return dict
}

func (a *Adapter) SetDiscoveryFilter(ctx context.Context, filter DiscoveryFilter) error {
	_, err := a.Call(ctx, "SetDiscoveryFilter", filter.toDict())
	return err
}

// DiscoveryFilters returns the filter keys the adapter supports.
func (a *Adapter) DiscoveryFilters(ctx context.Context) ([]string, error) {
	reply, err := a.Call(ctx, "GetDiscoveryFilters")
	if err != nil {
		return nil, err
	}
	if len(reply) == 0 {
		return nil, nil
	}
	keys, _ := reply[0].([]string)
	return keys, nil
}

// RemoveDevice removes a device object and its pairing information.
func (a *Adapter) RemoveDevice(ctx context.Context, device dbus.ObjectPath) error {
	_, err := a.Call(ctx, "RemoveDevice", device)
	return err
}

// Devices opens a handle for every device currently known under the
// adapter. The caller closes them.
func (a *Adapter) Devices(ctx context.Context) ([]*Device, error) {
	entries, err := a.catalog.Entries(ctx, DeviceInterface, a.Path())
	if err != nil {
		return nil, err
	}

	devices := make([]*Device, len(entries))
	g, _ := errgroup.WithContext(ctx)
	for i, e := range entries {
		g.Go(func() error {
			d, err := newDevice(a.catalog, e)
			if err != nil {
				return err
			}
			devices[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, d := range devices {
			if d != nil {
				_ = d.Close()
			}
		}
		return nil, err
	}
	return devices, nil
}

// Device resolves the device with address under this adapter.
func (a *Adapter) Device(ctx context.Context, address string) (*Device, error) {
	return a.catalog.ResolveByAddress(ctx, a.Path(), address)
}

// OnPoweredOn fires when the adapter powers on; if it already is, fn gets
// one catch-up event first.
func (a *Adapter) OnPoweredOn(fn Listener) *Subscription {
	return a.On(PropPowered, BecameTrue, true, fn)
}

func (a *Adapter) OnPoweredOff(fn Listener) *Subscription {
	return a.On(PropPowered, BecameFalse, false, fn)
}

// OnDiscoveryStarted fires when discovery starts; if it is already running,
// fn gets one catch-up event first.
func (a *Adapter) OnDiscoveryStarted(fn Listener) *Subscription {
	return a.On(PropDiscovering, BecameTrue, true, fn)
}

func (a *Adapter) OnDiscoveryStopped(fn Listener) *Subscription {
	return a.On(PropDiscovering, BecameFalse, false, fn)
}

// OnDeviceFound reports devices under the adapter: those already known
// (IsStateChange=false) and those added later. Deliveries run on the
// adapter's event loop. fn owns each Device.
func (a *Adapter) OnDeviceFound(ctx context.Context, fn func(DeviceFoundEvent)) (*Subscription, error) {
	if a.Closed() {
		return nil, ErrClosed
	}

	var (
		mu        sync.Mutex
		cancelled bool
	)
	deliver := func(e Entry, existing bool) {
		a.loop.post(func(context.Context) {
			mu.Lock()
			stop := cancelled
			mu.Unlock()
			if stop {
				return
			}

			d, err := newDevice(a.catalog, e)
			if err != nil {
				a.log().WithFields(logrus.Fields{
					"device": e.Handle.Path,
					"error":  err,
				}).Warn("Failed to open discovered device")
				return
			}
			fn(DeviceFoundEvent{Device: d, IsStateChange: !existing})
		})
	}

	obs, err := a.catalog.Observe(ctx, DeviceInterface, a.Path(), deliver)
	if err != nil {
		return nil, err
	}

	sub := newSubscription(func() {
		mu.Lock()
		cancelled = true
		mu.Unlock()
		obs.Cancel()
	})
	a.own(sub)
	return sub, nil
}
