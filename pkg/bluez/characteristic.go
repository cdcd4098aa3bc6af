package bluez

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/godbus/dbus/v5"
)

var characteristicSchema = Schema{
	Interface: GattCharacteristicInterface,
	Properties: map[string]PropertyKind{
		PropValue:     ValueProperty,
		PropNotifying: EdgeProperty,
	},
}

// DefaultReadTimeout bounds ReadValue when no timeout is given.
const DefaultReadTimeout = 10 * time.Second

// Characteristic is a GATT characteristic (org.bluez.GattCharacteristic1).
//
// Value listeners are reference counted: the first OnValue subscription
// starts remote notifications and cancelling the last one stops them.
type Characteristic struct {
	*RemoteObject
	uuid    string
	flags   []string
	service dbus.ObjectPath
}

func newCharacteristic(c *Catalog, e Entry) (*Characteristic, error) {
	obj, err := newRemoteObject(c.conn, handleFor(c, e.Handle.Path, GattCharacteristicInterface), characteristicSchema, c.logger)
	if err != nil {
		return nil, err
	}

	uuid, _ := e.Properties[PropUUID].(string)
	flags, _ := e.Properties[PropFlags].([]string)
	service, _ := e.Properties["Service"].(dbus.ObjectPath)

	ch := &Characteristic{
		RemoteObject: obj,
		uuid:         NormalizeUUID(uuid),
		flags:        flags,
		service:      service,
	}
	obj.Activate(PropValue, ch.StartNotify, ch.StopNotify)
	return ch, nil
}

func (c *Characteristic) UUID() string                 { return c.uuid }
func (c *Characteristic) Flags() []string              { return slices.Clone(c.flags) }
func (c *Characteristic) ServicePath() dbus.ObjectPath { return c.service }

func (c *Characteristic) HasFlag(flag string) bool {
	return slices.Contains(c.flags, flag)
}

// SupportsNotify reports whether the characteristic can notify or indicate.
func (c *Characteristic) SupportsNotify() bool {
	return c.HasFlag("notify") || c.HasFlag("indicate")
}

// Value returns the most recent value seen through notifications or the
// initial property read, or nil.
func (c *Characteristic) Value() []byte {
	v, _ := c.LastValue(PropValue)
	b, _ := v.([]byte)
	return slices.Clone(b)
}

// ReadOptions are passed to ReadValue on the remote side.
type ReadOptions struct {
	Offset uint16
	MTU    uint16
}

func (o ReadOptions) toDict() map[string]dbus.Variant {
	dict := make(map[string]dbus.Variant)
	if o.Offset > 0 {
		dict["offset"] = dbus.MakeVariant(o.Offset)
	}
	if o.MTU > 0 {
		dict["mtu"] = dbus.MakeVariant(o.MTU)
	}
	return dict
}

// ReadValue reads the characteristic value, failing with *TimeoutError if
// the remote side does not answer within timeout (DefaultReadTimeout if zero).
func (c *Characteristic) ReadValue(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return c.ReadValueWithOptions(ctx, timeout, ReadOptions{})
}

func (c *Characteristic) ReadValueWithOptions(ctx context.Context, timeout time.Duration, opts ReadOptions) ([]byte, error) {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	return RunWithTimeout(ctx, timeout, "read "+ShortUUID(c.uuid), func(ctx context.Context) ([]byte, error) {
		reply, err := c.Call(ctx, "ReadValue", opts.toDict())
		if err != nil {
			return nil, err
		}
		if len(reply) == 0 {
			return nil, nil
		}
		data, _ := reply[0].([]byte)
		return data, nil
	})
}

// WriteType selects the GATT write procedure.
type WriteType string

const (
	WriteDefault         WriteType = ""
	WriteWithResponse    WriteType = "request"
	WriteWithoutResponse WriteType = "command"
	WriteReliable        WriteType = "reliable"
)

// WriteOptions are passed to WriteValue on the remote side.
type WriteOptions struct {
	Offset       uint16
	Type         WriteType
	PrepareAuthz bool
}

func (o WriteOptions) toDict() map[string]dbus.Variant {
	dict := make(map[string]dbus.Variant)
	if o.Offset > 0 {
		dict["offset"] = dbus.MakeVariant(o.Offset)
	}
	if o.Type != WriteDefault {
		dict["type"] = dbus.MakeVariant(string(o.Type))
	}
	if o.PrepareAuthz {
		dict["prepare-authorize"] = dbus.MakeVariant(true)
	}
	return dict
}

func (c *Characteristic) WriteValue(ctx context.Context, data []byte, opts WriteOptions) error {
	_, err := c.Call(ctx, "WriteValue", data, opts.toDict())
	return err
}

// StartNotify asks the remote side to send value notifications.
func (c *Characteristic) StartNotify(ctx context.Context) error {
	if c.flags != nil && !c.SupportsNotify() {
		return fmt.Errorf("StartNotify on %s: characteristic cannot notify or indicate: %w", c.Path(), ErrNotSupported)
	}
	_, err := c.Call(ctx, "StartNotify")
	return err
}

func (c *Characteristic) StopNotify(ctx context.Context) error {
	_, err := c.Call(ctx, "StopNotify")
	return err
}

// OnValue fires on every value broadcast, repeated values included. The
// first subscription starts notifications; if that fails the listener stays
// attached and still sees values produced by reads.
func (c *Characteristic) OnValue(fn Listener) *Subscription {
	return c.On(PropValue, Changed, false, fn)
}

// OnNotifying fires when the remote side starts notifying; if it already
// is, fn gets one catch-up event first.
func (c *Characteristic) OnNotifying(fn Listener) *Subscription {
	return c.On(PropNotifying, BecameTrue, true, fn)
}
