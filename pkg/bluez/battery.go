package bluez

import (
	"context"
)

var batterySchema = Schema{
	Interface: BatteryInterface,
	Properties: map[string]PropertyKind{
		PropPercentage: ValueProperty,
	},
}

// Battery is the org.bluez.Battery1 interface of a device.
type Battery struct {
	*RemoteObject
}

func newBattery(c *Catalog, e Entry) (*Battery, error) {
	obj, err := newRemoteObject(c.conn, handleFor(c, e.Handle.Path, BatteryInterface), batterySchema, c.logger)
	if err != nil {
		return nil, err
	}
	return &Battery{RemoteObject: obj}, nil
}

// Percentage returns the charge level, 0-100.
func (b *Battery) Percentage(ctx context.Context) (uint8, error) {
	v, err := b.GetProperty(ctx, PropPercentage)
	if err != nil {
		return 0, err
	}
	n, _ := toInt64(v)
	return uint8(n), nil
}

func (b *Battery) OnPercentage(fn Listener) *Subscription {
	return b.On(PropPercentage, Changed, false, fn)
}
