package bluez

import (
	"sync"

	"github.com/godbus/dbus/v5"
)

// EventKind tells what happened to a watched property.
type EventKind int

const (
	// BecameTrue fires when a boolean property flips to true.
	BecameTrue EventKind = iota
	// BecameFalse fires when a boolean property flips to false.
	BecameFalse
	// Changed fires on every broadcast of a value property, repeats included.
	Changed
	// Removed fires once when the remote object disappears.
	Removed
)

func (k EventKind) String() string {
	switch k {
	case BecameTrue:
		return "became_true"
	case BecameFalse:
		return "became_false"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is delivered to listeners on the owning object's event loop.
type Event struct {
	Path     dbus.ObjectPath
	Property string
	Kind     EventKind
	Value    any

	// IsStateChange is false for the catch-up event a new BecameTrue
	// subscriber receives when the property was already true.
	IsStateChange bool
}

// Bytes returns the event value as bytes, or nil.
func (e Event) Bytes() []byte {
	b, _ := e.Value.([]byte)
	return b
}

// Listener receives events. It runs on the object's event loop and must not
// block for long or call Flush on the same object.
type Listener func(Event)

// Subscription detaches a listener. Cancel is idempotent and safe to call
// from inside the listener itself.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func newSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

func (s *Subscription) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(s.cancel)
}

// DeviceFoundEvent reports a device under an adapter. IsStateChange is false
// for devices that already existed when the listener subscribed. The listener
// owns Device and must Close it.
type DeviceFoundEvent struct {
	Device        *Device
	IsStateChange bool
}
