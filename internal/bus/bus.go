// Package bus is the message-bus collaborator the bluez package is built on:
// typed remote-object handles, method invocation, property access and
// property/object broadcasts.
//
// Conn is the seam. DBusConn implements it on top of godbus; tests use the
// in-memory fake from internal/testutils.
package bus

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Well-known freedesktop interfaces and signal members.
const (
	PropertiesInterface    = "org.freedesktop.DBus.Properties"
	ObjectManagerInterface = "org.freedesktop.DBus.ObjectManager"

	PropertiesChangedMember = "PropertiesChanged"
	InterfacesAddedMember   = "InterfacesAdded"
	InterfacesRemovedMember = "InterfacesRemoved"

	PropertiesChangedSignal = PropertiesInterface + "." + PropertiesChangedMember
	InterfacesAddedSignal   = ObjectManagerInterface + "." + InterfacesAddedMember
	InterfacesRemovedSignal = ObjectManagerInterface + "." + InterfacesRemovedMember
)

// Handle identifies one interface of a remote object. It is a plain value:
// copies refer to the same remote entity.
type Handle struct {
	Service   string
	Path      dbus.ObjectPath
	Interface string
}

// NewHandle creates a handle for iface on the object at path owned by service.
func NewHandle(service string, path dbus.ObjectPath, iface string) Handle {
	return Handle{Service: service, Path: path, Interface: iface}
}

// WithInterface returns a handle for another interface of the same object.
func (h Handle) WithInterface(iface string) Handle {
	h.Interface = iface
	return h
}

func (h Handle) String() string {
	return fmt.Sprintf("%s%s[%s]", h.Service, h.Path, h.Interface)
}

// PropertyChange is one decoded PropertiesChanged broadcast. Changed values
// are already unwrapped from their variants.
type PropertyChange struct {
	Interface   string
	Changed     map[string]any
	Invalidated []string
}

// InterfacesAdded reports interfaces (with their initial properties) that
// appeared on the object at Path.
type InterfacesAdded struct {
	Path       dbus.ObjectPath
	Interfaces map[string]map[string]any
}

// InterfacesRemoved reports interfaces that disappeared from the object at Path.
type InterfacesRemoved struct {
	Path       dbus.ObjectPath
	Interfaces []string
}

// ManagedObjects is the ObjectManager view: path -> interface -> property -> value.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]any

// Subscription is a live broadcast watch. Cancel is idempotent; once it
// returns the callback is never invoked again.
type Subscription interface {
	Cancel()
}

// Conn is the set of bus primitives the rest of the module consumes.
type Conn interface {
	// Call invokes method on h.Interface and returns the reply body.
	Call(ctx context.Context, h Handle, method string, args ...any) ([]any, error)

	GetProperty(ctx context.Context, h Handle, name string) (any, error)
	GetAllProperties(ctx context.Context, h Handle) (map[string]any, error)
	SetProperty(ctx context.Context, h Handle, name string, value any) error

	// ManagedObjects returns the object tree exported by service's root ObjectManager.
	ManagedObjects(ctx context.Context, service string) (ManagedObjects, error)

	// WatchProperties delivers PropertiesChanged broadcasts for h.Path and h.Interface.
	WatchProperties(h Handle, fn func(PropertyChange)) (Subscription, error)
	// WatchInterfacesAdded delivers InterfacesAdded broadcasts from service's root ObjectManager.
	WatchInterfacesAdded(service string, fn func(InterfacesAdded)) (Subscription, error)
	// WatchInterfacesRemoved delivers InterfacesRemoved broadcasts from service's root ObjectManager.
	WatchInterfacesRemoved(service string, fn func(InterfacesRemoved)) (Subscription, error)

	Close() error
}

// UnwrapVariants converts a variant map into plain Go values.
func UnwrapVariants(in map[string]dbus.Variant) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v.Value()
	}
	return out
}

// UnwrapInterfaces converts a nested interface -> property -> variant map.
func UnwrapInterfaces(in map[string]map[string]dbus.Variant) map[string]map[string]any {
	out := make(map[string]map[string]any, len(in))
	for iface, props := range in {
		out[iface] = UnwrapVariants(props)
	}
	return out
}
