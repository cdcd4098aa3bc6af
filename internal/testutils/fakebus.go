package testutils

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/srg/bluezkit/internal/bus"
	"go.uber.org/atomic"
)

// Remote error names the fake replies with.
const (
	ErrNameFailed        = "org.bluez.Error.Failed"
	ErrNameNotSupported  = "org.bluez.Error.NotSupported"
	ErrNameUnknownObject = "org.freedesktop.DBus.Error.UnknownObject"
	ErrNameUnknownMethod = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrNameInvalidArgs   = "org.freedesktop.DBus.Error.InvalidArgs"
)

// RemoteError builds an error shaped like a godbus method error reply.
func RemoteError(name, message string) error {
	return dbus.Error{Name: name, Body: []any{message}}
}

// MethodHandler implements one remote method on the fake bus.
type MethodHandler func(ctx context.Context, args ...any) ([]any, error)

// Call is one recorded method invocation.
type Call struct {
	Path      dbus.ObjectPath
	Interface string
	Method    string
	Args      []any
}

type methodKey struct {
	path   dbus.ObjectPath
	iface  string
	method string
}

type propKey struct {
	path  dbus.ObjectPath
	iface string
	name  string
}

type watchKind int

const (
	watchProperties watchKind = iota
	watchAdded
	watchRemoved
)

type fakeWatch struct {
	id        int
	kind      watchKind
	handle    bus.Handle
	service   string
	onProps   func(bus.PropertyChange)
	onAdded   func(bus.InterfacesAdded)
	onRemoved func(bus.InterfacesRemoved)

	bus       *FakeBus
	cancelled atomic.Bool
}

func (w *fakeWatch) Cancel() {
	if !w.cancelled.CompareAndSwap(false, true) {
		return
	}
	w.bus.mu.Lock()
	delete(w.bus.watches, w.id)
	w.bus.mu.Unlock()
}

// FakeBus is an in-memory bus.Conn holding one service's object tree. It
// answers the common BlueZ methods the way bluetoothd does, records every
// call, and delivers broadcasts synchronously on the emitting goroutine.
type FakeBus struct {
	mu       sync.Mutex
	service  string
	objects  bus.ManagedObjects
	handlers map[methodKey]MethodHandler
	getErrs  map[propKey]error
	calls    []Call
	watches  map[int]*fakeWatch
	nextID   int
	closed   bool

	beforeSnapshot func()
}

var _ bus.Conn = (*FakeBus)(nil)

// NewFakeBus returns an empty fake for service.
func NewFakeBus(service string) *FakeBus {
	return &FakeBus{
		service:  service,
		objects:  make(bus.ManagedObjects),
		handlers: make(map[methodKey]MethodHandler),
		getErrs:  make(map[propKey]error),
		watches:  make(map[int]*fakeWatch),
	}
}

// Closed reports whether Close was called.
func (f *FakeBus) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// --- bus.Conn ---

func (f *FakeBus) Call(ctx context.Context, h bus.Handle, method string, args ...any) ([]any, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, fmt.Errorf("fake bus closed")
	}
	f.calls = append(f.calls, Call{Path: h.Path, Interface: h.Interface, Method: method, Args: args})
	handler, ok := f.handlers[methodKey{h.Path, h.Interface, method}]
	if !ok {
		handler, ok = f.handlers[methodKey{"", h.Interface, method}]
	}
	_, exists := f.objects[h.Path][h.Interface]
	f.mu.Unlock()

	if ok {
		return handler(ctx, args...)
	}
	if !exists {
		return nil, RemoteError(ErrNameUnknownObject, fmt.Sprintf("no %s at %s", h.Interface, h.Path))
	}
	return f.defaultMethod(ctx, h, method, args...)
}

func (f *FakeBus) GetProperty(ctx context.Context, h bus.Handle, name string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.getErrs[propKey{h.Path, h.Interface, name}]; err != nil {
		return nil, err
	}
	props, ok := f.objects[h.Path][h.Interface]
	if !ok {
		return nil, RemoteError(ErrNameUnknownObject, fmt.Sprintf("no %s at %s", h.Interface, h.Path))
	}
	v, ok := props[name]
	if !ok {
		return nil, RemoteError(ErrNameInvalidArgs, "No such property '"+name+"'")
	}
	return v, nil
}

func (f *FakeBus) GetAllProperties(ctx context.Context, h bus.Handle) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	props, ok := f.objects[h.Path][h.Interface]
	if !ok {
		return nil, RemoteError(ErrNameUnknownObject, fmt.Sprintf("no %s at %s", h.Interface, h.Path))
	}
	// Like bluetoothd, GetAll leaves out properties that cannot be read.
	out := maps.Clone(props)
	for name := range out {
		if f.getErrs[propKey{h.Path, h.Interface, name}] != nil {
			delete(out, name)
		}
	}
	return out, nil
}

func (f *FakeBus) SetProperty(ctx context.Context, h bus.Handle, name string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	f.calls = append(f.calls, Call{Path: h.Path, Interface: h.Interface, Method: "Set", Args: []any{name, value}})
	props, ok := f.objects[h.Path][h.Interface]
	var current any
	if ok {
		current = props[name]
	}
	f.mu.Unlock()

	if !ok {
		return RemoteError(ErrNameUnknownObject, fmt.Sprintf("no %s at %s", h.Interface, h.Path))
	}
	if reflect.DeepEqual(current, value) {
		return nil
	}
	f.UpdateProperty(h.Path, h.Interface, name, value)
	return nil
}

func (f *FakeBus) ManagedObjects(ctx context.Context, service string) (bus.ManagedObjects, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	hook := f.beforeSnapshot
	f.beforeSnapshot = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(bus.ManagedObjects, len(f.objects))
	if service != f.service {
		return out, nil
	}
	for path, ifaces := range f.objects {
		copied := make(map[string]map[string]any, len(ifaces))
		for iface, props := range ifaces {
			copied[iface] = maps.Clone(props)
		}
		out[path] = copied
	}
	return out, nil
}

func (f *FakeBus) WatchProperties(h bus.Handle, fn func(bus.PropertyChange)) (bus.Subscription, error) {
	return f.addWatch(&fakeWatch{kind: watchProperties, handle: h, service: h.Service, onProps: fn})
}

func (f *FakeBus) WatchInterfacesAdded(service string, fn func(bus.InterfacesAdded)) (bus.Subscription, error) {
	return f.addWatch(&fakeWatch{kind: watchAdded, service: service, onAdded: fn})
}

func (f *FakeBus) WatchInterfacesRemoved(service string, fn func(bus.InterfacesRemoved)) (bus.Subscription, error) {
	return f.addWatch(&fakeWatch{kind: watchRemoved, service: service, onRemoved: fn})
}

func (f *FakeBus) addWatch(w *fakeWatch) (bus.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, fmt.Errorf("fake bus closed")
	}
	f.nextID++
	w.id = f.nextID
	w.bus = f
	f.watches[w.id] = w
	return w, nil
}

func (f *FakeBus) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// --- test controls ---

// AddObject exports ifaces on path and broadcasts InterfacesAdded.
func (f *FakeBus) AddObject(path dbus.ObjectPath, ifaces map[string]map[string]any) {
	f.mu.Lock()
	if f.objects[path] == nil {
		f.objects[path] = make(map[string]map[string]any)
	}
	for iface, props := range ifaces {
		f.objects[path][iface] = maps.Clone(props)
	}
	f.mu.Unlock()

	added := bus.InterfacesAdded{Path: path, Interfaces: make(map[string]map[string]any, len(ifaces))}
	for iface, props := range ifaces {
		added.Interfaces[iface] = maps.Clone(props)
	}
	for _, w := range f.matching(watchAdded, bus.Handle{Service: f.service}) {
		w.onAdded(added)
	}
}

// RemoveObject drops path and every descendant, broadcasting
// InterfacesRemoved for each, deepest first.
func (f *FakeBus) RemoveObject(path dbus.ObjectPath) {
	f.mu.Lock()
	var removed []bus.InterfacesRemoved
	for p, ifaces := range f.objects {
		if p != path && !strings.HasPrefix(string(p), string(path)+"/") {
			continue
		}
		names := slices.Sorted(maps.Keys(ifaces))
		removed = append(removed, bus.InterfacesRemoved{Path: p, Interfaces: names})
		delete(f.objects, p)
	}
	f.mu.Unlock()

	sort.Slice(removed, func(i, j int) bool { return len(removed[i].Path) > len(removed[j].Path) })
	for _, ev := range removed {
		for _, w := range f.matching(watchRemoved, bus.Handle{Service: f.service}) {
			w.onRemoved(ev)
		}
	}
}

// UpdateProperty stores value and broadcasts it, even when unchanged.
func (f *FakeBus) UpdateProperty(path dbus.ObjectPath, iface, name string, value any) {
	f.EmitPropertiesChanged(path, iface, map[string]any{name: value}, nil)
}

// EmitPropertiesChanged stores changed, forgets invalidated and broadcasts both.
func (f *FakeBus) EmitPropertiesChanged(path dbus.ObjectPath, iface string, changed map[string]any, invalidated []string) {
	f.mu.Lock()
	if props, ok := f.objects[path][iface]; ok {
		for name, v := range changed {
			props[name] = v
		}
		for _, name := range invalidated {
			delete(props, name)
		}
	}
	f.mu.Unlock()

	change := bus.PropertyChange{Interface: iface, Changed: maps.Clone(changed), Invalidated: invalidated}
	for _, w := range f.matching(watchProperties, bus.Handle{Service: f.service, Path: path, Interface: iface}) {
		w.onProps(change)
	}
}

// SetStoredProperty changes a value without broadcasting it.
func (f *FakeBus) SetStoredProperty(path dbus.ObjectPath, iface, name string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if props, ok := f.objects[path][iface]; ok {
		props[name] = value
	}
}

// StoredProperty returns the value currently held by the fake.
func (f *FakeBus) StoredProperty(path dbus.ObjectPath, iface, name string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.objects[path][iface][name]
	return v, ok
}

// HandleMethod overrides method on iface. An empty path applies to every object.
func (f *FakeBus) HandleMethod(path dbus.ObjectPath, iface, method string, h MethodHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[methodKey{path, iface, method}] = h
}

// FailMethod makes method on iface at path fail with err.
func (f *FakeBus) FailMethod(path dbus.ObjectPath, iface, method string, err error) {
	f.HandleMethod(path, iface, method, func(context.Context, ...any) ([]any, error) {
		return nil, err
	})
}

// BlockMethod makes method hang until the caller's context ends.
func (f *FakeBus) BlockMethod(path dbus.ObjectPath, iface, method string) {
	f.HandleMethod(path, iface, method, func(ctx context.Context, _ ...any) ([]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

// BeforeNextSnapshot runs fn once, inside the next ManagedObjects call and
// before the snapshot is taken. Objects fn adds are both broadcast and part
// of that snapshot.
func (f *FakeBus) BeforeNextSnapshot(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSnapshot = fn
}

// FailGet makes reads of one property fail with err, and GetAll omit it.
// A nil err clears it.
func (f *FakeBus) FailGet(path dbus.ObjectPath, iface, name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.getErrs, propKey{path, iface, name})
		return
	}
	f.getErrs[propKey{path, iface, name}] = err
}

// Calls returns recorded invocations of method on path. An empty method
// matches every call on path.
func (f *FakeBus) Calls(path dbus.ObjectPath, method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Call
	for _, c := range f.calls {
		if c.Path == path && (method == "" || c.Method == method) {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeBus) CallCount(path dbus.ObjectPath, method string) int {
	return len(f.Calls(path, method))
}

// PropertyWatchCount returns the live PropertiesChanged watches on path.
func (f *FakeBus) PropertyWatchCount(path dbus.ObjectPath) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, w := range f.watches {
		if w.kind == watchProperties && w.handle.Path == path {
			n++
		}
	}
	return n
}

// WatchCount returns every live watch.
func (f *FakeBus) WatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watches)
}

func (f *FakeBus) matching(kind watchKind, h bus.Handle) []*fakeWatch {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*fakeWatch
	ids := slices.Sorted(maps.Keys(f.watches))
	for _, id := range ids {
		w := f.watches[id]
		if w.kind != kind || w.service != h.Service {
			continue
		}
		if kind == watchProperties && (w.handle.Path != h.Path || w.handle.Interface != h.Interface) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func (f *FakeBus) boolProperty(path dbus.ObjectPath, iface, name string) bool {
	v, _ := f.StoredProperty(path, iface, name)
	b, _ := v.(bool)
	return b
}

// defaultMethod answers the BlueZ methods the handles use the way
// bluetoothd does, including the property broadcasts they cause.
func (f *FakeBus) defaultMethod(ctx context.Context, h bus.Handle, method string, args ...any) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch h.Interface + "." + method {
	case "org.bluez.Adapter1.StartDiscovery":
		f.UpdateProperty(h.Path, h.Interface, "Discovering", true)
	case "org.bluez.Adapter1.StopDiscovery":
		if !f.boolProperty(h.Path, h.Interface, "Discovering") {
			return nil, RemoteError(ErrNameFailed, "No discovery started")
		}
		f.UpdateProperty(h.Path, h.Interface, "Discovering", false)
	case "org.bluez.Adapter1.SetDiscoveryFilter":
	case "org.bluez.Adapter1.GetDiscoveryFilters":
		return []any{[]string{"UUIDs", "RSSI", "Pathloss", "Transport", "DuplicateData", "Discoverable", "Pattern"}}, nil
	case "org.bluez.Adapter1.RemoveDevice":
		if len(args) != 1 {
			return nil, RemoteError(ErrNameInvalidArgs, "Invalid arguments in method call")
		}
		path, _ := args[0].(dbus.ObjectPath)
		f.RemoveObject(path)

	case "org.bluez.Device1.Connect":
		f.UpdateProperty(h.Path, h.Interface, "Connected", true)
		f.UpdateProperty(h.Path, h.Interface, "ServicesResolved", true)
	case "org.bluez.Device1.Disconnect":
		f.UpdateProperty(h.Path, h.Interface, "ServicesResolved", false)
		f.UpdateProperty(h.Path, h.Interface, "Connected", false)
	case "org.bluez.Device1.Pair":
		f.UpdateProperty(h.Path, h.Interface, "Paired", true)
	case "org.bluez.Device1.CancelPairing",
		"org.bluez.Device1.ConnectProfile",
		"org.bluez.Device1.DisconnectProfile":

	case "org.bluez.GattCharacteristic1.ReadValue":
		v, _ := f.StoredProperty(h.Path, h.Interface, "Value")
		data, _ := v.([]byte)
		return []any{slices.Clone(data)}, nil
	case "org.bluez.GattCharacteristic1.WriteValue":
		if len(args) == 0 {
			return nil, RemoteError(ErrNameInvalidArgs, "Invalid arguments in method call")
		}
		data, _ := args[0].([]byte)
		f.SetStoredProperty(h.Path, h.Interface, "Value", slices.Clone(data))
	case "org.bluez.GattCharacteristic1.StartNotify":
		v, _ := f.StoredProperty(h.Path, h.Interface, "Flags")
		flags, _ := v.([]string)
		if !slices.Contains(flags, "notify") && !slices.Contains(flags, "indicate") {
			return nil, RemoteError(ErrNameNotSupported, "Operation is not supported")
		}
		if !f.boolProperty(h.Path, h.Interface, "Notifying") {
			f.UpdateProperty(h.Path, h.Interface, "Notifying", true)
		}
	case "org.bluez.GattCharacteristic1.StopNotify":
		if !f.boolProperty(h.Path, h.Interface, "Notifying") {
			return nil, RemoteError(ErrNameFailed, "No notify session started")
		}
		f.UpdateProperty(h.Path, h.Interface, "Notifying", false)

	default:
		return nil, RemoteError(ErrNameUnknownMethod, fmt.Sprintf("Method %q doesn't exist on %s", method, h.Interface))
	}
	return nil, nil
}
