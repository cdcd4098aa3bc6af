package bluez

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/bluezkit/internal/bus"
	"go.uber.org/atomic"
)

// PropertyKind selects how broadcasts of a property become events.
type PropertyKind int

const (
	// EdgeProperty is a boolean reported only on transitions.
	EdgeProperty PropertyKind = iota
	// ValueProperty is reported on every broadcast.
	ValueProperty
)

// Schema lists the properties of one interface that a role turns into events.
type Schema struct {
	Interface  string
	Properties map[string]PropertyKind
}

// seedTimeout bounds the initial GetAll made while opening an object.
const seedTimeout = 5 * time.Second

type edgeState int

const (
	stateUnknown edgeState = iota
	stateFalse
	stateTrue
)

func edgeOf(b bool) edgeState {
	if b {
		return stateTrue
	}
	return stateFalse
}

type listener struct {
	property string
	kind     EventKind
	raw      bool // any broadcast of property, regardless of schema
	catchUp  bool
	fn       Listener

	ready     bool // guarded by RemoteObject.mu; set on the loop
	cancelled atomic.Bool
}

// activation is a remote-side start/stop pair driven by the listener count
// of one property, e.g. StartNotify/StopNotify for a characteristic value.
type activation struct {
	count  int  // guarded by RemoteObject.mu
	active bool // loop-owned: start succeeded and stop has not run
	start  func(ctx context.Context) error
	stop   func(ctx context.Context) error
}

// RemoteObject is the event adapter for one interface of one remote object.
// It holds a single property watch for its lifetime and dispatches every
// event on its own serial loop, so listeners never run concurrently and
// observe broadcasts in arrival order.
//
// Close releases local resources only. It never calls the remote side.
type RemoteObject struct {
	conn   bus.Conn
	handle bus.Handle
	schema Schema
	logger *logrus.Logger

	loop         *eventLoop
	watch        bus.Subscription
	removedWatch bus.Subscription

	states map[string]edgeState // loop-owned

	mu          sync.Mutex
	listeners   []*listener
	activations map[string]*activation
	last        map[string]any
	owned       []interface{ Cancel() }

	listenerCount atomic.Int32
	closed        atomic.Bool
}

func newRemoteObject(conn bus.Conn, handle bus.Handle, schema Schema, logger *logrus.Logger) (*RemoteObject, error) {
	if logger == nil {
		logger = logrus.New()
	}

	o := &RemoteObject{
		conn:        conn,
		handle:      handle,
		schema:      schema,
		logger:      logger,
		states:      make(map[string]edgeState),
		activations: make(map[string]*activation),
		last:        make(map[string]any),
	}

	// Broadcasts received while seeding queue up behind the gate and are
	// applied on top of the seeded states.
	o.loop = newEventLoop("bluez-object:" + string(handle.Path))
	seeded := make(chan struct{})
	o.loop.post(func(ctx context.Context) {
		select {
		case <-seeded:
		case <-ctx.Done():
		}
	})

	watch, err := conn.WatchProperties(handle, o.onPropertiesChanged)
	if err != nil {
		o.loop.stop()
		return nil, NormalizeError("AddMatch PropertiesChanged", handle.Path, err)
	}
	removedWatch, err := conn.WatchInterfacesRemoved(handle.Service, o.onInterfacesRemoved)
	if err != nil {
		watch.Cancel()
		o.loop.stop()
		return nil, NormalizeError("AddMatch InterfacesRemoved", handle.Path, err)
	}
	o.watch, o.removedWatch = watch, removedWatch

	ctx, cancel := context.WithTimeout(context.Background(), seedTimeout)
	o.seed(ctx)
	cancel()
	close(seeded)

	o.log().Debug("Remote object opened")
	return o, nil
}

func (o *RemoteObject) log() *logrus.Entry {
	return o.logger.WithFields(logrus.Fields{
		"path":      o.handle.Path,
		"interface": o.handle.Interface,
	})
}

// Handle returns the bus handle the object wraps.
func (o *RemoteObject) Handle() bus.Handle {
	return o.handle
}

func (o *RemoteObject) Path() dbus.ObjectPath {
	return o.handle.Path
}

// ListenerCount returns the number of live subscriptions, pending ones included.
func (o *RemoteObject) ListenerCount() int {
	return int(o.listenerCount.Load())
}

func (o *RemoteObject) Closed() bool {
	return o.closed.Load()
}

// Flush waits until every broadcast received before the call has been
// dispatched. It must not be called from a listener of the same object.
func (o *RemoteObject) Flush(ctx context.Context) error {
	if o.closed.Load() {
		return ErrClosed
	}
	return o.loop.flush(ctx)
}

// GetProperty reads one property of the wrapped interface.
func (o *RemoteObject) GetProperty(ctx context.Context, name string) (any, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}
	v, err := o.conn.GetProperty(ctx, o.handle, name)
	if err != nil {
		return nil, NormalizeError("Get "+name, o.handle.Path, err)
	}
	return v, nil
}

// SetProperty writes one property of the wrapped interface.
func (o *RemoteObject) SetProperty(ctx context.Context, name string, value any) error {
	if o.closed.Load() {
		return ErrClosed
	}
	if err := o.conn.SetProperty(ctx, o.handle, name, value); err != nil {
		return NormalizeError("Set "+name, o.handle.Path, err)
	}
	return nil
}

// Properties captures every property of the wrapped interface in one call.
func (o *RemoteObject) Properties(ctx context.Context) (PropertySnapshot, error) {
	if o.closed.Load() {
		return PropertySnapshot{}, ErrClosed
	}
	props, err := o.conn.GetAllProperties(ctx, o.handle)
	if err != nil {
		return PropertySnapshot{}, NormalizeError("GetAll", o.handle.Path, err)
	}
	return NewPropertySnapshot(props), nil
}

// Call invokes method on the wrapped interface.
func (o *RemoteObject) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}

	o.log().WithField("method", method).Debug("Calling remote method")
	reply, err := o.conn.Call(ctx, o.handle, method, args...)
	if err != nil {
		return nil, NormalizeError(method, o.handle.Path, err)
	}
	return reply, nil
}

// LastValue returns the most recent broadcast or seeded value of name.
func (o *RemoteObject) LastValue(name string) (any, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.last[name]
	return v, ok
}

// On attaches fn to kind events of property. With catchUp set and kind
// BecameTrue, fn receives one IsStateChange=false event if the property
// already reads true, before any later transition.
//
// On a closed object the returned subscription is inert.
func (o *RemoteObject) On(property string, kind EventKind, catchUp bool, fn Listener) *Subscription {
	return o.subscribe(&listener{
		property: property,
		kind:     kind,
		catchUp:  catchUp && kind == BecameTrue,
		fn:       fn,
	})
}

// OnRemoved fires once when the wrapped interface disappears from the bus.
// The object closes itself right after.
func (o *RemoteObject) OnRemoved(fn Listener) *Subscription {
	return o.subscribe(&listener{kind: Removed, fn: fn})
}

// watchRaw delivers every broadcast of property as a Changed event.
func (o *RemoteObject) watchRaw(property string, fn Listener) *Subscription {
	return o.subscribe(&listener{property: property, kind: Changed, raw: true, fn: fn})
}

// Activate registers a start/stop pair run when the number of listeners on
// property goes from zero to one and back.
func (o *RemoteObject) Activate(property string, start, stop func(ctx context.Context) error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activations[property] = &activation{start: start, stop: stop}
}

func (o *RemoteObject) subscribe(l *listener) *Subscription {
	o.mu.Lock()
	// Close flips closed before it takes mu, so a listener appended here is
	// always seen and released by Close.
	if o.closed.Load() {
		o.mu.Unlock()
		o.log().WithField("property", l.property).Debug("Subscribe on closed object ignored")
		return newSubscription(nil)
	}
	o.listenerCount.Inc()
	o.listeners = append(o.listeners, l)
	act := o.activations[l.property]
	startNeeded := false
	if act != nil && !l.raw {
		act.count++
		startNeeded = act.count == 1
	}
	o.mu.Unlock()

	o.loop.post(func(ctx context.Context) { o.attach(ctx, l) })
	if startNeeded {
		o.loop.post(func(ctx context.Context) { o.runActivation(ctx, l.property, true) })
	}

	return newSubscription(func() { o.detach(l) })
}

func (o *RemoteObject) attach(ctx context.Context, l *listener) {
	if l.cancelled.Load() {
		return
	}

	o.mu.Lock()
	l.ready = true
	o.mu.Unlock()

	if !l.catchUp || !o.currentlyTrue(ctx, l.property) {
		return
	}
	if l.cancelled.Load() {
		return
	}
	l.fn(Event{
		Path:          o.handle.Path,
		Property:      l.property,
		Kind:          BecameTrue,
		Value:         true,
		IsStateChange: false,
	})
}

// currentlyTrue reports the state a catch-up is decided on. The loop-owned
// state already reflects every broadcast dispatched before the subscriber
// attached; the remote side is asked only while the state is unknown.
func (o *RemoteObject) currentlyTrue(ctx context.Context, name string) bool {
	switch o.states[name] {
	case stateTrue:
		return true
	case stateFalse:
		return false
	}
	return o.probe(ctx, name)
}

// probe reads a boolean property for catch-up. Failures count as false.
func (o *RemoteObject) probe(ctx context.Context, name string) bool {
	v, err := o.conn.GetProperty(ctx, o.handle, name)
	if err != nil {
		o.log().WithFields(logrus.Fields{
			"property": name,
			"error":    err,
		}).Warn("Failed to probe property, assuming false")
		return false
	}

	b, ok := v.(bool)
	if !ok {
		return false
	}
	if o.states[name] == stateUnknown {
		o.states[name] = edgeOf(b)
	}
	return b
}

func (o *RemoteObject) detach(l *listener) {
	if !l.cancelled.CompareAndSwap(false, true) {
		return
	}
	o.listenerCount.Dec()

	o.mu.Lock()
	for i, cur := range o.listeners {
		if cur == l {
			o.listeners = append(o.listeners[:i:i], o.listeners[i+1:]...)
			break
		}
	}
	act := o.activations[l.property]
	stopNeeded := false
	if act != nil && !l.raw {
		act.count--
		stopNeeded = act.count == 0
	}
	o.mu.Unlock()

	if stopNeeded {
		o.loop.post(func(ctx context.Context) { o.runActivation(ctx, l.property, false) })
	}
}

func (o *RemoteObject) runActivation(ctx context.Context, property string, start bool) {
	o.mu.Lock()
	act := o.activations[property]
	o.mu.Unlock()
	if act == nil {
		return
	}

	entry := o.log().WithField("property", property)
	switch {
	case start && !act.active:
		if err := act.start(ctx); err != nil {
			entry.WithField("error", err).Warn("Failed to activate property updates")
			return
		}
		act.active = true
		entry.Debug("Property updates activated")
	case !start && act.active:
		act.active = false
		if err := act.stop(ctx); err != nil {
			entry.WithField("error", err).Warn("Failed to deactivate property updates")
			return
		}
		entry.Debug("Property updates deactivated")
	}
}

// seed records the initial edge states so the first broadcast of an
// unchanged value is not reported as a transition. It runs before the loop
// dispatches anything.
func (o *RemoteObject) seed(ctx context.Context) {
	props, err := o.conn.GetAllProperties(ctx, o.handle)
	if err != nil {
		o.log().WithField("error", err).Debug("Initial property read failed, states stay unknown")
		return
	}

	o.mu.Lock()
	for name, v := range props {
		if _, seen := o.last[name]; !seen {
			o.last[name] = v
		}
	}
	o.mu.Unlock()

	for name, kind := range o.schema.Properties {
		if kind != EdgeProperty || o.states[name] != stateUnknown {
			continue
		}
		if b, ok := props[name].(bool); ok {
			o.states[name] = edgeOf(b)
		}
	}
}

func (o *RemoteObject) onPropertiesChanged(change bus.PropertyChange) {
	o.loop.post(func(context.Context) { o.apply(change) })
}

func (o *RemoteObject) apply(change bus.PropertyChange) {
	// Invalidation drops the cached value only. Edge states keep the last
	// observed level, so a re-broadcast of the same value is not an edge.
	if len(change.Invalidated) > 0 {
		o.mu.Lock()
		for _, name := range change.Invalidated {
			delete(o.last, name)
		}
		o.mu.Unlock()
	}

	names := make([]string, 0, len(change.Changed))
	for name := range change.Changed {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := change.Changed[name]

		o.mu.Lock()
		o.last[name] = value
		o.mu.Unlock()

		o.emit(Event{Path: o.handle.Path, Property: name, Kind: Changed, Value: value, IsStateChange: true}, true)

		kind, ok := o.schema.Properties[name]
		if !ok {
			continue
		}

		switch kind {
		case EdgeProperty:
			b, isBool := value.(bool)
			if !isBool {
				o.log().WithField("property", name).Warn("Ignoring non-boolean value for edge property")
				continue
			}
			next := edgeOf(b)
			if o.states[name] == next {
				continue
			}
			o.states[name] = next

			ev := Event{Path: o.handle.Path, Property: name, Kind: BecameFalse, Value: b, IsStateChange: true}
			if b {
				ev.Kind = BecameTrue
			}
			o.emit(ev, false)
		case ValueProperty:
			o.emit(Event{Path: o.handle.Path, Property: name, Kind: Changed, Value: value, IsStateChange: true}, false)
		}
	}
}

// emit delivers ev to matching ready listeners. raw selects the raw watchers.
func (o *RemoteObject) emit(ev Event, raw bool) {
	o.mu.Lock()
	targets := make([]*listener, 0, len(o.listeners))
	for _, l := range o.listeners {
		if l.ready && l.raw == raw && l.kind == ev.Kind && l.property == ev.Property {
			targets = append(targets, l)
		}
	}
	o.mu.Unlock()

	for _, l := range targets {
		if l.cancelled.Load() {
			continue
		}
		l.fn(ev)
	}
}

func (o *RemoteObject) onInterfacesRemoved(removed bus.InterfacesRemoved) {
	if removed.Path != o.handle.Path {
		return
	}
	for _, iface := range removed.Interfaces {
		if iface == o.handle.Interface {
			o.loop.post(o.removed)
			return
		}
	}
}

func (o *RemoteObject) removed(context.Context) {
	o.log().Debug("Remote object removed")
	o.emit(Event{Path: o.handle.Path, Kind: Removed, IsStateChange: true}, false)
	_ = o.Close()
}

// own ties c's lifetime to the object: it is cancelled on Close.
func (o *RemoteObject) own(c interface{ Cancel() }) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.owned = append(o.owned, c)
}

// Close cancels the property watch and every listener. It is idempotent and
// makes no remote calls, including for active notification sessions.
func (o *RemoteObject) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}

	o.watch.Cancel()
	o.removedWatch.Cancel()
	o.loop.stop()

	o.mu.Lock()
	listeners := o.listeners
	owned := o.owned
	o.listeners, o.owned = nil, nil
	o.mu.Unlock()

	for _, l := range listeners {
		if l.cancelled.CompareAndSwap(false, true) {
			o.listenerCount.Dec()
		}
	}
	for _, c := range owned {
		c.Cancel()
	}

	o.log().Debug("Remote object closed")
	return nil
}
