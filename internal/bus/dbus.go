package bus

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"github.com/srg/bluezkit/internal/groutine"
	"go.uber.org/atomic"
)

// signalBuffer bounds the queue between godbus and the router goroutine.
const signalBuffer = 64

// ErrConnClosed is returned by operations on a closed DBusConn.
var ErrConnClosed = errors.New("bus connection closed")

// DBusConn implements Conn on a private godbus connection. All broadcasts are
// delivered by a single router goroutine.
type DBusConn struct {
	conn    *dbus.Conn
	router  *router
	signals chan *dbus.Signal
	logger  *logrus.Logger

	cancel context.CancelFunc
	done   <-chan struct{}
	closed atomic.Bool
}

var _ Conn = (*DBusConn)(nil)

// Connect opens a private connection. address may be "" or "system" for the
// system bus, "session" for the session bus, or any D-Bus address string.
func Connect(address string, logger *logrus.Logger) (*DBusConn, error) {
	var (
		conn *dbus.Conn
		err  error
	)

	switch address {
	case "", "system":
		conn, err = dbus.ConnectSystemBus()
	case "session":
		conn, err = dbus.ConnectSessionBus()
	default:
		conn, err = dbus.Connect(address)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "connect to bus %q", address)
	}

	return NewDBusConn(conn, logger), nil
}

// NewDBusConn wraps an established godbus connection and starts routing its signals.
func NewDBusConn(conn *dbus.Conn, logger *logrus.Logger) *DBusConn {
	if logger == nil {
		logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &DBusConn{
		conn:    conn,
		router:  newRouter(logger),
		signals: make(chan *dbus.Signal, signalBuffer),
		logger:  logger,
		cancel:  cancel,
	}

	conn.Signal(c.signals)
	c.done = groutine.Go(ctx, "bus-signal-router", c.route)

	return c
}

func (c *DBusConn) route(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-c.signals:
			if !ok {
				return
			}
			if sig != nil {
				c.router.dispatch(sig)
			}
		}
	}
}

// Call invokes method on h and returns the reply body.
func (c *DBusConn) Call(ctx context.Context, h Handle, method string, args ...any) ([]any, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}

	call := c.conn.Object(h.Service, h.Path).CallWithContext(ctx, h.Interface+"."+method, 0, args...)
	if call.Err != nil {
		return nil, errors.Wrapf(call.Err, "call %s.%s on %s", h.Interface, method, h.Path)
	}
	return call.Body, nil
}

func (c *DBusConn) GetProperty(ctx context.Context, h Handle, name string) (any, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}

	var v dbus.Variant
	err := c.conn.Object(h.Service, h.Path).
		CallWithContext(ctx, PropertiesInterface+".Get", 0, h.Interface, name).
		Store(&v)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s.%s on %s", h.Interface, name, h.Path)
	}
	return v.Value(), nil
}

func (c *DBusConn) GetAllProperties(ctx context.Context, h Handle) (map[string]any, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}

	var props map[string]dbus.Variant
	err := c.conn.Object(h.Service, h.Path).
		CallWithContext(ctx, PropertiesInterface+".GetAll", 0, h.Interface).
		Store(&props)
	if err != nil {
		return nil, errors.Wrapf(err, "get all %s on %s", h.Interface, h.Path)
	}
	return UnwrapVariants(props), nil
}

func (c *DBusConn) SetProperty(ctx context.Context, h Handle, name string, value any) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	call := c.conn.Object(h.Service, h.Path).
		CallWithContext(ctx, PropertiesInterface+".Set", 0, h.Interface, name, dbus.MakeVariant(value))
	if call.Err != nil {
		return errors.Wrapf(call.Err, "set %s.%s on %s", h.Interface, name, h.Path)
	}
	return nil
}

func (c *DBusConn) ManagedObjects(ctx context.Context, service string) (ManagedObjects, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}

	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	err := c.conn.Object(service, "/").
		CallWithContext(ctx, ObjectManagerInterface+".GetManagedObjects", 0).
		Store(&objects)
	if err != nil {
		return nil, errors.Wrapf(err, "get managed objects of %s", service)
	}

	out := make(ManagedObjects, len(objects))
	for path, ifaces := range objects {
		out[path] = UnwrapInterfaces(ifaces)
	}
	return out, nil
}

func (c *DBusConn) WatchProperties(h Handle, fn func(PropertyChange)) (Subscription, error) {
	key := watchKey{member: PropertiesChangedMember, path: h.Path, iface: h.Interface}
	opts := []dbus.MatchOption{
		dbus.WithMatchSender(h.Service),
		dbus.WithMatchObjectPath(h.Path),
		dbus.WithMatchInterface(PropertiesInterface),
		dbus.WithMatchMember(PropertiesChangedMember),
		dbus.WithMatchArg(0, h.Interface),
	}
	return c.watch(key, opts, &watcher{onProperties: fn})
}

func (c *DBusConn) WatchInterfacesAdded(service string, fn func(InterfacesAdded)) (Subscription, error) {
	opts := []dbus.MatchOption{
		dbus.WithMatchSender(service),
		dbus.WithMatchInterface(ObjectManagerInterface),
		dbus.WithMatchMember(InterfacesAddedMember),
	}
	return c.watch(watchKey{member: InterfacesAddedMember}, opts, &watcher{onAdded: fn})
}

func (c *DBusConn) WatchInterfacesRemoved(service string, fn func(InterfacesRemoved)) (Subscription, error) {
	opts := []dbus.MatchOption{
		dbus.WithMatchSender(service),
		dbus.WithMatchInterface(ObjectManagerInterface),
		dbus.WithMatchMember(InterfacesRemovedMember),
	}
	return c.watch(watchKey{member: InterfacesRemovedMember}, opts, &watcher{onRemoved: fn})
}

// watch installs a match rule for opts and registers w under key. Identical
// rules are reference counted by the bus daemon, so every watcher owns one.
func (c *DBusConn) watch(key watchKey, opts []dbus.MatchOption, w *watcher) (Subscription, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	if err := c.conn.AddMatchSignal(opts...); err != nil {
		return nil, errors.Wrapf(err, "add match for %s", key)
	}

	w.id = xid.New().String()
	w.key = key
	w.router = c.router
	w.release = func() {
		if c.closed.Load() {
			return
		}
		if err := c.conn.RemoveMatchSignal(opts...); err != nil {
			c.logger.WithFields(logrus.Fields{
				"watch_id": w.id,
				"watch":    key.String(),
			}).WithError(err).Debug("Failed to remove match rule")
		}
	}
	c.router.add(w)

	c.logger.WithFields(logrus.Fields{
		"watch_id": w.id,
		"watch":    key.String(),
	}).Debug("Bus watch added")

	return w, nil
}

// Close stops signal routing and closes the underlying connection.
func (c *DBusConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.cancel()
	c.conn.RemoveSignal(c.signals)
	err := c.conn.Close()
	<-c.done

	return err
}
