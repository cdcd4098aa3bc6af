package bluez

import (
	"context"
	"sort"
	"strings"

	"github.com/cornelk/hashmap"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/bluezkit/internal/bus"
)

// Entry is one catalog row: an object advertising the requested interface
// and that interface's properties at listing time.
type Entry struct {
	Handle     bus.Handle
	Properties map[string]any
}

// Catalog enumerates the remote object tree of one service.
type Catalog struct {
	conn    bus.Conn
	service string
	logger  *logrus.Logger
}

// NewCatalog returns a catalog for service over conn.
func NewCatalog(conn bus.Conn, service string, logger *logrus.Logger) *Catalog {
	if logger == nil {
		logger = logrus.New()
	}
	return &Catalog{conn: conn, service: service, logger: logger}
}

// Matches reports whether an object at path advertising interfaces exposes
// iface and, if parent is set, sits strictly below parent.
func Matches(iface string, path dbus.ObjectPath, interfaces map[string]map[string]any, parent dbus.ObjectPath) bool {
	if _, ok := interfaces[iface]; !ok {
		return false
	}
	if parent == "" {
		return true
	}
	return strings.HasPrefix(string(path), string(parent)+"/")
}

// Entries lists matching objects, sorted by path.
func (c *Catalog) Entries(ctx context.Context, iface string, parent dbus.ObjectPath) ([]Entry, error) {
	objects, err := c.conn.ManagedObjects(ctx, c.service)
	if err != nil {
		return nil, NormalizeError("GetManagedObjects", "/", err)
	}

	var entries []Entry
	for path, interfaces := range objects {
		if !Matches(iface, path, interfaces, parent) {
			continue
		}
		entries = append(entries, Entry{
			Handle:     bus.NewHandle(c.service, path, iface),
			Properties: interfaces[iface],
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Handle.Path < entries[j].Handle.Path })
	return entries, nil
}

// ListHandles returns handles of every object exposing iface, optionally
// restricted to descendants of parent. An empty tree yields an empty slice.
func (c *Catalog) ListHandles(ctx context.Context, iface string, parent dbus.ObjectPath) ([]bus.Handle, error) {
	entries, err := c.Entries(ctx, iface, parent)
	if err != nil {
		return nil, err
	}

	handles := make([]bus.Handle, 0, len(entries))
	for _, e := range entries {
		handles = append(handles, e.Handle)
	}
	return handles, nil
}

// Lookup returns the entry for iface on exactly path.
func (c *Catalog) Lookup(ctx context.Context, iface string, path dbus.ObjectPath) (Entry, bool, error) {
	objects, err := c.conn.ManagedObjects(ctx, c.service)
	if err != nil {
		return Entry{}, false, NormalizeError("GetManagedObjects", "/", err)
	}
	props, ok := objects[path][iface]
	if !ok {
		return Entry{}, false, nil
	}
	return Entry{Handle: bus.NewHandle(c.service, path, iface), Properties: props}, true, nil
}

// ResolveByAddress finds the single device with address under adapter.
// Address comparison is case-insensitive. It fails with *NotFoundError when
// nothing matches and *AmbiguousMatchError when several objects do.
func (c *Catalog) ResolveByAddress(ctx context.Context, adapter dbus.ObjectPath, address string) (*Device, error) {
	entries, err := c.Entries(ctx, DeviceInterface, adapter)
	if err != nil {
		return nil, err
	}

	var found []Entry
	for _, e := range entries {
		addr, _ := e.Properties[PropAddress].(string)
		if strings.EqualFold(addr, address) {
			found = append(found, e)
		}
	}

	switch len(found) {
	case 0:
		return nil, &NotFoundError{Resource: "device", Keys: []string{ObjectName(adapter), address}}
	case 1:
		return newDevice(c, found[0])
	default:
		paths := make([]dbus.ObjectPath, 0, len(found))
		for _, e := range found {
			paths = append(paths, e.Handle.Path)
		}
		c.logger.WithFields(logrus.Fields{
			"address": address,
			"matches": len(paths),
		}).Warn("Address matches several device objects")
		return nil, &AmbiguousMatchError{Address: address, Paths: paths}
	}
}

// Observe reports every object exposing iface under parent: objects already
// present (existing=true) and objects added later (existing=false). The live
// watch is installed before the snapshot is taken, and each path is reported
// at most once per appearance. fn may be called from the bus goroutine.
func (c *Catalog) Observe(ctx context.Context, iface string, parent dbus.ObjectPath, fn func(e Entry, existing bool)) (bus.Subscription, error) {
	seen := hashmap.New[string, struct{}]()

	added, err := c.conn.WatchInterfacesAdded(c.service, func(ev bus.InterfacesAdded) {
		if !Matches(iface, ev.Path, ev.Interfaces, parent) {
			return
		}
		if !seen.Insert(string(ev.Path), struct{}{}) {
			return
		}
		fn(Entry{Handle: bus.NewHandle(c.service, ev.Path, iface), Properties: ev.Interfaces[iface]}, false)
	})
	if err != nil {
		return nil, NormalizeError("AddMatch InterfacesAdded", "/", err)
	}

	removed, err := c.conn.WatchInterfacesRemoved(c.service, func(ev bus.InterfacesRemoved) {
		for _, name := range ev.Interfaces {
			if name == iface {
				seen.Del(string(ev.Path))
				return
			}
		}
	})
	if err != nil {
		added.Cancel()
		return nil, NormalizeError("AddMatch InterfacesRemoved", "/", err)
	}

	sub := &observer{added: added, removed: removed}

	entries, err := c.Entries(ctx, iface, parent)
	if err != nil {
		sub.Cancel()
		return nil, err
	}
	for _, e := range entries {
		if !seen.Insert(string(e.Handle.Path), struct{}{}) {
			continue
		}
		fn(e, true)
	}

	c.logger.WithFields(logrus.Fields{
		"interface": iface,
		"parent":    parent,
		"existing":  len(entries),
	}).Debug("Observing objects")
	return sub, nil
}

type observer struct {
	added, removed bus.Subscription
}

func (o *observer) Cancel() {
	o.added.Cancel()
	o.removed.Cancel()
}

func handleFor(c *Catalog, path dbus.ObjectPath, iface string) bus.Handle {
	return bus.NewHandle(c.service, path, iface)
}
