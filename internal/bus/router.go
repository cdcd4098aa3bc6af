package bus

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// watchKey selects which signals a watcher receives. PropertiesChanged
// watchers are keyed by object path and changed interface; object-manager
// watchers by member only.
type watchKey struct {
	member string
	path   dbus.ObjectPath
	iface  string
}

func (k watchKey) String() string {
	if k.path == "" {
		return k.member
	}
	return fmt.Sprintf("%s %s[%s]", k.member, k.path, k.iface)
}

type watcher struct {
	id  string
	key watchKey

	onProperties func(PropertyChange)
	onAdded      func(InterfacesAdded)
	onRemoved    func(InterfacesRemoved)

	cancelled atomic.Bool
	router    *router
	release   func()
}

// Cancel detaches the watcher from the router and releases its match rule.
func (w *watcher) Cancel() {
	if !w.cancelled.CompareAndSwap(false, true) {
		return
	}
	w.router.remove(w)
	if w.release != nil {
		w.release()
	}
}

// router fans decoded signals out to watchers. Lists stored in the table are
// never mutated in place, so dispatch iterates a stable snapshot.
type router struct {
	table  *xsync.MapOf[watchKey, []*watcher]
	logger *logrus.Logger
}

func newRouter(logger *logrus.Logger) *router {
	return &router{
		table:  xsync.NewMapOf[watchKey, []*watcher](),
		logger: logger,
	}
}

func (r *router) add(w *watcher) {
	r.table.Compute(w.key, func(old []*watcher, _ bool) ([]*watcher, bool) {
		next := make([]*watcher, 0, len(old)+1)
		next = append(next, old...)
		return append(next, w), false
	})
}

func (r *router) remove(w *watcher) {
	r.table.Compute(w.key, func(old []*watcher, loaded bool) ([]*watcher, bool) {
		if !loaded {
			return nil, true
		}
		next := make([]*watcher, 0, len(old))
		for _, existing := range old {
			if existing != w {
				next = append(next, existing)
			}
		}
		return next, len(next) == 0
	})
}

// size returns the number of live watchers.
func (r *router) size() int {
	n := 0
	r.table.Range(func(_ watchKey, ws []*watcher) bool {
		n += len(ws)
		return true
	})
	return n
}

func (r *router) watchers(key watchKey) []*watcher {
	ws, _ := r.table.Load(key)
	return ws
}

// dispatch decodes sig and delivers it to every matching live watcher.
// Malformed bodies are logged and dropped.
func (r *router) dispatch(sig *dbus.Signal) {
	switch sig.Name {
	case PropertiesChangedSignal:
		change, err := decodePropertiesChanged(sig)
		if err != nil {
			r.logDecodeError(sig, err)
			return
		}
		key := watchKey{member: PropertiesChangedMember, path: sig.Path, iface: change.Interface}
		for _, w := range r.watchers(key) {
			if !w.cancelled.Load() {
				w.onProperties(change)
			}
		}

	case InterfacesAddedSignal:
		added, err := decodeInterfacesAdded(sig)
		if err != nil {
			r.logDecodeError(sig, err)
			return
		}
		for _, w := range r.watchers(watchKey{member: InterfacesAddedMember}) {
			if !w.cancelled.Load() {
				w.onAdded(added)
			}
		}

	case InterfacesRemovedSignal:
		removed, err := decodeInterfacesRemoved(sig)
		if err != nil {
			r.logDecodeError(sig, err)
			return
		}
		for _, w := range r.watchers(watchKey{member: InterfacesRemovedMember}) {
			if !w.cancelled.Load() {
				w.onRemoved(removed)
			}
		}
	}
}

func (r *router) logDecodeError(sig *dbus.Signal, err error) {
	r.logger.WithFields(logrus.Fields{
		"signal": sig.Name,
		"path":   sig.Path,
		"sender": sig.Sender,
	}).WithError(err).Error("Dropping malformed bus signal")
}

func decodePropertiesChanged(sig *dbus.Signal) (PropertyChange, error) {
	if len(sig.Body) < 2 {
		return PropertyChange{}, fmt.Errorf("expected at least 2 body fields, got %d", len(sig.Body))
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return PropertyChange{}, fmt.Errorf("interface name has type %T", sig.Body[0])
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return PropertyChange{}, fmt.Errorf("changed properties have type %T", sig.Body[1])
	}

	var invalidated []string
	if len(sig.Body) > 2 {
		invalidated, _ = sig.Body[2].([]string)
	}

	return PropertyChange{
		Interface:   iface,
		Changed:     UnwrapVariants(changed),
		Invalidated: invalidated,
	}, nil
}

func decodeInterfacesAdded(sig *dbus.Signal) (InterfacesAdded, error) {
	if len(sig.Body) < 2 {
		return InterfacesAdded{}, fmt.Errorf("expected 2 body fields, got %d", len(sig.Body))
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return InterfacesAdded{}, fmt.Errorf("object path has type %T", sig.Body[0])
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return InterfacesAdded{}, fmt.Errorf("interfaces have type %T", sig.Body[1])
	}
	return InterfacesAdded{Path: path, Interfaces: UnwrapInterfaces(ifaces)}, nil
}

func decodeInterfacesRemoved(sig *dbus.Signal) (InterfacesRemoved, error) {
	if len(sig.Body) < 2 {
		return InterfacesRemoved{}, fmt.Errorf("expected 2 body fields, got %d", len(sig.Body))
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return InterfacesRemoved{}, fmt.Errorf("object path has type %T", sig.Body[0])
	}
	ifaces, ok := sig.Body[1].([]string)
	if !ok {
		return InterfacesRemoved{}, fmt.Errorf("interfaces have type %T", sig.Body[1])
	}
	return InterfacesRemoved{Path: path, Interfaces: ifaces}, nil
}
