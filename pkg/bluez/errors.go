package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
)

// Sentinel errors. Every typed error below matches one of them with errors.Is.
var (
	ErrRemoteCall     = errors.New("remote call failed")
	ErrTimeout        = errors.New("timeout")
	ErrAmbiguousMatch = errors.New("ambiguous match")
	ErrNotFound       = errors.New("not found")
	ErrNotSupported   = errors.New("not supported")
	ErrClosed         = errors.New("handle closed")
)

// Remote error names with a meaning beyond "the call failed".
const (
	errNameNotSupported  = "org.bluez.Error.NotSupported"
	errNameNotPermitted  = "org.bluez.Error.NotPermitted"
	errNameDoesNotExist  = "org.bluez.Error.DoesNotExist"
	errNameUnknownObject = "org.freedesktop.DBus.Error.UnknownObject"
	errNameUnknownMethod = "org.freedesktop.DBus.Error.UnknownMethod"
	errNameUnknownIface  = "org.freedesktop.DBus.Error.UnknownInterface"
)

// RemoteCallError is a failure reported by the remote side of a bus call.
// Name carries the remote error category (e.g. "org.bluez.Error.Failed")
// when the bus supplied one.
type RemoteCallError struct {
	Method  string
	Path    dbus.ObjectPath
	Name    string
	Message string
	Err     error
}

func (e *RemoteCallError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s on %s failed", e.Method, e.Path)
	if e.Name != "" {
		msg += ": " + e.Name
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}

// Is matches ErrRemoteCall, plus ErrNotSupported and ErrNotFound for the
// remote categories that mean exactly that.
func (e *RemoteCallError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrRemoteCall:
		return true
	case ErrNotSupported:
		return e.Name == errNameNotSupported || e.Name == errNameNotPermitted
	case ErrNotFound:
		return e.Name == errNameDoesNotExist || e.Name == errNameUnknownObject ||
			e.Name == errNameUnknownMethod || e.Name == errNameUnknownIface
	}
	return false
}

// TimeoutError reports that Op did not settle within After.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// AmbiguousMatchError reports a uniqueness violation, e.g. several device
// objects sharing one address (seen with randomized addressing).
type AmbiguousMatchError struct {
	Address string
	Paths   []dbus.ObjectPath
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("%d devices found with the address %s", len(e.Paths), e.Address)
}

func (e *AmbiguousMatchError) Is(target error) bool {
	return target == ErrAmbiguousMatch
}

// NotFoundError represents a requested remote object that is absent.
type NotFoundError struct {
	Resource string   // "adapter", "device", "service", "characteristic", "battery"
	Keys     []string // identifying keys, outermost first
}

func (e *NotFoundError) Error() string {
	switch len(e.Keys) {
	case 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.Keys[0])
	default:
		return fmt.Sprintf("%s %q not found in %s", e.Resource, e.Keys[len(e.Keys)-1], strings.Join(e.Keys[:len(e.Keys)-1], "/"))
	}
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NormalizeError maps a transport error for method on path into the error
// taxonomy. Context errors and already-normalized errors pass through.
func NormalizeError(method string, path dbus.ObjectPath, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var rce *RemoteCallError
	if errors.As(err, &rce) {
		return err
	}

	out := &RemoteCallError{Method: method, Path: path, Err: err}

	var derr dbus.Error
	var pderr *dbus.Error
	switch {
	case errors.As(err, &derr):
		out.Name, out.Message = derr.Name, remoteMessage(derr.Body)
	case errors.As(err, &pderr):
		out.Name, out.Message = pderr.Name, remoteMessage(pderr.Body)
	default:
		out.Message = err.Error()
	}
	return out
}

func remoteMessage(body []any) string {
	if len(body) == 0 {
		return ""
	}
	if s, ok := body[0].(string); ok {
		return s
	}
	return fmt.Sprint(body[0])
}
