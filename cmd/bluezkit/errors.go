package main

import (
	"errors"
	"fmt"

	"github.com/srg/bluezkit/pkg/bluez"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the device disconnected while a command was
	// still using it.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns library errors into messages with a next step.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var (
		ambiguous *bluez.AmbiguousMatchError
		notFound  *bluez.NotFoundError
		timeout   *bluez.TimeoutError
		remote    *bluez.RemoteCallError
	)
	switch {
	case errors.As(err, &ambiguous):
		return fmt.Sprintf("%s; remove the stale entries (bluetoothctl remove %s) and scan again", ambiguous.Error(), ambiguous.Address)
	case errors.As(err, &notFound):
		if notFound.Resource == "device" {
			return fmt.Sprintf("%s; run 'bluezkit scan' to discover it first", err)
		}
		if notFound.Resource == "adapter" {
			return fmt.Sprintf("%s; run 'bluezkit adapters' to list available adapters", err)
		}
		return err.Error()
	case errors.As(err, &timeout):
		return fmt.Sprintf("%s; the device may be out of range, try a longer --timeout", err)
	case errors.Is(err, ErrConnectionLost):
		return "connection to the device was lost"
	case errors.Is(err, bluez.ErrNotSupported):
		return fmt.Sprintf("operation not supported: %s", err)
	case errors.As(err, &remote):
		if remote.Name == "" {
			return fmt.Sprintf("bus error: %s", err)
		}
		return fmt.Sprintf("bluetoothd refused %s: %s", remote.Method, remoteDetail(remote))
	}
	return err.Error()
}

func remoteDetail(e *bluez.RemoteCallError) string {
	if e.Message == "" {
		return e.Name
	}
	return e.Message + " (" + e.Name + ")"
}
