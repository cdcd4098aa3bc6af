package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/bluezkit/pkg/bluez"
)

// parseCSVUUIDs splits a comma-separated UUID list, dropping empty items.
func parseCSVUUIDs(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolveCharacteristics opens the characteristics named in csv, in input
// order. With serviceUUID empty every service is searched and a UUID present
// in several services is an error. Callers close the returned handles.
func resolveCharacteristics(ctx context.Context, dev *bluez.Device, csv, serviceUUID string) ([]*bluez.Characteristic, error) {
	uuids, err := bluez.ValidateUUID(parseCSVUUIDs(csv)...)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID: %w", err)
	}

	var services []*bluez.Service
	if serviceUUID != "" {
		svc, err := dev.Service(ctx, serviceUUID)
		if err != nil {
			return nil, err
		}
		services = []*bluez.Service{svc}
	} else {
		services, err = dev.Services(ctx)
		if err != nil {
			return nil, err
		}
	}

	chars := make([]*bluez.Characteristic, 0, len(uuids))
	closeAll := func() {
		for _, c := range chars {
			_ = c.Close()
		}
	}

	for _, uuid := range uuids {
		var found []*bluez.Characteristic
		var foundIn []string
		for _, svc := range services {
			c, err := svc.Characteristic(ctx, uuid)
			if errors.Is(err, bluez.ErrNotFound) {
				continue
			}
			if err != nil {
				closeAll()
				return nil, err
			}
			found = append(found, c)
			foundIn = append(foundIn, bluez.ShortUUID(svc.UUID()))
		}

		switch len(found) {
		case 0:
			closeAll()
			keys := []string{dev.Address(), bluez.ShortUUID(uuid)}
			if serviceUUID != "" {
				keys = []string{dev.Address(), bluez.ShortUUID(serviceUUID), bluez.ShortUUID(uuid)}
			}
			return nil, &bluez.NotFoundError{Resource: "characteristic", Keys: keys}
		case 1:
			chars = append(chars, found[0])
		default:
			for _, c := range found {
				_ = c.Close()
			}
			closeAll()
			return nil, fmt.Errorf("characteristic %s found in multiple services (%s); use --service to pick one",
				bluez.ShortUUID(uuid), strings.Join(foundIn, ", "))
		}
	}
	return chars, nil
}
