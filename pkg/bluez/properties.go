package bluez

import (
	"fmt"
	"sort"

	"github.com/godbus/dbus/v5"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// PropertySnapshot is an immutable name -> value mapping captured with a
// single GetAll. Iteration, JSON and YAML output follow sorted name order.
type PropertySnapshot struct {
	values *orderedmap.OrderedMap[string, any]
}

// NewPropertySnapshot captures props. The input map is not retained.
func NewPropertySnapshot(props map[string]any) PropertySnapshot {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	values := orderedmap.New[string, any](len(names))
	for _, name := range names {
		values.Set(name, props[name])
	}
	return PropertySnapshot{values: values}
}

func (s PropertySnapshot) Get(name string) (any, bool) {
	if s.values == nil {
		return nil, false
	}
	return s.values.Get(name)
}

func (s PropertySnapshot) Len() int {
	if s.values == nil {
		return 0
	}
	return s.values.Len()
}

// Names returns property names in sorted order.
func (s PropertySnapshot) Names() []string {
	names := make([]string, 0, s.Len())
	if s.values == nil {
		return names
	}
	for pair := s.values.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

func (s PropertySnapshot) MarshalJSON() ([]byte, error) {
	if s.values == nil {
		return []byte("{}"), nil
	}
	return s.values.MarshalJSON()
}

func (s PropertySnapshot) MarshalYAML() (any, error) {
	if s.values == nil {
		return map[string]any{}, nil
	}
	return s.values.MarshalYAML()
}

func (s PropertySnapshot) String(name string) string {
	v, _ := s.Get(name)
	str, _ := v.(string)
	return str
}

func (s PropertySnapshot) Bool(name string) bool {
	v, _ := s.Get(name)
	b, _ := v.(bool)
	return b
}

func (s PropertySnapshot) Strings(name string) []string {
	v, _ := s.Get(name)
	ss, _ := v.([]string)
	return ss
}

func (s PropertySnapshot) Bytes(name string) []byte {
	v, _ := s.Get(name)
	b, _ := v.([]byte)
	return b
}

// Int returns any integer-typed property widened to int64.
func (s PropertySnapshot) Int(name string) int64 {
	v, _ := s.Get(name)
	n, _ := toInt64(v)
	return n
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int16:
		return int64(n), true
	case uint16:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case byte:
		return int64(n), true
	case int:
		return int64(n), true
	}
	return 0, false
}

// AdapterProperties is a typed view of an org.bluez.Adapter1 snapshot.
type AdapterProperties struct {
	Address             string   `json:"address" yaml:"address"`
	AddressType         string   `json:"address_type" yaml:"address_type"`
	Name                string   `json:"name" yaml:"name"`
	Alias               string   `json:"alias" yaml:"alias"`
	Class               uint32   `json:"class" yaml:"class"`
	Powered             bool     `json:"powered" yaml:"powered"`
	Discoverable        bool     `json:"discoverable" yaml:"discoverable"`
	DiscoverableTimeout uint32   `json:"discoverable_timeout" yaml:"discoverable_timeout"`
	Discovering         bool     `json:"discovering" yaml:"discovering"`
	Pairable            bool     `json:"pairable" yaml:"pairable"`
	PairableTimeout     uint32   `json:"pairable_timeout" yaml:"pairable_timeout"`
	UUIDs               []string `json:"uuids" yaml:"uuids"`
	Modalias            string   `json:"modalias,omitempty" yaml:"modalias,omitempty"`
}

// NewAdapterProperties decodes s. Absent properties keep zero values.
func NewAdapterProperties(s PropertySnapshot) AdapterProperties {
	return AdapterProperties{
		Address:             s.String("Address"),
		AddressType:         s.String("AddressType"),
		Name:                s.String("Name"),
		Alias:               s.String("Alias"),
		Class:               uint32(s.Int("Class")),
		Powered:             s.Bool(PropPowered),
		Discoverable:        s.Bool("Discoverable"),
		DiscoverableTimeout: uint32(s.Int("DiscoverableTimeout")),
		Discovering:         s.Bool(PropDiscovering),
		Pairable:            s.Bool("Pairable"),
		PairableTimeout:     uint32(s.Int("PairableTimeout")),
		UUIDs:               s.Strings(PropUUIDs),
		Modalias:            s.String("Modalias"),
	}
}

// DeviceProperties is a typed view of an org.bluez.Device1 snapshot.
type DeviceProperties struct {
	Address          string            `json:"address" yaml:"address"`
	AddressType      string            `json:"address_type" yaml:"address_type"`
	Alias            string            `json:"alias" yaml:"alias"`
	Appearance       uint16            `json:"appearance" yaml:"appearance"`
	Blocked          bool              `json:"blocked" yaml:"blocked"`
	Class            uint32            `json:"class" yaml:"class"`
	Connected        bool              `json:"connected" yaml:"connected"`
	Icon             string            `json:"icon,omitempty" yaml:"icon,omitempty"`
	LegacyPairing    bool              `json:"legacy_pairing" yaml:"legacy_pairing"`
	ManufacturerData map[uint16][]byte `json:"manufacturer_data,omitempty" yaml:"manufacturer_data,omitempty"`
	Modalias         string            `json:"modalias,omitempty" yaml:"modalias,omitempty"`
	Name             string            `json:"name" yaml:"name"`
	Paired           bool              `json:"paired" yaml:"paired"`
	RSSI             int16             `json:"rssi" yaml:"rssi"`
	ServiceData      map[string][]byte `json:"service_data,omitempty" yaml:"service_data,omitempty"`
	ServicesResolved bool              `json:"services_resolved" yaml:"services_resolved"`
	Trusted          bool              `json:"trusted" yaml:"trusted"`
	TxPower          int16             `json:"tx_power" yaml:"tx_power"`
	UUIDs            []string          `json:"uuids" yaml:"uuids"`
}

// NewDeviceProperties decodes s. Absent properties keep zero values.
func NewDeviceProperties(s PropertySnapshot) DeviceProperties {
	p := DeviceProperties{
		Address:          s.String(PropAddress),
		AddressType:      s.String("AddressType"),
		Alias:            s.String("Alias"),
		Appearance:       uint16(s.Int("Appearance")),
		Blocked:          s.Bool("Blocked"),
		Class:            uint32(s.Int("Class")),
		Connected:        s.Bool(PropConnected),
		Icon:             s.String("Icon"),
		LegacyPairing:    s.Bool("LegacyPairing"),
		Modalias:         s.String("Modalias"),
		Name:             s.String("Name"),
		Paired:           s.Bool("Paired"),
		RSSI:             int16(s.Int(PropRSSI)),
		ServicesResolved: s.Bool(PropServicesResolved),
		Trusted:          s.Bool("Trusted"),
		TxPower:          int16(s.Int("TxPower")),
		UUIDs:            s.Strings(PropUUIDs),
	}

	if v, ok := s.Get("ManufacturerData"); ok {
		p.ManufacturerData = decodeManufacturerData(v)
	}
	if v, ok := s.Get("ServiceData"); ok {
		p.ServiceData = decodeServiceData(v)
	}
	return p
}

func (p DeviceProperties) String() string {
	return fmt.Sprintf("'%s' - %s (Alias: %s; RSSI: %d; IsPaired: %t)", p.Name, p.Address, p.Alias, p.RSSI, p.Paired)
}

// variantBytes unwraps a nested variant value into bytes.
func variantBytes(v any) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case dbus.Variant:
		return variantBytes(b.Value())
	}
	return nil
}

func decodeManufacturerData(v any) map[uint16][]byte {
	out := make(map[uint16][]byte)
	switch m := v.(type) {
	case map[uint16]dbus.Variant:
		for id, data := range m {
			out[id] = variantBytes(data)
		}
	case map[uint16]any:
		for id, data := range m {
			out[id] = variantBytes(data)
		}
	case map[uint16][]byte:
		for id, data := range m {
			out[id] = data
		}
	}
	return out
}

func decodeServiceData(v any) map[string][]byte {
	out := make(map[string][]byte)
	switch m := v.(type) {
	case map[string]dbus.Variant:
		for id, data := range m {
			out[id] = variantBytes(data)
		}
	case map[string]any:
		for id, data := range m {
			out[id] = variantBytes(data)
		}
	case map[string][]byte:
		for id, data := range m {
			out[id] = data
		}
	}
	return out
}
