package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
)

const (
	bluezService      = "org.bluez"
	adapterIface      = "org.bluez.Adapter1"
	deviceIface       = "org.bluez.Device1"
	batteryIface      = "org.bluez.Battery1"
	gattServiceIface  = "org.bluez.GattService1"
	gattCharIface     = "org.bluez.GattCharacteristic1"
	firstGattHandle   = 0x000a
	bluetoothBaseUUID = "-0000-1000-8000-00805f9b34fb"
)

// CharacteristicConfig represents a GATT characteristic exported by the fake
type CharacteristicConfig struct {
	UUID      string `json:"uuid"`
	Flags     string `json:"flags,omitempty"` // e.g., "read,write,notify"
	Value     []byte `json:"value,omitempty"`
	Notifying bool   `json:"notifying,omitempty"`
}

// ServiceConfig represents a GATT service exported by the fake
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceConfig represents a remote device known to an adapter
type DeviceConfig struct {
	Address          string          `json:"address"`
	Name             string          `json:"name,omitempty"`
	RSSI             int16           `json:"rssi,omitempty"`
	Connected        bool            `json:"connected,omitempty"`
	ServicesResolved bool            `json:"services_resolved,omitempty"`
	Paired           bool            `json:"paired,omitempty"`
	UUIDs            []string        `json:"uuids,omitempty"`
	Battery          *uint8          `json:"battery,omitempty"`
	Services         []ServiceConfig `json:"services,omitempty"`
}

// AdapterConfig represents a local controller
type AdapterConfig struct {
	Name        string         `json:"name"`
	Address     string         `json:"address"`
	Powered     bool           `json:"powered"`
	Discovering bool           `json:"discovering,omitempty"`
	Devices     []DeviceConfig `json:"devices,omitempty"`
}

// BlueZProfileConfig represents the complete object tree of the fake daemon
type BlueZProfileConfig struct {
	Adapters []AdapterConfig `json:"adapters"`
}

// BlueZBuilder builds a FakeBus populated with a BlueZ-shaped object tree.
type BlueZBuilder struct {
	profile BlueZProfileConfig
}

func NewBlueZBuilder() *BlueZBuilder {
	return &BlueZBuilder{}
}

// WithAdapter adds an adapter; following WithDevice calls attach to it.
func (b *BlueZBuilder) WithAdapter(name, address string, powered bool) *BlueZBuilder {
	b.profile.Adapters = append(b.profile.Adapters, AdapterConfig{Name: name, Address: address, Powered: powered})
	return b
}

// WithDevice adds a device to the last added adapter.
func (b *BlueZBuilder) WithDevice(address, name string, rssi int16) *BlueZBuilder {
	a := b.lastAdapter("WithDevice")
	a.Devices = append(a.Devices, DeviceConfig{Address: address, Name: name, RSSI: rssi})
	return b
}

// Connected marks the last added device as connected with services resolved.
func (b *BlueZBuilder) Connected() *BlueZBuilder {
	d := b.lastDevice("Connected")
	d.Connected = true
	d.ServicesResolved = true
	return b
}

// WithBattery exports org.bluez.Battery1 on the last added device.
func (b *BlueZBuilder) WithBattery(percentage uint8) *BlueZBuilder {
	d := b.lastDevice("WithBattery")
	d.Battery = &percentage
	return b
}

// WithService adds a GATT service to the last added device.
func (b *BlueZBuilder) WithService(uuid string) *BlueZBuilder {
	d := b.lastDevice("WithService")
	d.Services = append(d.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service.
func (b *BlueZBuilder) WithCharacteristic(uuid, flags string, value []byte) *BlueZBuilder {
	d := b.lastDevice("WithCharacteristic")
	if len(d.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	s := &d.Services[len(d.Services)-1]
	s.Characteristics = append(s.Characteristics, CharacteristicConfig{UUID: uuid, Flags: flags, Value: value})
	return b
}

// FromJSON fills the profile from JSON
func (b *BlueZBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *BlueZBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config BlueZProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("BlueZBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

func (b *BlueZBuilder) Profile() BlueZProfileConfig {
	return b.profile
}

func (b *BlueZBuilder) lastAdapter(caller string) *AdapterConfig {
	if len(b.profile.Adapters) == 0 {
		panic(caller + ": no adapter added yet, call WithAdapter first")
	}
	return &b.profile.Adapters[len(b.profile.Adapters)-1]
}

func (b *BlueZBuilder) lastDevice(caller string) *DeviceConfig {
	a := b.lastAdapter(caller)
	if len(a.Devices) == 0 {
		panic(caller + ": no device added yet, call WithDevice first")
	}
	return &a.Devices[len(a.Devices)-1]
}

// Build exports the profile on a new FakeBus.
func (b *BlueZBuilder) Build() *FakeBus {
	fb := NewFakeBus(bluezService)

	for _, a := range b.profile.Adapters {
		adapterPath := AdapterPath(a.Name)
		fb.objects[adapterPath] = map[string]map[string]any{
			adapterIface: {
				"Address":     a.Address,
				"AddressType": "public",
				"Name":        a.Name,
				"Alias":       a.Name,
				"Powered":     a.Powered,
				"Discovering": a.Discovering,
				"Pairable":    true,
				"UUIDs":       []string{},
			},
		}

		for _, d := range a.Devices {
			exportDevice(fb, adapterPath, d)
		}
	}
	return fb
}

// AdapterPath returns the object path of adapter name.
func AdapterPath(name string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + name)
}

// DevicePath returns the object path of address under adapter name.
func DevicePath(adapter, address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", AdapterPath(adapter), strings.ReplaceAll(strings.ToUpper(address), ":", "_")))
}

// DeviceInterfaces returns the interface map BlueZ exports for a device,
// suitable for FakeBus.AddObject.
func DeviceInterfaces(adapterPath dbus.ObjectPath, d DeviceConfig) map[string]map[string]any {
	uuids := make([]string, 0, len(d.UUIDs)+len(d.Services))
	for _, u := range d.UUIDs {
		uuids = append(uuids, FullUUID(u))
	}
	for _, s := range d.Services {
		uuids = append(uuids, FullUUID(s.UUID))
	}

	ifaces := map[string]map[string]any{
		deviceIface: {
			"Address":          strings.ToUpper(d.Address),
			"AddressType":      "public",
			"Name":             d.Name,
			"Alias":            d.Name,
			"Adapter":          adapterPath,
			"RSSI":             d.RSSI,
			"Connected":        d.Connected,
			"ServicesResolved": d.ServicesResolved,
			"Paired":           d.Paired,
			"Trusted":          false,
			"Blocked":          false,
			"UUIDs":            uuids,
		},
	}
	if d.Battery != nil {
		ifaces[batteryIface] = map[string]any{"Percentage": *d.Battery}
	}
	return ifaces
}

func exportDevice(fb *FakeBus, adapterPath dbus.ObjectPath, d DeviceConfig) {
	devicePath := dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", adapterPath, strings.ReplaceAll(strings.ToUpper(d.Address), ":", "_")))
	fb.objects[devicePath] = DeviceInterfaces(adapterPath, d)

	handle := firstGattHandle
	for _, s := range d.Services {
		servicePath := dbus.ObjectPath(fmt.Sprintf("%s/service%04x", devicePath, handle))
		handle++
		fb.objects[servicePath] = map[string]map[string]any{
			gattServiceIface: {
				"UUID":    FullUUID(s.UUID),
				"Device":  devicePath,
				"Primary": true,
			},
		}

		for _, c := range s.Characteristics {
			charPath := dbus.ObjectPath(fmt.Sprintf("%s/char%04x", servicePath, handle))
			handle += 2
			value := c.Value
			if value == nil {
				value = []byte{}
			}
			fb.objects[charPath] = map[string]map[string]any{
				gattCharIface: {
					"UUID":      FullUUID(c.UUID),
					"Service":   servicePath,
					"Value":     value,
					"Flags":     parseFlags(c.Flags),
					"Notifying": c.Notifying,
				},
			}
		}
	}
}

// FullUUID expands a 16- or 32-bit UUID onto the Bluetooth base UUID.
func FullUUID(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "0x"))
	switch len(s) {
	case 4:
		s = "0000" + s + bluetoothBaseUUID
	case 8:
		s += bluetoothBaseUUID
	}
	return uuid.MustParse(s).String()
}

func parseFlags(flags string) []string {
	if flags == "" {
		return []string{"read", "write", "notify"}
	}
	out := strings.Split(flags, ",")
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out
}
