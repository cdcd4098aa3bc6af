package bluez

import (
	"fmt"
	"path"
	"strings"

	"github.com/godbus/dbus/v5"
)

// BlueZ bus name and interfaces.
const (
	ServiceName = "org.bluez"

	AdapterInterface            = "org.bluez.Adapter1"
	DeviceInterface             = "org.bluez.Device1"
	BatteryInterface            = "org.bluez.Battery1"
	GattServiceInterface        = "org.bluez.GattService1"
	GattCharacteristicInterface = "org.bluez.GattCharacteristic1"
	GattDescriptorInterface     = "org.bluez.GattDescriptor1"
)

// Property names used by the role handles.
const (
	PropAddress          = "Address"
	PropPowered          = "Powered"
	PropDiscovering      = "Discovering"
	PropConnected        = "Connected"
	PropServicesResolved = "ServicesResolved"
	PropRSSI             = "RSSI"
	PropUUID             = "UUID"
	PropUUIDs            = "UUIDs"
	PropValue            = "Value"
	PropFlags            = "Flags"
	PropNotifying        = "Notifying"
	PropPrimary          = "Primary"
	PropPercentage       = "Percentage"
)

// Well-known GATT UUIDs used by the samples.
const (
	DeviceInformationServiceUUID       = "0000180a-0000-1000-8000-00805f9b34fb"
	ModelNameCharacteristicUUID        = "00002a24-0000-1000-8000-00805f9b34fb"
	ManufacturerNameCharacteristicUUID = "00002a29-0000-1000-8000-00805f9b34fb"
	BatteryServiceUUID                 = "0000180f-0000-1000-8000-00805f9b34fb"
	BatteryLevelCharacteristicUUID     = "00002a19-0000-1000-8000-00805f9b34fb"
)

const adapterRoot = "/org/bluez"

// AdapterPath returns the object path for an adapter name such as "hci0".
// Full paths are returned unchanged.
func AdapterPath(name string) dbus.ObjectPath {
	if strings.HasPrefix(name, adapterRoot+"/") {
		return dbus.ObjectPath(name)
	}
	return dbus.ObjectPath(adapterRoot + "/" + name)
}

// ObjectName returns the last element of an object path ("hci0" for "/org/bluez/hci0").
func ObjectName(p dbus.ObjectPath) string {
	return path.Base(string(p))
}

// DevicePath returns the object path BlueZ uses for address under adapter.
func DevicePath(adapter dbus.ObjectPath, address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/dev_%s", adapter, strings.ReplaceAll(strings.ToUpper(address), ":", "_")))
}

// AddressFromPath extracts the device address from a device (or descendant) path.
func AddressFromPath(p dbus.ObjectPath) (string, bool) {
	for _, elem := range strings.Split(string(p), "/") {
		if strings.HasPrefix(elem, "dev_") {
			return strings.ReplaceAll(strings.TrimPrefix(elem, "dev_"), "_", ":"), true
		}
	}
	return "", false
}
