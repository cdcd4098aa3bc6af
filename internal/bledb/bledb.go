// Package bledb names Bluetooth SIG assigned numbers for GATT services,
// characteristics and company identifiers.
package bledb

import (
	"github.com/srg/bluezkit/pkg/bluez"
)

// Type is the category of an assigned UUID.
type Type string

const (
	Service        Type = "Service"
	Characteristic Type = "Characteristic"
)

// Entry is one assigned number.
type Entry struct {
	UUID string // short form, lower case
	Name string
	Type Type
}

var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"1802": "Immediate Alert",
	"1803": "Link Loss",
	"1804": "Tx Power",
	"1805": "Current Time Service",
	"1808": "Glucose",
	"1809": "Health Thermometer",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"1810": "Blood Pressure",
	"1812": "Human Interface Device",
	"1814": "Running Speed and Cadence",
	"1816": "Cycling Speed and Cadence",
	"1818": "Cycling Power",
	"1819": "Location and Navigation",
	"181a": "Environmental Sensing",
	"181c": "User Data",
	"181d": "Weight Scale",
	"1826": "Fitness Machine",
	"fe59": "Nordic Secure DFU",
	"6e400001-b5a3-f393-e0a9-e50e24dcca9e": "Nordic UART Service",
}

var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a04": "Peripheral Preferred Connection Parameters",
	"2a05": "Service Changed",
	"2a06": "Alert Level",
	"2a07": "Tx Power Level",
	"2a19": "Battery Level",
	"2a1c": "Temperature Measurement",
	"2a23": "System ID",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a27": "Hardware Revision String",
	"2a28": "Software Revision String",
	"2a29": "Manufacturer Name String",
	"2a2b": "Current Time",
	"2a35": "Blood Pressure Measurement",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a39": "Heart Rate Control Point",
	"2a4d": "Report",
	"2a50": "PnP ID",
	"2a53": "RSC Measurement",
	"2a5b": "CSC Measurement",
	"2a63": "Cycling Power Measurement",
	"2a6d": "Pressure",
	"2a6e": "Temperature",
	"2a6f": "Humidity",
	"2a9d": "Weight Measurement",
	"2ad9": "Fitness Machine Control Point",
	"6e400002-b5a3-f393-e0a9-e50e24dcca9e": "Nordic UART RX",
	"6e400003-b5a3-f393-e0a9-e50e24dcca9e": "Nordic UART TX",
}

// vendors maps company identifiers found in manufacturer data.
var vendors = map[uint16]string{
	0x0006: "Microsoft",
	0x000f: "Broadcom Corporation",
	0x004c: "Apple, Inc.",
	0x0059: "Nordic Semiconductor ASA",
	0x0075: "Samsung Electronics Co. Ltd.",
	0x0087: "Garmin International, Inc.",
	0x00e0: "Google",
	0x0157: "Anhui Huami Information Technology Co., Ltd.",
	0x02e5: "Espressif Systems (Shanghai) Co., Ltd.",
	0x0499: "Ruuvi Innovations Ltd.",
	0x0822: "adafruit industries",
	0xffff: "Reserved for testing",
}

// key returns the short form used by the tables, or "" for malformed input.
func key(uuid string) string {
	if bluez.NormalizeUUID(uuid) == "" {
		return ""
	}
	return bluez.ShortUUID(uuid)
}

// LookupService returns the service name for uuid in any accepted form, or "".
func LookupService(uuid string) string {
	return services[key(uuid)]
}

// LookupCharacteristic returns the characteristic name for uuid, or "".
func LookupCharacteristic(uuid string) string {
	return characteristics[key(uuid)]
}

// Lookup searches services first, then characteristics.
func Lookup(uuid string) (Entry, bool) {
	k := key(uuid)
	if name, ok := services[k]; ok {
		return Entry{UUID: k, Name: name, Type: Service}, true
	}
	if name, ok := characteristics[k]; ok {
		return Entry{UUID: k, Name: name, Type: Characteristic}, true
	}
	return Entry{}, false
}

// LookupVendor returns the company name for a Bluetooth SIG company
// identifier, or "".
func LookupVendor(id uint16) string {
	return vendors[id]
}
