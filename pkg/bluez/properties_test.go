package bluez

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestPropertySnapshot(t *testing.T) {
	snap := NewPropertySnapshot(map[string]any{
		"Powered": true,
		"Address": "00:11:22:33:44:55",
		"Class":   uint32(0x7c010c),
		"UUIDs":   []string{"0000110a-0000-1000-8000-00805f9b34fb"},
	})

	assert.Equal(t, 4, snap.Len())
	assert.Equal(t, []string{"Address", "Class", "Powered", "UUIDs"}, snap.Names(), "names MUST be sorted")
	assert.Equal(t, "00:11:22:33:44:55", snap.String("Address"))
	assert.True(t, snap.Bool("Powered"))
	assert.Equal(t, int64(0x7c010c), snap.Int("Class"))
	assert.Len(t, snap.Strings("UUIDs"), 1)
	assert.Empty(t, snap.String("Missing"))

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Equal(t, `{"Address":"00:11:22:33:44:55","Class":8126732,"Powered":true,"UUIDs":["0000110a-0000-1000-8000-00805f9b34fb"]}`, string(data))

	out, err := yaml.Marshal(snap)
	require.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, "Class: 8126732\nPowered: true\n")
	assert.Less(t, strings.Index(text, "Address:"), strings.Index(text, "Class:"), "YAML keys MUST follow sorted order")

	var empty PropertySnapshot
	assert.Equal(t, 0, empty.Len())
	assert.Empty(t, empty.Names())
	data, err = json.Marshal(empty)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestNewDeviceProperties(t *testing.T) {
	snap := NewPropertySnapshot(map[string]any{
		"Address":          "AA:BB:CC:DD:EE:FF",
		"Name":             "Sensor",
		"Alias":            "Kitchen",
		"RSSI":             int16(-61),
		"TxPower":          int16(4),
		"Paired":           true,
		"ServicesResolved": true,
		"ManufacturerData": map[uint16]dbus.Variant{0x004c: dbus.MakeVariant([]byte{0x02, 0x15})},
		"ServiceData":      map[string]dbus.Variant{BatteryServiceUUID: dbus.MakeVariant([]byte{50})},
	})

	props := NewDeviceProperties(snap)

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", props.Address)
	assert.Equal(t, int16(-61), props.RSSI)
	assert.Equal(t, int16(4), props.TxPower)
	assert.True(t, props.Paired)
	assert.False(t, props.Connected)
	assert.Equal(t, []byte{0x02, 0x15}, props.ManufacturerData[0x004c])
	assert.Equal(t, []byte{50}, props.ServiceData[BatteryServiceUUID])
	assert.Equal(t, "'Sensor' - AA:BB:CC:DD:EE:FF (Alias: Kitchen; RSSI: -61; IsPaired: true)", props.String())
}

func TestNewAdapterProperties(t *testing.T) {
	props := NewAdapterProperties(NewPropertySnapshot(map[string]any{
		"Address":     "00:11:22:33:44:55",
		"Name":        "hci0",
		"Powered":     true,
		"Discovering": false,
		"Class":       uint32(0x1c0104),
	}))

	assert.Equal(t, "00:11:22:33:44:55", props.Address)
	assert.Equal(t, "hci0", props.Name)
	assert.True(t, props.Powered)
	assert.False(t, props.Discovering)
	assert.Equal(t, uint32(0x1c0104), props.Class)
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{name: "bools", a: true, b: true, want: true},
		{name: "bool mismatch", a: true, b: false, want: false},
		{name: "widened ints", a: int16(-40), b: -40, want: true},
		{name: "byte and int", a: uint8(50), b: 50, want: true},
		{name: "int against string", a: int16(1), b: "1", want: false},
		{name: "bytes", a: []byte{1, 2}, b: []byte{1, 2}, want: true},
		{name: "bytes mismatch", a: []byte{1, 2}, b: []byte{1}, want: false},
		{name: "bytes against string", a: []byte("ab"), b: "ab", want: false},
		{name: "strings", a: "on", b: "on", want: true},
		{name: "string slices", a: []string{"read"}, b: []string{"read"}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.a, tt.b))
		})
	}
}
