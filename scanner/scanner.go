package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/bluezkit/internal/ringchan"
	"github.com/srg/bluezkit/pkg/bluez"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Scan phases reported through ProgressCallback.
const (
	PhaseScanning   = "Scanning"
	PhaseProcessing = "Processing results"
)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

func (t DeviceEventType) String() string {
	if t == EventNew {
		return "new"
	}
	return "updated"
}

type DeviceEvent struct {
	Type   DeviceEventType
	Device DeviceInfo
}

// DeviceInfo is what a scan reports about one device.
type DeviceInfo struct {
	Address          string            `json:"address"`
	Name             string            `json:"name"`
	Alias            string            `json:"alias,omitempty"`
	RSSI             int16             `json:"rssi"`
	TxPower          int16             `json:"txPower,omitempty"`
	UUIDs            []string          `json:"services"`
	ManufacturerData map[uint16][]byte `json:"manufacturerData,omitempty"`
	ServiceData      map[string][]byte `json:"serviceData,omitempty"`
	Connected        bool              `json:"connected"`
	Paired           bool              `json:"paired"`
	Cached           bool              `json:"cached"`
	LastSeen         time.Time         `json:"lastSeen"`
}

// DisplayName returns the name, falling back to the alias.
func (d DeviceInfo) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Alias
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration // zero scans until ctx is done
	DuplicateFilter bool
	ServiceUUIDs    []string
	AllowList       []string
	BlockList       []string
	Transport       string // "auto", "le" or "bredr"
	MinRSSI         *int16
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
		Transport:       "le",
	}
}

// discoveryFilter translates the options into the adapter-side filter.
// Allow and block lists are applied locally.
func (o *ScanOptions) discoveryFilter() bluez.DiscoveryFilter {
	duplicates := !o.DuplicateFilter
	return bluez.DiscoveryFilter{
		UUIDs:         o.ServiceUUIDs,
		RSSI:          o.MinRSSI,
		Transport:     o.Transport,
		DuplicateData: &duplicates,
	}
}

type tracked struct {
	mu     sync.Mutex
	info   DeviceInfo
	device *bluez.Device
}

func (t *tracked) snapshot() DeviceInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

// Scanner runs discovery sessions on one adapter and reports what it finds.
type Scanner struct {
	client      *bluez.Client
	adapterName string
	logger      *logrus.Logger

	devices *hashmap.Map[string, *tracked]
	events  *ringchan.RingChannel[DeviceEvent]

	mu          sync.Mutex
	scanOptions *ScanOptions
}

// NewScanner creates a scanner for adapterName ("" selects the first adapter).
func NewScanner(client *bluez.Client, adapterName string, logger *logrus.Logger) (*Scanner, error) {
	if client == nil {
		return nil, errors.New("scanner: client is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		client:      client,
		adapterName: adapterName,
		logger:      logger,
		devices:     hashmap.New[string, *tracked](),
		events:      ringchan.New[DeviceEvent](100),
	}, nil
}

// Scan performs discovery with the provided options and returns the devices
// seen, keyed by address. Devices BlueZ already knew about are reported with
// Cached set. Cancelling ctx ends the scan early without an error.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]DeviceInfo, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	adapter, err := s.client.Adapter(ctx, s.adapterName)
	if err != nil {
		return nil, err
	}
	defer adapter.Close()

	powered, err := adapter.Powered(ctx)
	if err != nil {
		return nil, err
	}
	if !powered {
		return nil, fmt.Errorf("adapter %s is powered off", adapter.Name())
	}

	s.devices = hashmap.New[string, *tracked]()
	s.mu.Lock()
	s.scanOptions = opts
	s.mu.Unlock()
	defer s.closeDevices()

	if err := adapter.SetDiscoveryFilter(ctx, opts.discoveryFilter()); err != nil {
		return nil, fmt.Errorf("failed to set discovery filter: %w", err)
	}

	found, err := adapter.OnDeviceFound(ctx, s.handleDevice)
	if err != nil {
		return nil, err
	}
	defer found.Cancel()

	log := s.logger.WithFields(logrus.Fields{
		"adapter":  adapter.Name(),
		"duration": opts.Duration,
	})
	log.Info("Starting BLE scan...")

	if err := adapter.StartDiscovery(ctx); err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	progressCallback(PhaseScanning)

	var expired <-chan time.Time
	if opts.Duration > 0 {
		timer := time.NewTimer(opts.Duration)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-expired:
	case <-ctx.Done():
	}

	// ctx may already be done; finish on a context of our own.
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := adapter.StopDiscovery(stopCtx); err != nil {
		log.WithField("error", err).Warn("Failed to stop discovery")
	}
	// Deliveries still queued after Cancel are dropped; Flush waits out the
	// one that may be running, so every tracked device is seen by closeDevices.
	found.Cancel()
	if err := adapter.Flush(stopCtx); err != nil {
		return nil, err
	}

	progressCallback(PhaseProcessing)

	devices := make(map[string]DeviceInfo, s.devices.Len())
	s.devices.Range(func(addr string, t *tracked) bool {
		_ = t.device.Flush(stopCtx)
		devices[addr] = t.snapshot()
		return true
	})

	log.WithField("device_count", len(devices)).Info("BLE scan completed")
	return devices, nil
}

// handleDevice runs on the adapter's event loop for every device found.
func (s *Scanner) handleDevice(ev bluez.DeviceFoundEvent) {
	d := ev.Device
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	props, err := d.Info(ctx)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"device": d.Path(),
			"error":  err,
		}).Warn("Failed to read device properties")
		_ = d.Close()
		return
	}

	s.mu.Lock()
	opts := s.scanOptions
	s.mu.Unlock()

	if !shouldIncludeDevice(props, opts) {
		_ = d.Close()
		return
	}

	info := DeviceInfo{
		Address:          d.Address(),
		Name:             props.Name,
		Alias:            props.Alias,
		RSSI:             props.RSSI,
		TxPower:          props.TxPower,
		UUIDs:            props.UUIDs,
		ManufacturerData: props.ManufacturerData,
		ServiceData:      props.ServiceData,
		Connected:        props.Connected,
		Paired:           props.Paired,
		Cached:           !ev.IsStateChange,
		LastSeen:         time.Now(),
	}

	t := &tracked{info: info, device: d}
	eventType := EventNew
	if prev, existing := s.devices.Get(info.Address); existing {
		// BlueZ dropped the object and announced it again.
		_ = prev.device.Close()
		s.devices.Set(info.Address, t)
		eventType = EventUpdated
	} else {
		s.devices.Set(info.Address, t)
		s.logger.WithFields(logrus.Fields{
			"device":  info.DisplayName(),
			"address": info.Address,
			"rssi":    info.RSSI,
		}).Info("Discovered new device")
	}

	d.OnRSSI(func(e bluez.Event) {
		rssi, ok := e.Value.(int16)
		if !ok {
			return
		}
		t.mu.Lock()
		t.info.RSSI = rssi
		t.info.LastSeen = time.Now()
		snapshot := t.info
		t.mu.Unlock()

		s.events.Send(DeviceEvent{Type: EventUpdated, Device: snapshot})
	})

	s.events.Send(DeviceEvent{Type: eventType, Device: info})
}

// shouldIncludeDevice applies the allow, block and service filters
func shouldIncludeDevice(props bluez.DeviceProperties, opts *ScanOptions) bool {
	if opts == nil {
		return true
	}
	addr := props.Address

	for _, blocked := range opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if strings.EqualFold(addr, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(opts.ServiceUUIDs) > 0 {
		hasRequired := false
		for _, required := range opts.ServiceUUIDs {
			for _, advertised := range props.UUIDs {
				if bluez.EqualUUID(required, advertised) {
					hasRequired = true
					break
				}
			}
			if hasRequired {
				break
			}
		}
		if !hasRequired {
			return false
		}
	}

	if opts.MinRSSI != nil && props.RSSI != 0 && props.RSSI < *opts.MinRSSI {
		return false
	}

	return true
}

func (s *Scanner) closeDevices() {
	s.devices.Range(func(_ string, t *tracked) bool {
		_ = t.device.Close()
		return true
	})
	s.mu.Lock()
	s.scanOptions = nil
	s.mu.Unlock()
}

// Events return a read-only channel of device events. When the consumer
// falls behind, the oldest events are dropped.
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}

// Stats reports event-stream counters, including dropped events.
func (s *Scanner) Stats() ringchan.Stats {
	return s.events.Stats()
}

// Close ends the event stream. The scanner must not be used afterwards.
func (s *Scanner) Close() {
	s.events.Close()
}
