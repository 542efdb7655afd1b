package telemetry

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/telepair/telebridge/internal/listener"
)

// DeviceStore persists device state documents.
type DeviceStore interface {
	PutJSON(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
}

// Key prefixes in the device store.
const (
	PeripheralKeyPrefix = "peripheral."
	StationKey          = "station.uplink"
)

// Peripheral is an attached peripheral such as a remote or a headset.
type Peripheral struct {
	Name              string            `json:"name"`
	PhysicalInterface string            `json:"physical_interface"`
	ProductInfo       map[string]string `json:"product_info,omitempty"`
	NodeID            string            `json:"node_id"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Key returns the store key. Devices without a name are keyed by interface.
func (p Peripheral) Key() string {
	id := p.Name
	if id == "" {
		id = p.PhysicalInterface
	}
	return PeripheralKeyPrefix + sanitizeKey(id)
}

type peripheralEvent struct {
	Params []struct {
		Device *struct {
			Name              string `json:"name"`
			PhysicalInterface string `json:"physical_interface"`
			ProductInfo       struct {
				Map []map[string]string `json:"map"`
			} `json:"product_info"`
		} `json:"schema_Peripheral_Device"`
		Associated *bool `json:"associated"`
	} `json:"params"`
}

// ParsePeripheral extracts the device and its association state.
func ParsePeripheral(data []byte) (Peripheral, bool, error) {
	var ev peripheralEvent
	if err := decode(data, &ev); err != nil {
		return Peripheral{}, false, err
	}

	var (
		p          Peripheral
		found      bool
		associated bool
	)
	for _, param := range ev.Params {
		if param.Associated != nil {
			associated = *param.Associated
		}
		if d := param.Device; d != nil {
			found = true
			p.Name = d.Name
			p.PhysicalInterface = d.PhysicalInterface
			for _, kv := range d.ProductInfo.Map {
				if p.ProductInfo == nil {
					p.ProductInfo = make(map[string]string, len(kv))
				}
				for k, v := range kv {
					p.ProductInfo[k] = v
				}
			}
		}
	}
	if !found || (p.Name == "" && p.PhysicalInterface == "") {
		return Peripheral{}, false, fmt.Errorf("%w: no peripheral device", ErrMalformed)
	}
	return p, associated, nil
}

// Station is the uplink Wi-Fi station state.
type Station struct {
	Connected bool      `json:"connected"`
	SSID      string    `json:"ssid,omitempty"`
	BSSID     string    `json:"parent,omitempty"`
	MAC       string    `json:"mac,omitempty"`
	NodeID    string    `json:"node_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type stationEvent struct {
	Params []struct {
		SSID  string `json:"ssid"`
		BSSID string `json:"bssid"`
		MAC   string `json:"mac"`
	} `json:"params"`
}

// ParseStation parses a station event. The event name in the payload
// decides whether the station connected.
func ParseStation(data []byte) (Station, error) {
	var ev stationEvent
	if err := decode(data, &ev); err != nil {
		return Station{}, err
	}
	text := string(data)
	switch {
	case strings.Contains(text, EventStationConnected):
		st := Station{Connected: true}
		for _, p := range ev.Params {
			st.SSID = cmp.Or(p.SSID, st.SSID)
			st.BSSID = cmp.Or(p.BSSID, st.BSSID)
			st.MAC = cmp.Or(p.MAC, st.MAC)
		}
		return st, nil
	case strings.Contains(text, EventStationDisconnected):
		return Station{}, nil
	default:
		return Station{}, fmt.Errorf("%w: unknown station event", ErrMalformed)
	}
}

// DeviceHandlers turns device events into device store updates.
type DeviceHandlers struct {
	store    DeviceStore
	identity *Identity
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewDeviceHandlers(store DeviceStore, identity *Identity, metrics *Metrics) *DeviceHandlers {
	return &DeviceHandlers{
		store:    store,
		identity: identity,
		metrics:  metrics,
		logger:   slog.Default().With("component", "telemetry.devices"),
		now:      time.Now,
	}
}

// Peripheral upserts associated devices and removes the others.
func (h *DeviceHandlers) Peripheral(ctx context.Context, msg listener.Message) error {
	p, associated, err := ParsePeripheral(msg.Data)
	if err != nil {
		h.metrics.event(EventPeripheralUpdate, err)
		return err
	}

	key := p.Key()
	if associated {
		p.NodeID = h.identity.NodeID()
		p.UpdatedAt = h.now().UTC()
		err = h.store.PutJSON(ctx, key, p)
	} else {
		err = h.store.Delete(ctx, key)
	}
	h.metrics.event(EventPeripheralUpdate, err)
	if err != nil {
		return fmt.Errorf("update peripheral %s: %w", key, err)
	}
	h.logger.Info("peripheral updated", "key", key, "associated", associated)
	return nil
}

// Station records the uplink station state.
func (h *DeviceHandlers) Station(ctx context.Context, msg listener.Message) error {
	st, err := ParseStation(msg.Data)
	if err != nil {
		h.metrics.event(EventStation, err)
		return err
	}
	name := EventStationDisconnected
	if st.Connected {
		name = EventStationConnected
	}

	st.NodeID = h.identity.NodeID()
	st.UpdatedAt = h.now().UTC()
	err = h.store.PutJSON(ctx, StationKey, st)
	h.metrics.event(name, err)
	if err != nil {
		return fmt.Errorf("update station: %w", err)
	}
	h.logger.Info("station event", "event", name, "ssid", st.SSID, "parent", st.BSSID)
	return nil
}

// sanitizeKey maps s onto the characters allowed in a store key.
func sanitizeKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
