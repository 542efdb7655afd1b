package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/telepair/telebridge/internal/listener"
)

type memStore struct {
	docs map[string]any
	err  error
}

func newMemStore() *memStore { return &memStore{docs: make(map[string]any)} }

func (m *memStore) PutJSON(_ context.Context, key string, v any) error {
	if m.err != nil {
		return m.err
	}
	m.docs[key] = v
	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	if m.err != nil {
		return m.err
	}
	delete(m.docs, key)
	return nil
}

func peripheralEventJSON(name string, associated bool) string {
	assoc := "false"
	if associated {
		assoc = "true"
	}
	return `{"api":"osandroid_peripheral_device_update","params":[{"schema_Peripheral_Device":{` +
		`"name":"` + name + `","physical_interface":"bluetooth",` +
		`"product_info":{"map":[{"vendor":"acme"},{"model":"R-1"}]}}},{"associated":` + assoc + `}]}`
}

func newHandlers(t *testing.T, store DeviceStore) (*DeviceHandlers, *Metrics) {
	t.Helper()
	m, err := NewMetrics(prometheus.NewRegistry(), "test")
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	h := NewDeviceHandlers(store, NewIdentity("node-1", ""), m)
	h.now = func() time.Time { return fixedNow }
	return h, m
}

func TestParsePeripheral(t *testing.T) {
	p, associated, err := ParsePeripheral([]byte(peripheralEventJSON("Remote 1", true)))
	if err != nil {
		t.Fatalf("ParsePeripheral() error = %v", err)
	}
	if !associated || p.Name != "Remote 1" || p.PhysicalInterface != "bluetooth" {
		t.Errorf("peripheral = %+v associated=%v", p, associated)
	}
	if p.ProductInfo["vendor"] != "acme" || p.ProductInfo["model"] != "R-1" {
		t.Errorf("product info = %v", p.ProductInfo)
	}
	if got := p.Key(); got != "peripheral.Remote_1" {
		t.Errorf("Key() = %q", got)
	}

	if got := (Peripheral{PhysicalInterface: "usb:1"}).Key(); got != "peripheral.usb_1" {
		t.Errorf("interface Key() = %q", got)
	}
	if _, _, err := ParsePeripheral([]byte(`{"params":[{"associated":true}]}`)); !errors.Is(err, ErrMalformed) {
		t.Errorf("missing device error = %v", err)
	}
}

func TestDeviceHandlers_Peripheral(t *testing.T) {
	store := newMemStore()
	h, m := newHandlers(t, store)
	ctx := context.Background()

	if err := h.Peripheral(ctx, listener.Message{Data: []byte(peripheralEventJSON("remote", true))}); err != nil {
		t.Fatalf("Peripheral(associated) error = %v", err)
	}
	doc, ok := store.docs["peripheral.remote"].(Peripheral)
	if !ok || doc.NodeID != "node-1" || !doc.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("stored = %+v", store.docs)
	}

	if err := h.Peripheral(ctx, listener.Message{Data: []byte(peripheralEventJSON("remote", false))}); err != nil {
		t.Fatalf("Peripheral(dissociated) error = %v", err)
	}
	if _, ok := store.docs["peripheral.remote"]; ok {
		t.Error("dissociated device still stored")
	}

	store.err = errors.New("kv down")
	if err := h.Peripheral(ctx, listener.Message{Data: []byte(peripheralEventJSON("remote", true))}); !errors.Is(err, store.err) {
		t.Errorf("store failure error = %v", err)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues(EventPeripheralUpdate, "ok")); got != 2 {
		t.Errorf("ok events = %v", got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues(EventPeripheralUpdate, "error")); got != 1 {
		t.Errorf("error events = %v", got)
	}
}

func TestDeviceHandlers_Station(t *testing.T) {
	store := newMemStore()
	h, _ := newHandlers(t, store)
	ctx := context.Background()

	tests := []struct {
		name    string
		data    string
		want    Station
		wantErr bool
	}{
		{
			name: "connected",
			data: `{"api":"osandroid_sta_connected","params":[{"ssid":"home","bssid":"aa:bb","mac":"cc:dd"}]}`,
			want: Station{Connected: true, SSID: "home", BSSID: "aa:bb", MAC: "cc:dd"},
		},
		{
			name: "disconnected",
			data: `{"api":"osandroid_sta_disconnected","params":[]}`,
			want: Station{},
		},
		{
			name:    "unknown",
			data:    `{"api":"osandroid_sta_roaming","params":[]}`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Station(ctx, listener.Message{Data: []byte(tt.data)})
			if tt.wantErr {
				if err == nil {
					t.Error("Station() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("Station() error = %v", err)
			}
			got := store.docs[StationKey].(Station)
			tt.want.NodeID = "node-1"
			tt.want.UpdatedAt = fixedNow.UTC()
			if got != tt.want {
				t.Errorf("station = %+v, want %+v", got, tt.want)
			}
		})
	}
}
