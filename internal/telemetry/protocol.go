// Package telemetry talks to the companion subsystem: it builds requests,
// parses replies and events, and turns them into reports and device state.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/telepair/telebridge/pkg/jsoncodec"
)

// Request APIs and event names understood by the subsystem.
const (
	APIAppUsageGet  = "osandroid_app_usage_get"
	APIStreamingGet = "osandroid_streaming_get"

	EventStreaming           = "osandroid_streaming_event"
	EventPeripheralUpdate    = "osandroid_peripheral_device_update"
	EventStation             = "osandroid_sta"
	EventStationConnected    = "osandroid_sta_connected"
	EventStationDisconnected = "osandroid_sta_disconnected"
)

var (
	// ErrMalformed is returned for replies and events that cannot be parsed.
	ErrMalformed = errors.New("malformed payload")
	// ErrNoData is returned when a well formed reply carries no data.
	ErrNoData = errors.New("reply carries no data")
)

// Requester sends one request and waits for the reply.
type Requester interface {
	Request(ctx context.Context, payload []byte) ([]byte, error)
}

type request struct {
	API    string `json:"api"`
	Params any    `json:"params,omitempty"`
}

// BuildRequest encodes a request for api.
func BuildRequest(api string, params any) ([]byte, error) {
	b, err := jsoncodec.Marshal(request{API: api, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", api, err)
	}
	return b, nil
}

func call(ctx context.Context, r Requester, api string, params any) ([]byte, error) {
	payload, err := BuildRequest(api, params)
	if err != nil {
		return nil, err
	}
	reply, err := r.Request(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", api, err)
	}
	return reply, nil
}

func decode(data []byte, v any) error {
	if err := jsoncodec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Identity is the node identity stamped on reports and delivery headers.
// It can change at runtime through the node config.
type Identity struct {
	mu         sync.RWMutex
	nodeID     string
	locationID string
}

func NewIdentity(nodeID, locationID string) *Identity {
	return &Identity{nodeID: nodeID, locationID: locationID}
}

func (i *Identity) NodeID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.nodeID
}

func (i *Identity) LocationID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.locationID
}

func (i *Identity) SetNodeID(id string) {
	i.mu.Lock()
	i.nodeID = id
	i.mu.Unlock()
}

func (i *Identity) SetLocationID(id string) {
	i.mu.Lock()
	i.locationID = id
	i.mu.Unlock()
}
