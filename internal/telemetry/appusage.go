package telemetry

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/telepair/telebridge/internal/report"
)

// DefaultTimePeriod is the usage window requested when none is set.
const DefaultTimePeriod int64 = 86400

type appUsageParams struct {
	TimePeriod int64 `json:"time_period"`
}

type appUsageEntry struct {
	AppName        string `json:"app_name"`
	LaunchCount    uint32 `json:"launch_count"`
	ForegroundTime uint64 `json:"foreground_time"`
	UsageRxBytes   uint64 `json:"usage_rx_bytes"`
	UsageTxBytes   uint64 `json:"usage_tx_bytes"`
}

type appUsageReply struct {
	API    string `json:"api"`
	Params []struct {
		TimePeriod *int64          `json:"time_period"`
		AppUsage   []appUsageEntry `json:"app_usage"`
	} `json:"params"`
}

// ParseAppUsage converts an app usage reply into a report.
func ParseAppUsage(data []byte, nodeID string, now time.Time) (*report.AppUsageReport, error) {
	var reply appUsageReply
	if err := decode(data, &reply); err != nil {
		return nil, err
	}
	if len(reply.Params) == 0 {
		return nil, ErrNoData
	}

	r := &report.AppUsageReport{
		ReportedAt: uint64(now.Unix()),
		NodeID:     nodeID,
	}
	for _, p := range reply.Params {
		if p.TimePeriod != nil {
			if *p.TimePeriod < 0 {
				return nil, fmt.Errorf("%w: negative time_period %d", ErrMalformed, *p.TimePeriod)
			}
			if *p.TimePeriod > math.MaxUint32 {
				return nil, fmt.Errorf("%w: time_period %d out of range", ErrMalformed, *p.TimePeriod)
			}
			r.TimePeriod = uint32(*p.TimePeriod)
		}
		for _, e := range p.AppUsage {
			r.Usage = append(r.Usage, &report.AppUsageEntry{
				AppName:          e.AppName,
				LaunchCount:      e.LaunchCount,
				TimeInForeground: e.ForegroundTime,
				UsageTxBytes:     e.UsageTxBytes,
				UsageRxBytes:     e.UsageRxBytes,
			})
		}
	}
	return r, nil
}

// AppUsageSource pulls app usage from the subsystem.
type AppUsageSource struct {
	client     Requester
	identity   *Identity
	timePeriod atomic.Int64
	now        func() time.Time
}

func NewAppUsageSource(client Requester, identity *Identity) *AppUsageSource {
	s := &AppUsageSource{client: client, identity: identity, now: time.Now}
	s.timePeriod.Store(DefaultTimePeriod)
	return s
}

// SetTimePeriod sets the usage window in seconds. Non-positive values
// select DefaultTimePeriod.
func (s *AppUsageSource) SetTimePeriod(seconds int64) {
	if seconds <= 0 {
		seconds = DefaultTimePeriod
	}
	s.timePeriod.Store(seconds)
}

func (s *AppUsageSource) TimePeriod() int64 {
	return s.timePeriod.Load()
}

// Collect requests the usage for the configured window.
func (s *AppUsageSource) Collect(ctx context.Context) (*report.AppUsageReport, error) {
	reply, err := call(ctx, s.client, APIAppUsageGet, appUsageParams{TimePeriod: s.TimePeriod()})
	if err != nil {
		return nil, err
	}
	return ParseAppUsage(reply, s.identity.NodeID(), s.now())
}
