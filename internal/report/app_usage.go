package report

import "fmt"

// AppUsageEntry is the usage of one application over the report window.
type AppUsageEntry struct {
	AppName          string `json:"app_name"`
	LaunchCount      uint32 `json:"launch_count"`
	TimeInForeground uint64 `json:"time_in_foreground"`
	UsageTxBytes     uint64 `json:"usage_tx_bytes"`
	UsageRxBytes     uint64 `json:"usage_rx_bytes"`
}

func (e *AppUsageEntry) Size() int {
	return sizeString(1, e.AppName) +
		sizeVarint(2, uint64(e.LaunchCount)) +
		sizeVarint(3, e.TimeInForeground) +
		sizeVarint(4, e.UsageTxBytes) +
		sizeVarint(5, e.UsageRxBytes)
}

func (e *AppUsageEntry) AppendTo(b []byte) []byte {
	b = appendString(b, 1, e.AppName)
	b = appendVarint(b, 2, uint64(e.LaunchCount))
	b = appendVarint(b, 3, e.TimeInForeground)
	b = appendVarint(b, 4, e.UsageTxBytes)
	return appendVarint(b, 5, e.UsageRxBytes)
}

func (e *AppUsageEntry) Unmarshal(b []byte) error {
	*e = AppUsageEntry{}
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			e.AppName = f.str()
		case 2:
			e.LaunchCount = f.uint32()
		case 3:
			e.TimeInForeground = f.uint64()
		case 4:
			e.UsageTxBytes = f.uint64()
		case 5:
			e.UsageRxBytes = f.uint64()
		}
		return nil
	})
}

// AppUsageReport is the periodic per-application usage report.
type AppUsageReport struct {
	// ReportedAt is a unix timestamp in seconds.
	ReportedAt uint64           `json:"reported_at"`
	NodeID     string           `json:"node_id"`
	Usage      []*AppUsageEntry `json:"usage"`
	// TimePeriod is the window the usage covers, in seconds.
	TimePeriod uint32 `json:"time_period"`
}

// Size returns the encoded length.
func (r *AppUsageReport) Size() int {
	n := sizeVarint(1, r.ReportedAt) + sizeString(2, r.NodeID)
	for _, e := range r.Usage {
		if e != nil {
			n += sizeMessage(3, e)
		}
	}
	return n + sizeVarint(4, uint64(r.TimePeriod))
}

// AppendTo appends the encoded report to b.
func (r *AppUsageReport) AppendTo(b []byte) []byte {
	b = appendVarint(b, 1, r.ReportedAt)
	b = appendString(b, 2, r.NodeID)
	for _, e := range r.Usage {
		if e != nil {
			b = appendMessage(b, 3, e)
		}
	}
	return appendVarint(b, 4, uint64(r.TimePeriod))
}

// Unmarshal decodes b into r.
func (r *AppUsageReport) Unmarshal(b []byte) error {
	*r = AppUsageReport{}
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			r.ReportedAt = f.uint64()
		case 2:
			r.NodeID = f.str()
		case 3:
			e, err := submessage[AppUsageEntry](f)
			if err != nil {
				return fmt.Errorf("usage[%d]: %w", len(r.Usage), err)
			}
			if e != nil {
				r.Usage = append(r.Usage, e)
			}
		case 4:
			r.TimePeriod = f.uint32()
		}
		return nil
	})
}
