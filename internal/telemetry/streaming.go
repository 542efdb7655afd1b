package telemetry

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/telepair/telebridge/internal/report"
)

// streamingInfo is the flat session object sent by the subsystem.
type streamingInfo struct {
	AppName         string  `json:"app_name"`
	TitleChannel    string  `json:"title_channel"`
	Codec           string  `json:"codec"`
	Error           string  `json:"error"`
	TotalDuration   uint64  `json:"total_duration"`
	ResolWidth      uint32  `json:"resol_width"`
	ResolHeight     uint32  `json:"resol_height"`
	FrameRate       uint32  `json:"frame_rate"`
	FramesCount     uint64  `json:"frames_count"`
	DroppedFrames   uint64  `json:"dropped_frames"`
	ErrorFrames     uint64  `json:"error_frames"`
	RenderTime      uint32  `json:"render_time"`
	AudioBitRate    uint32  `json:"audio_bit_rate"`
	VideoBitRate    uint32  `json:"video_bit_rate"`
	SampleRateHz    uint32  `json:"sample_rate_hz"`
	TxBytes         uint64  `json:"tx_bytes"`
	RxBytes         uint64  `json:"rx_bytes"`
	StartTime       uint64  `json:"start_time"`
	ConnectionSpeed uint64  `json:"connection_speed"`
	BufferingTime   uint64  `json:"buffering_time"`
	Duration        uint64  `json:"duration"`
	Volume          uint32  `json:"volume"`
	PlaySpeed       float64 `json:"play_speed"`
	State           int32   `json:"state"`
}

type streamingPayload struct {
	API    string `json:"api"`
	Params []struct {
		StreamingInfo *streamingInfo `json:"streaming_info"`
	} `json:"params"`
}

// ParseStreaming converts a streaming reply or event into a report.
func ParseStreaming(data []byte, nodeID string, now time.Time) (*report.StreamingReport, error) {
	var p streamingPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if len(p.Params) == 0 || p.Params[0].StreamingInfo == nil {
		return nil, ErrNoData
	}
	info := p.Params[0].StreamingInfo

	state := report.PlaybackState(info.State)
	if !state.Valid() {
		state = report.PlaybackNone
	}
	return &report.StreamingReport{
		ReportedAt: uint64(now.Unix()),
		NodeID:     nodeID,
		Error:      info.Error,
		Info: &report.StreamingInfo{
			AppName: info.AppName,
			Video: &report.VideoInfo{
				TitleChannel:    info.TitleChannel,
				TotalDuration:   info.TotalDuration,
				Resolution:      &report.Resolution{Width: info.ResolWidth, Height: info.ResolHeight},
				FrameRateFPS:    info.FrameRate,
				FramesCount:     info.FramesCount,
				DroppedFrames:   info.DroppedFrames,
				ErrorFrames:     info.ErrorFrames,
				RenderTime:      info.RenderTime,
				BitRate:         &report.BitRate{Audio: info.AudioBitRate, Video: info.VideoBitRate},
				SampleRateHz:    info.SampleRateHz,
				Codec:           info.Codec,
				StartTime:       info.StartTime,
				TxBytes:         info.TxBytes,
				RxBytes:         info.RxBytes,
				BufferingTime:   info.BufferingTime,
				ConnectionSpeed: info.ConnectionSpeed,
			},
			Playback: &report.PlaybackInfo{
				Duration:  info.Duration,
				Volume:    info.Volume,
				PlaySpeed: float32(info.PlaySpeed),
				State:     state,
			},
		},
	}, nil
}

// StreamingSource pulls the current streaming session and applies the
// monitored app filter.
type StreamingSource struct {
	client   Requester
	identity *Identity
	now      func() time.Time

	mu      sync.RWMutex
	filters []string
}

func NewStreamingSource(client Requester, identity *Identity) *StreamingSource {
	return &StreamingSource{client: client, identity: identity, now: time.Now}
}

// SetFilters replaces the monitored apps. An empty list monitors every app.
func (s *StreamingSource) SetFilters(apps []string) {
	s.mu.Lock()
	s.filters = slices.Clone(apps)
	s.mu.Unlock()
}

// Accepts reports whether sessions of app are monitored.
func (s *StreamingSource) Accepts(app string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.filters) == 0 || slices.Contains(s.filters, app)
}

// Collect requests the current session.
func (s *StreamingSource) Collect(ctx context.Context) (*report.StreamingReport, error) {
	reply, err := call(ctx, s.client, APIStreamingGet, nil)
	if err != nil {
		return nil, err
	}
	return s.FromPayload(reply)
}

// FromPayload parses a reply or event. Sessions of apps outside the
// filter yield an empty report, which encodes to zero bytes and is
// never delivered.
func (s *StreamingSource) FromPayload(data []byte) (*report.StreamingReport, error) {
	r, err := ParseStreaming(data, s.identity.NodeID(), s.now())
	if err != nil {
		return nil, err
	}
	if !s.Accepts(r.AppName()) {
		return &report.StreamingReport{}, nil
	}
	return r, nil
}
