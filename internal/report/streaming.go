package report

import "fmt"

// PlaybackState mirrors the player state reported by the device.
type PlaybackState int32

const (
	PlaybackNone PlaybackState = iota
	PlaybackStopped
	PlaybackPaused
	PlaybackPlaying
	PlaybackFastForwarding
	PlaybackRewinding
	PlaybackBuffering
	PlaybackError
	PlaybackConnecting
	PlaybackSkippingToPrevious
	PlaybackSkippingToNext
	PlaybackSkippingToQueueItem
	PlaybackPTSJump
)

var playbackStateNames = [...]string{
	"NONE", "STOPPED", "PAUSED", "PLAYING", "FAST_FORWARDING", "REWINDING",
	"BUFFERING", "ERROR", "CONNECTING", "SKIPPING_TO_PREVIOUS", "SKIPPING_TO_NEXT",
	"SKIPPING_TO_QUEUE_ITEM", "PTSJUMP",
}

func (s PlaybackState) String() string {
	if s >= 0 && int(s) < len(playbackStateNames) {
		return playbackStateNames[s]
	}
	return fmt.Sprintf("PlaybackState(%d)", int32(s))
}

// Valid reports whether s is a known state.
func (s PlaybackState) Valid() bool {
	return s >= PlaybackNone && s <= PlaybackPTSJump
}

type Resolution struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

func (r *Resolution) Size() int {
	return sizeVarint(1, uint64(r.Width)) + sizeVarint(2, uint64(r.Height))
}

func (r *Resolution) AppendTo(b []byte) []byte {
	b = appendVarint(b, 1, uint64(r.Width))
	return appendVarint(b, 2, uint64(r.Height))
}

func (r *Resolution) Unmarshal(b []byte) error {
	*r = Resolution{}
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			r.Width = f.uint32()
		case 2:
			r.Height = f.uint32()
		}
		return nil
	})
}

type BitRate struct {
	Audio uint32 `json:"audio"`
	Video uint32 `json:"video"`
}

func (r *BitRate) Size() int {
	return sizeVarint(1, uint64(r.Audio)) + sizeVarint(2, uint64(r.Video))
}

func (r *BitRate) AppendTo(b []byte) []byte {
	b = appendVarint(b, 1, uint64(r.Audio))
	return appendVarint(b, 2, uint64(r.Video))
}

func (r *BitRate) Unmarshal(b []byte) error {
	*r = BitRate{}
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			r.Audio = f.uint32()
		case 2:
			r.Video = f.uint32()
		}
		return nil
	})
}

// VideoInfo holds the quality counters of the current stream. Durations
// and times are in milliseconds.
type VideoInfo struct {
	TitleChannel    string      `json:"title_channel"`
	TotalDuration   uint64      `json:"total_duration"`
	Resolution      *Resolution `json:"resolution,omitempty"`
	FrameRateFPS    uint32      `json:"frame_rate_fps"`
	FramesCount     uint64      `json:"frames_count"`
	DroppedFrames   uint64      `json:"dropped_frames"`
	ErrorFrames     uint64      `json:"error_frames"`
	RenderTime      uint32      `json:"render_time"`
	BitRate         *BitRate    `json:"bitrate,omitempty"`
	SampleRateHz    uint32      `json:"sample_rate_hz"`
	Codec           string      `json:"codec"`
	StartTime       uint64      `json:"start_time"`
	TxBytes         uint64      `json:"tx_bytes"`
	RxBytes         uint64      `json:"rx_bytes"`
	BufferingTime   uint64      `json:"buffering_time"`
	ConnectionSpeed uint64      `json:"connection_speed"`
}

func (v *VideoInfo) Size() int {
	n := sizeString(1, v.TitleChannel) + sizeVarint(2, v.TotalDuration)
	if v.Resolution != nil {
		n += sizeMessage(3, v.Resolution)
	}
	n += sizeVarint(4, uint64(v.FrameRateFPS)) +
		sizeVarint(5, v.FramesCount) +
		sizeVarint(6, v.DroppedFrames) +
		sizeVarint(7, v.ErrorFrames) +
		sizeVarint(8, uint64(v.RenderTime))
	if v.BitRate != nil {
		n += sizeMessage(9, v.BitRate)
	}
	return n + sizeVarint(10, uint64(v.SampleRateHz)) +
		sizeString(11, v.Codec) +
		sizeVarint(12, v.StartTime) +
		sizeVarint(13, v.TxBytes) +
		sizeVarint(14, v.RxBytes) +
		sizeVarint(15, v.BufferingTime) +
		sizeVarint(16, v.ConnectionSpeed)
}

func (v *VideoInfo) AppendTo(b []byte) []byte {
	b = appendString(b, 1, v.TitleChannel)
	b = appendVarint(b, 2, v.TotalDuration)
	if v.Resolution != nil {
		b = appendMessage(b, 3, v.Resolution)
	}
	b = appendVarint(b, 4, uint64(v.FrameRateFPS))
	b = appendVarint(b, 5, v.FramesCount)
	b = appendVarint(b, 6, v.DroppedFrames)
	b = appendVarint(b, 7, v.ErrorFrames)
	b = appendVarint(b, 8, uint64(v.RenderTime))
	if v.BitRate != nil {
		b = appendMessage(b, 9, v.BitRate)
	}
	b = appendVarint(b, 10, uint64(v.SampleRateHz))
	b = appendString(b, 11, v.Codec)
	b = appendVarint(b, 12, v.StartTime)
	b = appendVarint(b, 13, v.TxBytes)
	b = appendVarint(b, 14, v.RxBytes)
	b = appendVarint(b, 15, v.BufferingTime)
	return appendVarint(b, 16, v.ConnectionSpeed)
}

func (v *VideoInfo) Unmarshal(b []byte) error {
	*v = VideoInfo{}
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			v.TitleChannel = f.str()
		case 2:
			v.TotalDuration = f.uint64()
		case 3:
			v.Resolution, err = submessage[Resolution](f)
		case 4:
			v.FrameRateFPS = f.uint32()
		case 5:
			v.FramesCount = f.uint64()
		case 6:
			v.DroppedFrames = f.uint64()
		case 7:
			v.ErrorFrames = f.uint64()
		case 8:
			v.RenderTime = f.uint32()
		case 9:
			v.BitRate, err = submessage[BitRate](f)
		case 10:
			v.SampleRateHz = f.uint32()
		case 11:
			v.Codec = f.str()
		case 12:
			v.StartTime = f.uint64()
		case 13:
			v.TxBytes = f.uint64()
		case 14:
			v.RxBytes = f.uint64()
		case 15:
			v.BufferingTime = f.uint64()
		case 16:
			v.ConnectionSpeed = f.uint64()
		}
		return err
	})
}

type PlaybackInfo struct {
	// Duration played so far, in milliseconds.
	Duration uint64 `json:"duration"`
	// Volume in percent.
	Volume    uint32        `json:"volume"`
	PlaySpeed float32       `json:"play_speed"`
	State     PlaybackState `json:"state"`
}

func (p *PlaybackInfo) Size() int {
	return sizeVarint(1, p.Duration) +
		sizeVarint(2, uint64(p.Volume)) +
		sizeFloat(3, p.PlaySpeed) +
		sizeVarint(4, uint64(p.State))
}

func (p *PlaybackInfo) AppendTo(b []byte) []byte {
	b = appendVarint(b, 1, p.Duration)
	b = appendVarint(b, 2, uint64(p.Volume))
	b = appendFloat(b, 3, p.PlaySpeed)
	return appendVarint(b, 4, uint64(p.State))
}

func (p *PlaybackInfo) Unmarshal(b []byte) error {
	*p = PlaybackInfo{}
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			p.Duration = f.uint64()
		case 2:
			p.Volume = f.uint32()
		case 3:
			p.PlaySpeed = f.float()
		case 4:
			p.State = PlaybackState(int32(f.uint64()))
		}
		return nil
	})
}

type StreamingInfo struct {
	AppName  string        `json:"app_name"`
	Video    *VideoInfo    `json:"video,omitempty"`
	Playback *PlaybackInfo `json:"playback,omitempty"`
}

func (s *StreamingInfo) Size() int {
	n := sizeString(1, s.AppName)
	if s.Video != nil {
		n += sizeMessage(2, s.Video)
	}
	if s.Playback != nil {
		n += sizeMessage(3, s.Playback)
	}
	return n
}

func (s *StreamingInfo) AppendTo(b []byte) []byte {
	b = appendString(b, 1, s.AppName)
	if s.Video != nil {
		b = appendMessage(b, 2, s.Video)
	}
	if s.Playback != nil {
		b = appendMessage(b, 3, s.Playback)
	}
	return b
}

func (s *StreamingInfo) Unmarshal(b []byte) error {
	*s = StreamingInfo{}
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			s.AppName = f.str()
		case 2:
			s.Video, err = submessage[VideoInfo](f)
		case 3:
			s.Playback, err = submessage[PlaybackInfo](f)
		}
		return err
	})
}

// StreamingReport describes the current streaming session of the device.
type StreamingReport struct {
	ReportedAt uint64         `json:"reported_at"`
	NodeID     string         `json:"node_id"`
	Info       *StreamingInfo `json:"info,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Size returns the encoded length.
func (r *StreamingReport) Size() int {
	n := sizeVarint(1, r.ReportedAt) + sizeString(2, r.NodeID)
	if r.Info != nil {
		n += sizeMessage(3, r.Info)
	}
	return n + sizeString(4, r.Error)
}

// AppendTo appends the encoded report to b.
func (r *StreamingReport) AppendTo(b []byte) []byte {
	b = appendVarint(b, 1, r.ReportedAt)
	b = appendString(b, 2, r.NodeID)
	if r.Info != nil {
		b = appendMessage(b, 3, r.Info)
	}
	return appendString(b, 4, r.Error)
}

// Unmarshal decodes b into r.
func (r *StreamingReport) Unmarshal(b []byte) error {
	*r = StreamingReport{}
	return walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			r.ReportedAt = f.uint64()
		case 2:
			r.NodeID = f.str()
		case 3:
			r.Info, err = submessage[StreamingInfo](f)
		case 4:
			r.Error = f.str()
		}
		return err
	})
}

// AppName returns the streaming application, or "" without session info.
func (r *StreamingReport) AppName() string {
	if r.Info == nil {
		return ""
	}
	return r.Info.AppName
}
