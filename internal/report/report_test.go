package report

import (
	"math"
	"reflect"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func encode(t *testing.T, m sizer) []byte {
	t.Helper()
	size := m.Size()
	b := m.AppendTo(make([]byte, 0, size))
	if len(b) != size {
		t.Fatalf("AppendTo wrote %d bytes, Size() = %d", len(b), size)
	}
	return b
}

func TestAppUsageReport_RoundTrip(t *testing.T) {
	in := &AppUsageReport{
		ReportedAt: 1700000000,
		NodeID:     "node-1",
		Usage: []*AppUsageEntry{
			{AppName: "com.netflix", LaunchCount: 3, TimeInForeground: 5400, UsageTxBytes: 1 << 20, UsageRxBytes: 1 << 32},
			{AppName: "com.example.idle"},
		},
		TimePeriod: 86400,
	}

	var out AppUsageReport
	if err := out.Unmarshal(encode(t, in)); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !reflect.DeepEqual(in, &out) {
		t.Errorf("round trip mismatch:\n in: %+v\nout: %+v", in, &out)
	}
}

func TestStreamingReport_RoundTrip(t *testing.T) {
	in := &StreamingReport{
		ReportedAt: 1700000000,
		NodeID:     "node-1",
		Info: &StreamingInfo{
			AppName: "youtube",
			Video: &VideoInfo{
				TitleChannel:  "news",
				TotalDuration: 600000,
				Resolution:    &Resolution{Width: 1920, Height: 1080},
				FrameRateFPS:  60,
				FramesCount:   36000,
				DroppedFrames: 12,
				BitRate:       &BitRate{Audio: 128000, Video: 8000000},
				Codec:         "vp9",
				BufferingTime: 350,
			},
			Playback: &PlaybackInfo{Duration: 1200, Volume: 80, PlaySpeed: 1.25, State: PlaybackPlaying},
		},
		Error: "none",
	}

	var out StreamingReport
	if err := out.Unmarshal(encode(t, in)); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !reflect.DeepEqual(in, &out) {
		t.Errorf("round trip mismatch:\n in: %+v\nout: %+v", in, &out)
	}
	if out.AppName() != "youtube" {
		t.Errorf("AppName() = %q", out.AppName())
	}
}

func TestPlaySpeed_SignedZero(t *testing.T) {
	tests := []struct {
		name  string
		speed float32
		size  int
	}{
		{name: "positive zero omitted", speed: 0, size: 0},
		{name: "negative zero kept", speed: float32(math.Copysign(0, -1)), size: 5},
		{name: "reverse", speed: -2, size: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &PlaybackInfo{PlaySpeed: tt.speed}
			if n := in.Size(); n != tt.size {
				t.Errorf("Size() = %d, want %d", n, tt.size)
			}
			r := &StreamingReport{Info: &StreamingInfo{Playback: in}}
			var out StreamingReport
			if err := out.Unmarshal(encode(t, r)); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			got := out.Info.Playback.PlaySpeed
			if math.Float32bits(got) != math.Float32bits(tt.speed) {
				t.Errorf("PlaySpeed bits = %#x, want %#x", math.Float32bits(got), math.Float32bits(tt.speed))
			}
		})
	}
}

func TestEmptyReports(t *testing.T) {
	if n := (&AppUsageReport{}).Size(); n != 0 {
		t.Errorf("empty AppUsageReport Size() = %d", n)
	}
	// An empty submessage is still present on the wire.
	r := &StreamingReport{Info: &StreamingInfo{}}
	if n := r.Size(); n != 2 {
		t.Errorf("Size() = %d, want 2", n)
	}
	var out StreamingReport
	if err := out.Unmarshal(encode(t, r)); err != nil || out.Info == nil {
		t.Errorf("Unmarshal() = %+v, %v", out, err)
	}
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	b := (&AppUsageReport{NodeID: "n"}).AppendTo(nil)
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	b = protowire.AppendTag(b, 100, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 7)

	var out AppUsageReport
	if err := out.Unmarshal(b); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if out.NodeID != "n" {
		t.Errorf("NodeID = %q", out.NodeID)
	}
}

func TestUnmarshal_Truncated(t *testing.T) {
	b := encode(t, &StreamingReport{NodeID: "node-1", Error: "e"})
	var out StreamingReport
	if err := out.Unmarshal(b[:len(b)-1]); err == nil {
		t.Error("Unmarshal() of truncated input should fail")
	}
}

func TestPlaybackState_String(t *testing.T) {
	tests := []struct {
		state PlaybackState
		want  string
		valid bool
	}{
		{PlaybackNone, "NONE", true},
		{PlaybackPlaying, "PLAYING", true},
		{PlaybackPTSJump, "PTSJUMP", true},
		{PlaybackState(13), "PlaybackState(13)", false},
		{PlaybackState(-1), "PlaybackState(-1)", false},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		if got := tt.state.Valid(); got != tt.valid {
			t.Errorf("%s Valid() = %v", tt.want, got)
		}
	}
}
