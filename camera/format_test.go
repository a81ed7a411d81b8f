package camera

import (
	"errors"
	"testing"
)

// TestStreamTypeRoundTrip verifies string round-trip for every encoding
func TestStreamTypeRoundTrip(t *testing.T) {
	types := []StreamType{
		StreamYUV2, StreamMJPEG, StreamRGB24, StreamRGB48,
		StreamRaw8, StreamRaw16, StreamMono8, StreamMono16,
	}

	for _, st := range types {
		parsed, err := StreamTypeFromString(st.String())
		if err != nil {
			t.Errorf("StreamTypeFromString(%q) failed: %v", st.String(), err)
			continue
		}
		if parsed != st {
			t.Errorf("Round trip of %v returned %v", st, parsed)
		}
	}
}

// TestStreamTypeFromStringInvalid verifies unknown strings fail with ErrInvalidFormat
func TestStreamTypeFromStringInvalid(t *testing.T) {
	for _, s := range []string{"", "jpeg", "YUV2", "raw32", "rgb"} {
		if _, err := StreamTypeFromString(s); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("StreamTypeFromString(%q) = %v, want ErrInvalidFormat", s, err)
		}
	}
}

// TestBayerRoundTrip verifies string round-trip for every bayer pattern
func TestBayerRoundTrip(t *testing.T) {
	patterns := []BayerPattern{BayerNA, BayerRGGB, BayerGRBG, BayerBGGR, BayerGBRG}

	for _, p := range patterns {
		parsed, err := BayerFromString(p.String())
		if err != nil {
			t.Errorf("BayerFromString(%q) failed: %v", p.String(), err)
			continue
		}
		if parsed != p {
			t.Errorf("Round trip of %v returned %v", p, parsed)
		}
	}

	if _, err := BayerFromString("rggb"); !errors.Is(err, ErrInvalidBayer) {
		t.Errorf("Lowercase bayer string accepted, want ErrInvalidBayer, got %v", err)
	}
}

// TestBytesPerPixel checks per-encoding pixel widths
func TestBytesPerPixel(t *testing.T) {
	cases := map[StreamType]int{
		StreamRaw8:   1,
		StreamMono8:  1,
		StreamYUV2:   2,
		StreamRaw16:  2,
		StreamMono16: 2,
		StreamRGB24:  3,
		StreamRGB48:  6,
		StreamMJPEG:  -1,
	}

	for st, want := range cases {
		if got := st.BytesPerPixel(); got != want {
			t.Errorf("%v.BytesPerPixel() = %d, want %d", st, got, want)
		}
	}
}

// TestFrameSize checks expected buffer lengths
func TestFrameSize(t *testing.T) {
	f := StreamFormat{Type: StreamRaw16, Width: 100, Height: 50}
	if got := f.FrameSize(); got != 100*50*2 {
		t.Errorf("FrameSize = %d, want %d", got, 100*50*2)
	}

	f.Type = StreamMJPEG
	if got := f.FrameSize(); got != -1 {
		t.Errorf("MJPEG FrameSize = %d, want -1", got)
	}
}

// TestStreamFormatString checks the TYPE:WxH@fps rendering
func TestStreamFormatString(t *testing.T) {
	f := StreamFormat{Type: StreamRaw8, Width: 1280, Height: 960, Framerate: 30}
	if got := f.String(); got != "raw8:1280x960@30" {
		t.Errorf("StreamFormat.String() = %q", got)
	}
}

// TestOptionIDRoundTrip verifies stable ids map back to the same option
func TestOptionIDRoundTrip(t *testing.T) {
	for id := OptionID(0); id < optionCount; id++ {
		s, err := id.StringID()
		if err != nil {
			t.Fatalf("StringID(%d) failed: %v", int(id), err)
		}
		parsed, err := OptionIDFromString(s)
		if err != nil {
			t.Fatalf("OptionIDFromString(%q) failed: %v", s, err)
		}
		if parsed != id {
			t.Errorf("Round trip of option %d via %q returned %d", int(id), s, int(parsed))
		}
		if _, err := id.Label(); err != nil {
			t.Errorf("Label(%d) failed: %v", int(id), err)
		}
	}

	if _, err := OptionIDFromString("focus"); !errors.Is(err, ErrUnsupportedOption) {
		t.Errorf("Unknown option id accepted, got %v", err)
	}
}

// TestOptionTypeRoundTrip verifies value-type kind string mapping
func TestOptionTypeRoundTrip(t *testing.T) {
	kinds := []OptionType{TypeBool, TypeNumber, TypeMillisec, TypePercent, TypeKelvin, TypeCelsius}
	for _, k := range kinds {
		parsed, err := OptionTypeFromString(k.String())
		if err != nil || parsed != k {
			t.Errorf("Round trip of option type %v returned (%v, %v)", k, parsed, err)
		}
	}
}
