package camera

import (
	"errors"
	"fmt"
)

// Errors surfaced by the camera layer. Driver load and option failures are
// setup errors: they abort the requested operation and never reach the
// frame pipeline.
var (
	ErrInvalidFormat      = errors.New("invalid stream format")
	ErrInvalidBayer       = errors.New("invalid bayer pattern")
	ErrUnsupportedOption  = errors.New("unsupported camera option")
	ErrInvalidDriverID    = errors.New("invalid driver id")
	ErrDriverLoad         = errors.New("driver load failed")
	ErrDriverInstantiate  = errors.New("driver instantiation failed")
	ErrStreamRunning      = errors.New("stream already running")
	ErrStreamNotRunning   = errors.New("stream not running")
)

// StreamType identifies the pixel encoding of a camera stream.
type StreamType int

const (
	StreamYUV2 StreamType = iota
	StreamMJPEG
	StreamRGB24
	StreamRGB48
	StreamRaw8
	StreamRaw16
	StreamMono8
	StreamMono16
)

var streamTypeNames = map[StreamType]string{
	StreamYUV2:   "yuv2",
	StreamMJPEG:  "mjpeg",
	StreamRGB24:  "rgb24",
	StreamRGB48:  "rgb48",
	StreamRaw8:   "raw8",
	StreamRaw16:  "raw16",
	StreamMono8:  "mono8",
	StreamMono16: "mono16",
}

// String returns the wire form of the stream type.
func (s StreamType) String() string {
	if name, ok := streamTypeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// StreamTypeFromString parses the wire form of a stream type.
// Unrecognized strings fail with ErrInvalidFormat.
func StreamTypeFromString(s string) (StreamType, error) {
	for t, name := range streamTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
}

// BytesPerPixel returns the per-pixel byte width of the encoding, or -1
// for variable-length encodings (MJPEG).
func (s StreamType) BytesPerPixel() int {
	switch s {
	case StreamRaw8, StreamMono8:
		return 1
	case StreamYUV2, StreamRaw16, StreamMono16:
		return 2
	case StreamRGB24:
		return 3
	case StreamRGB48:
		return 6
	default:
		return -1
	}
}

// IsMono reports whether the encoding carries a single channel.
func (s StreamType) IsMono() bool {
	return s == StreamMono8 || s == StreamMono16
}

// BayerPattern is the color-filter arrangement of a raw sensor stream.
// It selects the demosaic transform and is meaningful only for raw8/raw16.
type BayerPattern int

const (
	BayerNA BayerPattern = iota
	BayerRGGB
	BayerGRBG
	BayerBGGR
	BayerGBRG
)

var bayerNames = map[BayerPattern]string{
	BayerNA:   "NA",
	BayerRGGB: "RGGB",
	BayerGRBG: "GRBG",
	BayerBGGR: "BGGR",
	BayerGBRG: "GBRG",
}

// String returns the wire form of the bayer pattern.
func (b BayerPattern) String() string {
	if name, ok := bayerNames[b]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(b))
}

// BayerFromString parses the wire form of a bayer pattern.
func BayerFromString(s string) (BayerPattern, error) {
	for b, name := range bayerNames {
		if name == s {
			return b, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidBayer, s)
}

// StreamFormat describes a negotiated camera stream. It is immutable once
// a stream starts; changing any field requires stop + start.
type StreamFormat struct {
	Type      StreamType
	Width     int
	Height    int
	Bin       int
	Framerate float64
}

// String renders the format as TYPE:WxH@fps.
func (f StreamFormat) String() string {
	return fmt.Sprintf("%s:%dx%d@%g", f.Type, f.Width, f.Height, f.Framerate)
}

// FrameSize returns the expected buffer length in bytes for fixed-size
// encodings, or -1 for MJPEG.
func (f StreamFormat) FrameSize() int {
	bpp := f.Type.BytesPerPixel()
	if bpp < 0 {
		return -1
	}
	return f.Width * f.Height * bpp
}
