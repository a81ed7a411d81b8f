// Package pipeline implements the frame distribution pipeline: the typed
// message union carried on every queue, the conversion stage that decodes
// camera frames and fans them out, and the downstream sinks (preview,
// stacker, debug saver). Stages communicate only through queues; control
// commands travel the same queues as frames, in strict arrival order.
package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"astro-live-stacker/camera"
	"astro-live-stacker/queue"
)

// Message is the closed union carried on every pipeline queue. A control
// command observed between two frames takes effect from the next frame;
// per-queue FIFO order is the only ordering guarantee in the system.
type Message interface {
	pipelineMessage()
}

// Q is the queue type every stage reads and writes.
type Q = queue.Queue[Message]

// NewQueue creates a pipeline message queue.
func NewQueue() *Q { return queue.New[Message]() }

// RawFrame is a single camera exposure entering the pipeline. The buffer
// is owned by the pipeline and never mutated after creation.
type RawFrame struct {
	camera.Frame
}

func (*RawFrame) pipelineMessage() {}

// Image is a decoded interleaved image. Depth is 8 or 16 bits per
// channel; 16-bit samples are stored little-endian.
type Image struct {
	Width    int
	Height   int
	Channels int
	Depth    int
	Data     []byte
}

// ProcessedFrame is the conversion stage's output. Preview is always
// present; Decoded is populated only when a consumer that needs the
// full-resolution image (stacker, plate solver) is currently active.
type ProcessedFrame struct {
	// Preview is the display-ready JPEG at 8-bit depth.
	Preview []byte

	// Decoded is the full-resolution working image, or nil when no
	// active consumer needs it.
	Decoded *Image

	// DynamicRange is the maximum pixel value of the source: 255 or 65535.
	DynamicRange int

	// Source references the originating raw frame.
	Source *RawFrame
}

func (*ProcessedFrame) pipelineMessage() {}

// ControlOp enumerates the operator commands.
type ControlOp int

const (
	CtlInit ControlOp = iota
	CtlPause
	CtlResume
	CtlSave
	CtlCancel
	CtlUpdate
)

var controlOpNames = map[ControlOp]string{
	CtlInit:   "init",
	CtlPause:  "pause",
	CtlResume: "resume",
	CtlSave:   "save",
	CtlCancel: "cancel",
	CtlUpdate: "update",
}

func (o ControlOp) String() string {
	if s, ok := controlOpNames[o]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", int(o))
}

// ControlOpFromString parses an operator command name. Unrecognized
// operations are a protocol error: they are rejected here, before
// anything reaches a queue.
func ControlOpFromString(s string) (ControlOp, error) {
	for op, name := range controlOpNames {
		if name == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

// StretchParams are the display tone-mapping parameters.
type StretchParams struct {
	Auto  bool    `json:"auto_stretch"`
	Low   float64 `json:"stretch_low"`
	High  float64 `json:"stretch_high"`
	Gamma float64 `json:"stretch_gamma"`
}

// Location is the observation site.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Target is the stacking target in equatorial coordinates.
type Target struct {
	RA float64 `json:"ra"`
	DE float64 `json:"de"`
}

// ControlCommand is an operator command travelling through the data
// queues. Only CtlInit populates the session fields; CtlUpdate carries
// stretch parameters only.
type ControlCommand struct {
	Op ControlOp

	// Session, set on init
	SessionID   uuid.UUID
	Name        string
	OutputPath  string
	Calibration bool
	SaveInputs  bool

	// Stream snapshot, set on init
	Format string
	Width  int
	Height int
	Bin    int
	Mono   bool

	// Camera option snapshot at session start
	SourceGamma  float64
	CameraConfig map[camera.OptionID]float64

	Location        Location
	Target          Target
	Derotate        bool
	DerotateMirror  bool
	RollbackOnPause bool

	DarksPath     string
	FlatsPath     string
	DarkFlatsPath string

	Stretch          StretchParams
	RemoveSatellites bool
}

func (*ControlCommand) pipelineMessage() {}

// Shutdown is the termination sentinel. Every stage that receives it must
// forward it to each queue it owns and then exit its run loop; all
// Shutdown values compare equal.
type Shutdown struct{}

func (Shutdown) pipelineMessage() {}

// StatsEvent reports stacking progress to the notification sink. It never
// influences pipeline control logic.
type StatsEvent struct {
	Stacked     int     `json:"stacked"`
	Missed      int     `json:"missed"`
	Dropped     int     `json:"dropped"`
	SinceSavedS float64 `json:"since_saved_s"`
	Histogram   []int   `json:"histogramm"`
}

func (*StatsEvent) pipelineMessage() {}

// ErrorEvent reports a recoverable error to the notification sink.
type ErrorEvent struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

func (*ErrorEvent) pipelineMessage() {}

// NewRawFrame wraps a camera frame for the pipeline.
func NewRawFrame(f camera.Frame) *RawFrame {
	return &RawFrame{Frame: f}
}

// NewInitCommand builds an initialize command with a fresh session id and
// the stream format snapshot.
func NewInitCommand(format camera.StreamFormat) *ControlCommand {
	return &ControlCommand{
		Op:           CtlInit,
		SessionID:    uuid.New(),
		Format:       format.Type.String(),
		Width:        format.Width,
		Height:       format.Height,
		Bin:          format.Bin,
		Mono:         format.Type.IsMono(),
		SourceGamma:  1.0,
		CameraConfig: make(map[camera.OptionID]float64),
		Stretch:      StretchParams{Auto: true, Gamma: 1.0},
	}
}

// Timestamp convenience for logging.
func (f *RawFrame) Age() time.Duration { return time.Since(f.Timestamp) }
