// Package camera defines the driver abstraction every camera backend
// implements, the registry that loads backends, and the stream/option
// vocabulary shared with the pipeline. Frames are produced once per
// exposure by the driver and never mutated after delivery.
package camera

import "time"

// Frame is a single raw exposure as delivered by a driver. Ownership
// transfers to the pipeline on delivery; drivers must not reuse Data.
type Frame struct {
	Format    StreamFormat
	Bayer     BayerPattern
	Data      []byte
	Timestamp time.Time
}

// FrameCallback receives frames from a running stream. It is invoked from
// the driver's capture goroutine and must not block for long.
type FrameCallback func(Frame)

// Camera is the capability set every driver-provided camera implements.
// Format and option mutation must be serialized by the caller; see Instance.
type Camera interface {
	// Name returns the camera's human readable name.
	Name() string

	// Formats enumerates the stream formats the camera supports.
	Formats() ([]StreamFormat, error)

	// StartStream begins frame delivery in the given format. The format
	// is fixed until StopStream; renegotiation requires stop + start.
	StartStream(format StreamFormat, cb FrameCallback) error

	// StopStream halts frame delivery. No callback runs after it returns.
	StopStream() error

	// SupportedOptions lists the options this camera exposes.
	SupportedOptions() ([]OptionID, error)

	// GetOption reads an option. Unsupported ids fail with ErrUnsupportedOption.
	GetOption(id OptionID) (Option, error)

	// SetOption writes an option value. Unsupported ids fail with
	// ErrUnsupportedOption; out of range values are rejected.
	SetOption(id OptionID, value float64) error

	// Close releases the camera.
	Close() error
}

// Driver enumerates and opens the cameras a backend provides.
type Driver interface {
	Name() string

	// Cameras returns the names of attached cameras, indexed by id.
	Cameras() ([]string, error)

	// Open opens the camera with the given index.
	Open(id int) (Camera, error)

	Close() error
}
