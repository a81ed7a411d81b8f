package pipeline

import (
	"fmt"

	"go.uber.org/zap"

	"astro-live-stacker/camera"
)

// Converter is the frame conversion stage. It pops raw frames off its
// input queue, decodes them according to their declared pixel encoding,
// and fans the processed frame out to the consumers that are currently
// active. Control commands and the shutdown sentinel are broadcast to
// every owned output queue so all downstream stages observe state
// transitions at the same position in their streams.
type Converter struct {
	in       *Q
	liveOut  *Q
	stackOut *Q
	debugOut *Q
	plateOut *Q // nil when no plate-solve consumer is attached
	notify   *Q // side-band error reporting, nil to disable

	logger *zap.Logger

	// Stage-local control state, updated only from the run loop
	stackingActive     bool
	stackingInProgress bool
	debugActive        bool
}

// ConverterQueues wires a converter's inputs and outputs. PlateOut and
// Notify may be nil.
type ConverterQueues struct {
	In       *Q
	LiveOut  *Q
	StackOut *Q
	DebugOut *Q
	PlateOut *Q
	Notify   *Q
}

// NewConverter creates a conversion stage.
func NewConverter(q ConverterQueues, logger *zap.Logger) *Converter {
	return &Converter{
		in:       q.In,
		liveOut:  q.LiveOut,
		stackOut: q.StackOut,
		debugOut: q.DebugOut,
		plateOut: q.PlateOut,
		notify:   q.Notify,
		logger:   logger.With(zap.String("stage", "converter")),
	}
}

// Run executes the stage loop until a Shutdown message arrives. Pop is
// the loop's only suspension point; per-frame errors never terminate it.
func (c *Converter) Run() {
	c.logger.Info("Conversion stage started")
	for {
		switch msg := c.in.Pop().(type) {
		case *RawFrame:
			if pf, err := c.convert(msg); err != nil {
				c.reportError(err)
			} else {
				c.fanOut(pf)
			}
		case *ControlCommand:
			c.applyControl(msg)
			c.broadcast(msg)
		case Shutdown:
			c.broadcast(msg)
			c.logger.Info("Conversion stage stopped")
			return
		case *ProcessedFrame:
			// Processed frames never arrive upstream of conversion
			c.reportError(fmt.Errorf("unexpected processed frame on converter input"))
		case *StatsEvent, *ErrorEvent:
			if c.notify != nil {
				c.notify.Push(msg)
			}
		}
	}
}

// ownedOutputs returns every queue this stage feeds.
func (c *Converter) ownedOutputs() []*Q {
	outs := []*Q{c.liveOut, c.stackOut, c.debugOut}
	if c.plateOut != nil {
		outs = append(outs, c.plateOut)
	}
	return outs
}

// broadcast pushes msg to every owned output queue.
func (c *Converter) broadcast(msg Message) {
	for _, q := range c.ownedOutputs() {
		q.Push(msg)
	}
}

// applyControl updates the stage's control state.
func (c *Converter) applyControl(cmd *ControlCommand) {
	switch cmd.Op {
	case CtlInit:
		c.stackingActive = true
		c.stackingInProgress = true
		c.debugActive = cmd.SaveInputs
	case CtlResume:
		c.stackingActive = true
		c.stackingInProgress = true
	case CtlPause:
		c.stackingActive = false
	case CtlSave, CtlCancel:
		c.stackingActive = false
		c.stackingInProgress = false
	case CtlUpdate:
		// stretch parameters only, forwarded unchanged
	}
	c.logger.Debug("Control state updated",
		zap.String("op", cmd.Op.String()),
		zap.Bool("stacking_active", c.stackingActive),
		zap.Bool("stacking_in_progress", c.stackingInProgress),
		zap.Bool("debug_active", c.debugActive))
}

// needFullResolution reports whether a consumer currently needs the
// decoded working buffer. Decoding is skipped entirely when nothing
// downstream will look at it.
func (c *Converter) needFullResolution() bool {
	return c.stackingActive || c.plateOut != nil
}

// convert decodes a raw frame into a processed frame. Failures are
// recoverable per-frame errors: the frame is dropped, the stage continues.
func (c *Converter) convert(raw *RawFrame) (*ProcessedFrame, error) {
	format := raw.Format

	if expect := format.FrameSize(); expect >= 0 && len(raw.Data) != expect {
		return nil, fmt.Errorf("invalid frame size: got %d bytes, expected %d for %s",
			len(raw.Data), expect, format)
	}

	pf := &ProcessedFrame{Source: raw}

	switch format.Type {
	case camera.StreamMJPEG:
		pf.Preview = raw.Data
		pf.DynamicRange = 255
		if c.needFullResolution() {
			img, err := decodeJPEG(raw.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to extract jpeg: %w", err)
			}
			pf.Decoded = img
		}
		return pf, nil

	case camera.StreamYUV2:
		rgb := yuyvToRGB(raw.Data, format.Width, format.Height)
		return c.finish(pf, rgb, 255)

	case camera.StreamRGB24:
		rgb := wrapInterleaved(raw.Data, format.Width, format.Height, 3, 8)
		return c.finish(pf, rgb, 255)

	case camera.StreamRGB48:
		rgb := wrapInterleaved(raw.Data, format.Width, format.Height, 3, 16)
		return c.finish(pf, rgb, 65535)

	case camera.StreamRaw8, camera.StreamRaw16:
		depth, dr := 8, 255
		if format.Type == camera.StreamRaw16 {
			depth, dr = 16, 65535
		}
		rgb, err := demosaic(raw.Data, format.Width, format.Height, depth, raw.Bayer)
		if err != nil {
			return nil, err
		}
		return c.finish(pf, rgb, dr)

	case camera.StreamMono8:
		mono := wrapInterleaved(raw.Data, format.Width, format.Height, 1, 8)
		return c.finish(pf, mono, 255)

	case camera.StreamMono16:
		mono := wrapInterleaved(raw.Data, format.Width, format.Height, 1, 16)
		return c.finish(pf, mono, 65535)

	default:
		return nil, fmt.Errorf("%w: unsupported stream type %s reached conversion",
			camera.ErrInvalidFormat, format.Type)
	}
}

// finish encodes the preview JPEG and attaches the working buffer when a
// consumer needs it.
func (c *Converter) finish(pf *ProcessedFrame, img *Image, dynamicRange int) (*ProcessedFrame, error) {
	pf.DynamicRange = dynamicRange

	preview, err := encodeJPEG(rescaleTo8(img, dynamicRange))
	if err != nil {
		return nil, err
	}
	pf.Preview = preview

	if c.needFullResolution() {
		pf.Decoded = img
	}
	return pf, nil
}

// fanOut routes a processed frame to the currently active consumers.
// Unlike control commands, data frames are not broadcast.
func (c *Converter) fanOut(pf *ProcessedFrame) {
	c.liveOut.Push(pf)
	if c.stackingActive {
		c.stackOut.Push(pf)
	}
	if c.debugActive && c.stackingActive {
		c.debugOut.Push(pf)
	}
	if c.plateOut != nil && !c.stackingInProgress {
		c.plateOut.Push(pf)
	}
}

func (c *Converter) reportError(err error) {
	c.logger.Error("Dropping frame", zap.Error(err))
	if c.notify != nil {
		c.notify.Push(&ErrorEvent{Source: "converter", Message: err.Error()})
	}
}

// QueueDepths reports the current depth of every queue the stage touches,
// keyed by queue role. Depth is the pipeline's only backpressure signal.
func (c *Converter) QueueDepths() map[string]int {
	depths := map[string]int{
		"input": c.in.Len(),
		"live":  c.liveOut.Len(),
		"stack": c.stackOut.Len(),
		"debug": c.debugOut.Len(),
	}
	if c.plateOut != nil {
		depths["plate"] = c.plateOut.Len()
	}
	return depths
}
