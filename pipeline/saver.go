package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"astro-live-stacker/camera"
)

// DebugSaver consumes the debug-save queue and writes raw input frames to
// disk for later inspection. A session opens on an init command with
// save-inputs set and closes on save/cancel. It owns no downstream
// queues.
type DebugSaver struct {
	in     *Q
	logger *zap.Logger

	dir     string
	index   *os.File
	counter int
}

type savedFrameRecord struct {
	File      string `json:"file"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bayer     string `json:"bayer"`
	Timestamp string `json:"timestamp"`
}

// NewDebugSaver creates a debug saver reading from in.
func NewDebugSaver(in *Q, logger *zap.Logger) *DebugSaver {
	return &DebugSaver{
		in:     in,
		logger: logger.With(zap.String("stage", "debug_saver")),
	}
}

// Run executes the sink loop until shutdown.
func (d *DebugSaver) Run() {
	d.logger.Info("Debug saver started")
	for {
		switch msg := d.in.Pop().(type) {
		case *ProcessedFrame:
			if d.index != nil {
				if err := d.saveFrame(msg); err != nil {
					d.logger.Error("Failed to save debug frame", zap.Error(err))
				}
			}
		case *ControlCommand:
			d.handleControl(msg)
		case Shutdown:
			d.closeSession()
			d.logger.Info("Debug saver stopped")
			return
		case *RawFrame, *StatsEvent, *ErrorEvent:
		}
	}
}

func (d *DebugSaver) handleControl(cmd *ControlCommand) {
	switch cmd.Op {
	case CtlInit:
		d.closeSession()
		if !cmd.SaveInputs {
			return
		}
		if err := d.openSession(cmd); err != nil {
			d.logger.Error("Failed to open debug session", zap.Error(err))
		}
	case CtlSave, CtlCancel:
		d.closeSession()
	case CtlPause, CtlResume, CtlUpdate:
	}
}

func (d *DebugSaver) openSession(cmd *ControlCommand) error {
	dir := filepath.Join(cmd.OutputPath, "inputs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create debug dir: %w", err)
	}

	index, err := os.Create(filepath.Join(dir, "index.jsonl"))
	if err != nil {
		return fmt.Errorf("failed to create frame index: %w", err)
	}

	d.dir = dir
	d.index = index
	d.counter = 0
	d.logger.Info("Debug session opened",
		zap.String("dir", dir),
		zap.String("session", cmd.SessionID.String()))
	return nil
}

// saveFrame writes the original raw buffer. MJPEG frames keep their jpeg
// extension; fixed-size encodings are written as .raw.
func (d *DebugSaver) saveFrame(pf *ProcessedFrame) error {
	src := pf.Source
	ext := "raw"
	if src.Format.Type == camera.StreamMJPEG {
		ext = "jpeg"
	}

	d.counter++
	name := fmt.Sprintf("frame_%05d.%s", d.counter, ext)
	if err := os.WriteFile(filepath.Join(d.dir, name), src.Data, 0644); err != nil {
		return err
	}

	rec := savedFrameRecord{
		File:      name,
		Format:    src.Format.Type.String(),
		Width:     src.Format.Width,
		Height:    src.Format.Height,
		Bayer:     src.Bayer.String(),
		Timestamp: src.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := d.index.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

func (d *DebugSaver) closeSession() {
	if d.index == nil {
		return
	}
	if err := d.index.Close(); err != nil {
		d.logger.Error("Failed to close frame index", zap.Error(err))
	}
	d.logger.Info("Debug session closed",
		zap.String("dir", d.dir),
		zap.Int("frames", d.counter))
	d.index = nil
	d.dir = ""
}

// SavedFrames reports the number of frames written in the current session.
func (d *DebugSaver) SavedFrames() int { return d.counter }
