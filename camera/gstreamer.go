package camera

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// GstDriver is a built-in driver that captures MJPEG frames from a
// gst-launch-1.0 subprocess. It covers webcams and libcamera devices
// without linking against gstreamer.
type GstDriver struct {
	device  string
	quality int
	logger  *zap.Logger
}

// NewGstDriverFactory returns a factory for the gstreamer driver bound to
// a device path. The external option selects the JPEG quality when > 0.
func NewGstDriverFactory(device string, logger *zap.Logger) DriverFactory {
	return func(externalOption int) (Driver, error) {
		if device == "" {
			return nil, fmt.Errorf("gstreamer driver requires a device path")
		}
		quality := externalOption
		if quality <= 0 || quality > 100 {
			quality = 85
		}
		return &GstDriver{
			device:  device,
			quality: quality,
			logger:  logger.With(zap.String("driver", "gstreamer"), zap.Int("quality", quality)),
		}, nil
	}
}

func (d *GstDriver) Name() string { return "gstreamer" }

func (d *GstDriver) Cameras() ([]string, error) {
	return []string{d.device}, nil
}

func (d *GstDriver) Open(id int) (Camera, error) {
	if id != 0 {
		return nil, fmt.Errorf("gstreamer: no camera with id %d", id)
	}
	return &gstCamera{device: d.device, quality: d.quality, logger: d.logger}, nil
}

func (d *GstDriver) Close() error { return nil }

type gstCamera struct {
	device  string
	quality int
	logger  *zap.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	gstCtx    context.Context
	gstCancel context.CancelFunc
	wg        sync.WaitGroup
	running   bool
}

func (c *gstCamera) Name() string { return "GStreamer " + c.device }

func (c *gstCamera) Formats() ([]StreamFormat, error) {
	return []StreamFormat{
		{Type: StreamMJPEG, Width: 1920, Height: 1080, Bin: 1, Framerate: 30},
		{Type: StreamMJPEG, Width: 1280, Height: 720, Bin: 1, Framerate: 30},
		{Type: StreamMJPEG, Width: 640, Height: 480, Bin: 1, Framerate: 30},
	}, nil
}

// StartStream launches the gst-launch-1.0 subprocess and scans JPEG
// frames off its stdout.
func (c *gstCamera) StartStream(format StreamFormat, cb FrameCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrStreamRunning
	}
	if format.Type != StreamMJPEG {
		return fmt.Errorf("%w: gstreamer driver only streams mjpeg, got %s", ErrInvalidFormat, format.Type)
	}

	c.gstCtx, c.gstCancel = context.WithCancel(context.Background())

	pipeline := c.buildPipeline(format)
	args := append([]string{"-q"}, strings.Fields(pipeline)...)
	c.cmd = exec.CommandContext(c.gstCtx, "gst-launch-1.0", args...)

	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	c.stdout = stdout

	stderr, err := c.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	c.logger.Info("Starting GStreamer pipeline", zap.String("pipeline", pipeline))

	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start GStreamer: %w", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			c.logger.Debug("gstreamer_stderr", zap.String("line", scanner.Text()))
		}
	}()

	c.wg.Add(1)
	go c.captureLoop(format, cb)

	c.wg.Add(1)
	go c.monitor()

	c.running = true
	return nil
}

func (c *gstCamera) buildPipeline(format StreamFormat) string {
	var pipeline strings.Builder

	if len(c.device) < 5 {
		// Numeric device index: macOS webcam
		pipeline.WriteString(fmt.Sprintf(`avfvideosrc device-index=%s capture-screen=false`, c.device))
		pipeline.WriteString(fmt.Sprintf(" ! video/x-raw,width=%d,height=%d,framerate=%d/1",
			format.Width, format.Height, int(format.Framerate)))
	} else {
		pipeline.WriteString(fmt.Sprintf(`libcamerasrc camera-name="%s"`, c.device))
		pipeline.WriteString(fmt.Sprintf(" ! video/x-raw,format=NV12,width=%d,height=%d,framerate=%d/1",
			format.Width, format.Height, int(format.Framerate)))
	}

	pipeline.WriteString(" ! queue max-size-buffers=2 max-size-time=0 max-size-bytes=0 leaky=downstream")
	pipeline.WriteString(" ! videoconvert")
	pipeline.WriteString(fmt.Sprintf(" ! jpegenc quality=%d", c.quality))
	pipeline.WriteString(" ! fdsink fd=1")

	return pipeline.String()
}

// captureLoop reads JPEG frames from GStreamer stdout. Frames are
// delimited by SOI (0xFFD8) and EOI (0xFFD9) markers.
func (c *gstCamera) captureLoop(format StreamFormat, cb FrameCallback) {
	defer c.wg.Done()
	defer c.logger.Info("Capture loop stopped")

	reader := bufio.NewReader(c.stdout)
	frameCount := uint64(0)

	for {
		select {
		case <-c.gstCtx.Done():
			return
		default:
		}

		jpegData, err := c.readJPEGFrame(reader)
		if err != nil {
			if err == io.EOF || c.gstCtx.Err() != nil {
				return
			}
			c.logger.Error("Error reading JPEG frame", zap.Error(err))
			continue
		}
		if len(jpegData) == 0 {
			continue
		}

		frameCount++
		if frameCount%100 == 0 {
			c.logger.Debug("MJPEG frames captured",
				zap.Uint64("count", frameCount),
				zap.Int("frame_size", len(jpegData)))
		}

		cb(Frame{
			Format:    format,
			Bayer:     BayerNA,
			Data:      jpegData,
			Timestamp: time.Now(),
		})
	}
}

func (c *gstCamera) readJPEGFrame(reader *bufio.Reader) ([]byte, error) {
	// Find the SOI marker (0xFF 0xD8)
	for {
		b, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != 0xFF {
			continue
		}
		next, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if next != 0xD8 {
			continue
		}

		frame := make([]byte, 0, 200*1024)
		frame = append(frame, 0xFF, 0xD8)

		// Read until the EOI marker (0xFF 0xD9)
		for {
			b, err := reader.ReadByte()
			if err != nil {
				return nil, err
			}
			frame = append(frame, b)
			if len(frame) >= 2 && frame[len(frame)-2] == 0xFF && frame[len(frame)-1] == 0xD9 {
				return frame, nil
			}
			if len(frame) > 4*1024*1024 {
				return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(frame))
			}
		}
	}
}

func (c *gstCamera) monitor() {
	defer c.wg.Done()

	err := c.cmd.Wait()
	if c.gstCtx.Err() != nil {
		c.logger.Info("GStreamer process stopped by context")
		return
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			c.logger.Error("GStreamer exited with error",
				zap.Error(err),
				zap.Int("exit_code", exitErr.ExitCode()))
		} else {
			c.logger.Error("GStreamer wait error", zap.Error(err))
		}
	}
}

func (c *gstCamera) StopStream() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrStreamNotRunning
	}
	c.running = false

	if c.gstCancel != nil {
		c.gstCancel()
	}
	if c.stdout != nil {
		c.stdout.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Signal(syscall.SIGINT)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("GStreamer capture stopped gracefully")
	case <-time.After(5 * time.Second):
		c.logger.Warn("Capture stop timeout, forcing kill")
		if c.cmd != nil && c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
	}
	return nil
}

func (c *gstCamera) SupportedOptions() ([]OptionID, error) {
	return nil, nil
}

func (c *gstCamera) GetOption(id OptionID) (Option, error) {
	return Option{}, fmt.Errorf("%w: %d", ErrUnsupportedOption, int(id))
}

func (c *gstCamera) SetOption(id OptionID, value float64) error {
	return fmt.Errorf("%w: %d", ErrUnsupportedOption, int(id))
}

func (c *gstCamera) Close() error {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if running {
		return c.StopStream()
	}
	return nil
}
