package camera

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// SimDriver is a built-in driver producing synthetic frames. It exists so
// the pipeline can run and be tested without camera hardware attached.
type SimDriver struct{}

// NewSimDriver is the factory for the built-in sim driver. The external
// option is unused.
func NewSimDriver(externalOption int) (Driver, error) {
	return &SimDriver{}, nil
}

func (d *SimDriver) Name() string { return "sim" }

func (d *SimDriver) Cameras() ([]string, error) {
	return []string{"Simulated Camera"}, nil
}

func (d *SimDriver) Open(id int) (Camera, error) {
	if id != 0 {
		return nil, fmt.Errorf("sim: no camera with id %d", id)
	}
	return newSimCamera(), nil
}

func (d *SimDriver) Close() error { return nil }

type simCamera struct {
	mu      sync.Mutex
	options map[OptionID]*Option
	stop    chan struct{}
	done    chan struct{}
	counter uint64
}

func newSimCamera() *simCamera {
	return &simCamera{
		options: map[OptionID]*Option{
			OptExposure: {ID: OptExposure, Type: TypeMillisec, Min: 1, Max: 30000, Step: 1, Default: 100, Current: 100},
			OptGain:     {ID: OptGain, Type: TypeNumber, Min: 0, Max: 500, Step: 1, Default: 50, Current: 50},
			OptGamma:    {ID: OptGamma, Type: TypeNumber, Min: 0.5, Max: 4, Step: 0.1, Default: 1, Current: 1},
		},
	}
}

func (c *simCamera) Name() string { return "Simulated Camera" }

func (c *simCamera) Formats() ([]StreamFormat, error) {
	return []StreamFormat{
		{Type: StreamRaw16, Width: 1280, Height: 960, Bin: 1, Framerate: 10},
		{Type: StreamRaw8, Width: 1280, Height: 960, Bin: 1, Framerate: 30},
		{Type: StreamMono16, Width: 1280, Height: 960, Bin: 1, Framerate: 10},
		{Type: StreamMono8, Width: 640, Height: 480, Bin: 2, Framerate: 30},
		{Type: StreamRGB24, Width: 640, Height: 480, Bin: 1, Framerate: 30},
		{Type: StreamYUV2, Width: 640, Height: 480, Bin: 1, Framerate: 30},
	}, nil
}

func (c *simCamera) StartStream(format StreamFormat, cb FrameCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		return ErrStreamRunning
	}
	if format.FrameSize() < 0 {
		return fmt.Errorf("%w: sim cannot synthesize %s", ErrInvalidFormat, format.Type)
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	interval := time.Second / 30
	if format.Framerate > 0 {
		interval = time.Duration(float64(time.Second) / format.Framerate)
	}

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				cb(c.synthesize(format))
			}
		}
	}(c.stop, c.done)
	return nil
}

func (c *simCamera) StopStream() error {
	c.mu.Lock()
	if c.stop == nil {
		c.mu.Unlock()
		return ErrStreamNotRunning
	}
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()

	close(stop)
	<-done
	return nil
}

func (c *simCamera) SupportedOptions() ([]OptionID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]OptionID, 0, len(c.options))
	for id := range c.options {
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *simCamera) GetOption(id OptionID) (Option, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	opt, ok := c.options[id]
	if !ok {
		return Option{}, fmt.Errorf("%w: %d", ErrUnsupportedOption, int(id))
	}
	return *opt, nil
}

func (c *simCamera) SetOption(id OptionID, value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	opt, ok := c.options[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnsupportedOption, int(id))
	}
	if value < opt.Min || value > opt.Max {
		return fmt.Errorf("option %d value %g out of range [%g,%g]", int(id), value, opt.Min, opt.Max)
	}
	opt.Current = value
	return nil
}

func (c *simCamera) Close() error {
	c.mu.Lock()
	running := c.stop != nil
	c.mu.Unlock()
	if running {
		return c.StopStream()
	}
	return nil
}

// synthesize renders a moving diagonal gradient with a few bright spots,
// enough structure for the preview and stacker paths to chew on.
func (c *simCamera) synthesize(format StreamFormat) Frame {
	c.mu.Lock()
	c.counter++
	phase := int(c.counter % 256)
	c.mu.Unlock()

	bayer := BayerNA
	if format.Type == StreamRaw8 || format.Type == StreamRaw16 {
		bayer = BayerRGGB
	}

	data := make([]byte, format.FrameSize())
	bpp := format.Type.BytesPerPixel()
	for y := 0; y < format.Height; y++ {
		for x := 0; x < format.Width; x++ {
			v := uint32((x + y + phase) % 256)
			off := (y*format.Width + x) * bpp
			switch format.Type {
			case StreamRaw8, StreamMono8:
				data[off] = byte(v)
			case StreamRaw16, StreamMono16:
				binary.LittleEndian.PutUint16(data[off:], uint16(v<<8))
			case StreamYUV2:
				data[off] = byte(v) // luma; chroma stays neutral
				data[off+1] = 128
			case StreamRGB24:
				data[off] = byte(v)
				data[off+1] = byte(v)
				data[off+2] = byte(v)
			case StreamRGB48:
				binary.LittleEndian.PutUint16(data[off:], uint16(v<<8))
				binary.LittleEndian.PutUint16(data[off+2:], uint16(v<<8))
				binary.LittleEndian.PutUint16(data[off+4:], uint16(v<<8))
			}
		}
	}

	return Frame{
		Format:    format,
		Bayer:     bayer,
		Data:      data,
		Timestamp: time.Now(),
	}
}
