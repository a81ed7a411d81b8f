package camera

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Instance owns the single shared camera of a running session. The
// capture goroutine and out-of-band option requests from the control
// surface touch the camera concurrently, so every access goes through
// the instance's lock. Lock acquisition is scoped: WithCamera guarantees
// release on every exit path.
type Instance struct {
	mu     sync.Mutex
	driver Driver
	cam    Camera
	format StreamFormat
	live   bool
	logger *zap.Logger
}

// NewInstance wraps an opened driver.
func NewInstance(driver Driver, logger *zap.Logger) *Instance {
	return &Instance{
		driver: driver,
		logger: logger.With(zap.String("driver", driver.Name())),
	}
}

// OpenCamera opens the camera with the given index on the instance's driver.
func (i *Instance) OpenCamera(id int) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cam != nil {
		return fmt.Errorf("camera already open")
	}
	cam, err := i.driver.Open(id)
	if err != nil {
		return fmt.Errorf("failed to open camera %d: %w", id, err)
	}
	i.cam = cam
	i.logger.Info("Camera opened", zap.Int("id", id), zap.String("name", cam.Name()))
	return nil
}

// CloseCamera stops any running stream and closes the camera.
func (i *Instance) CloseCamera() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cam == nil {
		return nil
	}
	if i.live {
		if err := i.cam.StopStream(); err != nil {
			i.logger.Error("Error stopping stream during close", zap.Error(err))
		}
		i.live = false
	}
	err := i.cam.Close()
	i.cam = nil
	i.logger.Info("Camera closed")
	return err
}

// StartStream starts frame delivery in the given format.
func (i *Instance) StartStream(format StreamFormat, cb FrameCallback) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cam == nil {
		return fmt.Errorf("no camera open")
	}
	if i.live {
		return ErrStreamRunning
	}
	if err := i.cam.StartStream(format, cb); err != nil {
		return err
	}
	i.format = format
	i.live = true
	i.logger.Info("Stream started", zap.String("format", format.String()))
	return nil
}

// StopStream halts frame delivery.
func (i *Instance) StopStream() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cam == nil || !i.live {
		return ErrStreamNotRunning
	}
	if err := i.cam.StopStream(); err != nil {
		return err
	}
	i.live = false
	i.logger.Info("Stream stopped")
	return nil
}

// StreamFormat returns the format of the running stream.
func (i *Instance) StreamFormat() (StreamFormat, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.live {
		return StreamFormat{}, ErrStreamNotRunning
	}
	return i.format, nil
}

// WithCamera runs fn with exclusive access to the camera. This is the
// only way option reads/writes reach the camera while a stream runs.
func (i *Instance) WithCamera(fn func(Camera) error) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cam == nil {
		return fmt.Errorf("no camera open")
	}
	return fn(i.cam)
}

// Driver returns the instance's driver.
func (i *Instance) Driver() Driver {
	return i.driver
}
