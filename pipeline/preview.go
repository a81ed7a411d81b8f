package pipeline

import (
	"sync"

	"go.uber.org/zap"
)

// PreviewSink consumes the live-preview queue and retains the most recent
// JPEG for the web layer. It owns no downstream queues; on Shutdown it
// simply exits.
type PreviewSink struct {
	in     *Q
	logger *zap.Logger

	mu      sync.RWMutex
	current []byte
	seq     uint64
	stretch StretchParams
}

// NewPreviewSink creates a preview sink reading from in.
func NewPreviewSink(in *Q, logger *zap.Logger) *PreviewSink {
	return &PreviewSink{
		in:     in,
		logger: logger.With(zap.String("stage", "preview")),
	}
}

// Run executes the sink loop until shutdown.
func (p *PreviewSink) Run() {
	p.logger.Info("Preview sink started")
	for {
		switch msg := p.in.Pop().(type) {
		case *ProcessedFrame:
			p.mu.Lock()
			p.current = msg.Preview
			p.seq++
			p.mu.Unlock()
		case *ControlCommand:
			if msg.Op == CtlInit || msg.Op == CtlUpdate {
				p.mu.Lock()
				p.stretch = msg.Stretch
				p.mu.Unlock()
			}
		case Shutdown:
			p.logger.Info("Preview sink stopped")
			return
		case *RawFrame, *StatsEvent, *ErrorEvent:
			// raw frames never reach the preview queue; events are
			// for the notification sink
		}
	}
}

// Current returns the latest preview JPEG and its sequence number. The
// returned slice is shared and must not be modified.
func (p *PreviewSink) Current() ([]byte, uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, p.seq
}

// Stretch returns the display stretch parameters last seen on the stream.
func (p *PreviewSink) Stretch() StretchParams {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stretch
}
