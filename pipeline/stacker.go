package pipeline

import (
	"encoding/binary"
	"time"

	"go.uber.org/zap"
)

// Stacker consumes the stacker queue, accumulates session counters and a
// luminance histogram, and emits StatsEvents to the notification queue.
// The stacking math itself (alignment, accumulation, rejection) lives
// behind the Accumulator interface; the default accumulator only counts.
type Stacker struct {
	in     *Q
	notify *Q
	acc    Accumulator
	logger *zap.Logger

	stacked   int
	missed    int
	dropped   int
	savedAt   time.Time
	histogram []int
}

// Accumulator receives decoded frames for stacking. Implementations do
// the actual alignment and accumulation.
type Accumulator interface {
	// Add accumulates one decoded frame. Returning false counts the
	// frame as missed (e.g. alignment failure).
	Add(img *Image) bool

	// Reset starts a new session.
	Reset(cmd *ControlCommand)

	// Save finalizes the current stack.
	Save() error
}

// countingAccumulator is the default no-op accumulator.
type countingAccumulator struct{}

func (countingAccumulator) Add(*Image) bool       { return true }
func (countingAccumulator) Reset(*ControlCommand) {}
func (countingAccumulator) Save() error           { return nil }

// NewStacker creates a stacker stage. A nil accumulator falls back to the
// counting stub.
func NewStacker(in, notify *Q, acc Accumulator, logger *zap.Logger) *Stacker {
	if acc == nil {
		acc = countingAccumulator{}
	}
	return &Stacker{
		in:      in,
		notify:  notify,
		acc:     acc,
		logger:  logger.With(zap.String("stage", "stacker")),
		savedAt: time.Now(),
	}
}

// Run executes the stage loop until shutdown. The shutdown sentinel is
// forwarded to the notification queue, which this stage owns.
func (s *Stacker) Run() {
	s.logger.Info("Stacker started")
	for {
		switch msg := s.in.Pop().(type) {
		case *ProcessedFrame:
			s.handleFrame(msg)
		case *ControlCommand:
			s.handleControl(msg)
		case Shutdown:
			if s.notify != nil {
				s.notify.Push(msg)
			}
			s.logger.Info("Stacker stopped")
			return
		case *RawFrame, *StatsEvent, *ErrorEvent:
		}
	}
}

func (s *Stacker) handleFrame(pf *ProcessedFrame) {
	if pf.Decoded == nil {
		// The converter only skips decoding when stacking is inactive;
		// a frame without a working buffer here means the stream state
		// machines diverged.
		s.dropped++
		s.logger.Warn("Frame without decoded buffer reached stacker")
	} else if s.acc.Add(pf.Decoded) {
		s.stacked++
		s.updateHistogram(pf.Decoded)
	} else {
		s.missed++
	}
	s.publishStats()
}

func (s *Stacker) handleControl(cmd *ControlCommand) {
	switch cmd.Op {
	case CtlInit:
		s.stacked, s.missed, s.dropped = 0, 0, 0
		s.savedAt = time.Now()
		s.histogram = nil
		s.acc.Reset(cmd)
		s.logger.Info("Stacking session started",
			zap.String("session", cmd.SessionID.String()),
			zap.String("name", cmd.Name),
			zap.Bool("calibration", cmd.Calibration))
	case CtlSave:
		if err := s.acc.Save(); err != nil {
			s.logger.Error("Failed to save stack", zap.Error(err))
			if s.notify != nil {
				s.notify.Push(&ErrorEvent{Source: "stacker", Message: err.Error()})
			}
		}
		s.savedAt = time.Now()
		s.publishStats()
	case CtlCancel:
		s.logger.Info("Stacking session cancelled")
	case CtlPause, CtlResume, CtlUpdate:
	}
}

// updateHistogram folds a decoded frame into the 256-bin luminance
// histogram reported with stats.
func (s *Stacker) updateHistogram(img *Image) {
	hist := make([]int, 256)
	n := img.Width * img.Height * img.Channels
	for i := 0; i < n; i++ {
		var v byte
		if img.Depth == 8 {
			v = img.Data[i]
		} else {
			v = byte(binary.LittleEndian.Uint16(img.Data[i*2:]) >> 8)
		}
		hist[v]++
	}
	s.histogram = hist
}

func (s *Stacker) publishStats() {
	if s.notify == nil {
		return
	}
	s.notify.Push(&StatsEvent{
		Stacked:     s.stacked,
		Missed:      s.missed,
		Dropped:     s.dropped,
		SinceSavedS: time.Since(s.savedAt).Seconds(),
		Histogram:   s.histogram,
	})
}
