package log

import (
	"math"
	"sync"
)

// ProgressSink logs pipeline progress. Fractions are reported only when the
// whole percentage changes, so a download does not emit one line per chunk.
type ProgressSink struct {
	logger *Logger

	mu          sync.Mutex
	stage       string
	lastPercent int
}

// NewProgressSink creates a progress sink writing to logger
func NewProgressSink(logger *Logger) *ProgressSink {
	return &ProgressSink{
		logger:      logger.WithComponent(ComponentProgress),
		lastPercent: -1,
	}
}

func (s *ProgressSink) SetStage(name string) {
	s.mu.Lock()
	s.stage = name
	s.lastPercent = -1
	s.mu.Unlock()

	s.logger.Info("Update stage changed", FieldStage, name)
}

func (s *ProgressSink) SetProgress(value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	percent := int(math.Floor(math.Max(0, math.Min(1, value)) * 100))
	if percent == s.lastPercent {
		return
	}
	s.lastPercent = percent
	s.logger.Debug("Update progress", FieldStage, s.stage, "percent", percent)
}
