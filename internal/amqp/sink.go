package amqp

import (
	"context"
	"math"
	"sync"

	"spese-desktop/internal/log"
)

// ProgressSink forwards update progress to the broker. Publish failures are
// logged and dropped: a missing listener must never fail an update.
// Progress is published once per whole percent.
type ProgressSink struct {
	client   *Client
	updateID string

	mu          sync.Mutex
	stage       string
	lastPercent int
}

func NewProgressSink(client *Client, updateID string) *ProgressSink {
	return &ProgressSink{client: client, updateID: updateID}
}

func (s *ProgressSink) SetStage(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stage = name
	s.lastPercent = 0
	s.publish(NewProgressMessage(s.updateID, name, 0))
}

func (s *ProgressSink) SetProgress(value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value = math.Max(0, math.Min(1, value))
	percent := int(math.Floor(value * 100))
	if percent == s.lastPercent {
		return
	}
	s.lastPercent = percent
	s.publish(NewProgressMessage(s.updateID, s.stage, value))
}

func (s *ProgressSink) publish(msg *ProgressMessage) {
	if err := s.client.PublishProgress(context.Background(), msg); err != nil {
		s.client.logger.Warn("Failed to publish progress",
			log.FieldStage, msg.Stage,
			log.FieldError, err)
	}
}
