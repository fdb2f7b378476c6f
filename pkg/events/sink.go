// Package events fans committed ledger events out to subscribers.
// Publishing is best-effort: a failing sink never affects ledger state.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

// ErrSinkClosed is returned when publishing to a closed sink
var ErrSinkClosed = errors.New("event sink closed")

// Sink receives ledger events
type Sink interface {
	Publish(ctx context.Context, event models.Event) error
	Close() error
}

// Multi publishes every event to all sinks and joins their errors
type Multi []Sink

var _ Sink = Multi(nil)

func (m Multi) Publish(ctx context.Context, event models.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps published events in memory
type Memory struct {
	mu     sync.RWMutex
	events []models.Event
	closed bool
}

var _ Sink = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, event models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSinkClosed
	}
	m.events = append(m.events, event)
	return nil
}

// GetEvents returns a copy of all published events
func (m *Memory) GetEvents() []models.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Event, len(m.events))
	copy(out, m.events)
	return out
}

// GetEventsByType returns published events of the given type
func (m *Memory) GetEventsByType(t models.EventType) []models.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Event
	for _, e := range m.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Log writes events to the service logger
type Log struct {
	logger logger.Logger
}

var _ Sink = (*Log)(nil)

func NewLog(l logger.Logger) *Log {
	return &Log{logger: l}
}

func (l *Log) Publish(_ context.Context, event models.Event) error {
	switch event.Type {
	case models.EventIntentSubmitted:
		l.logger.Debug("Event %s: intent %d submitted by %s", event.ID, event.IntentID, event.Owner)
	case models.EventBatchCreated:
		l.logger.DebugWithBatch(event.BatchID, "Event %s: batch created with intents %v", event.ID, event.IntentIDs)
	case models.EventBatchExecuted:
		success := event.Success != nil && *event.Success
		l.logger.DebugWithBatch(event.BatchID, "Event %s: batch executed (success: %v)", event.ID, success)
	}
	return nil
}

func (l *Log) Close() error {
	return nil
}
