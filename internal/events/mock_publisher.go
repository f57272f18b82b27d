package events

import (
	"context"
	"sync"
)

// MockEventPublisher records events in memory. Used in tests and when no
// broker is configured.
type MockEventPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
}

// PublishedEvent pairs a topic with the payload that went out on it.
type PublishedEvent struct {
	Topic   string
	Payload interface{}
}

func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

func (m *MockEventPublisher) PublishAttemptStarted(ctx context.Context, event AttemptStartedEvent) error {
	m.record(TopicAttemptStarted, event)
	return nil
}

func (m *MockEventPublisher) PublishAttemptCompleted(ctx context.Context, event AttemptCompletedEvent) error {
	m.record(TopicAttemptCompleted, event)
	return nil
}

func (m *MockEventPublisher) Close() error {
	return nil
}

func (m *MockEventPublisher) record(topic string, payload interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, PublishedEvent{Topic: topic, Payload: payload})
}

// GetPublishedEvents returns a copy of everything published so far.
func (m *MockEventPublisher) GetPublishedEvents() []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PublishedEvent, len(m.events))
	copy(out, m.events)
	return out
}

// GetPublishedEventsForTopic filters recorded events by topic.
func (m *MockEventPublisher) GetPublishedEventsForTopic(topic string) []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PublishedEvent
	for _, e := range m.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

// ClearEvents drops all recorded events.
func (m *MockEventPublisher) ClearEvents() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}
