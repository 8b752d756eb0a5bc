package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/erp/catalogsync/internal/domain/shared"
)

// MockEventHandler records the events it receives.
type MockEventHandler struct {
	mu         sync.Mutex
	eventTypes []string
	handled    []shared.DomainEvent
	err        error
}

// NewMockEventHandler creates a handler subscribed to eventTypes.
func NewMockEventHandler(eventTypes ...string) *MockEventHandler {
	return &MockEventHandler{
		eventTypes: eventTypes,
		handled:    make([]shared.DomainEvent, 0),
	}
}

// EventTypes returns the event types this handler subscribes to.
func (h *MockEventHandler) EventTypes() []string {
	return h.eventTypes
}

// Handle records the event and returns the configured error.
func (h *MockEventHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, event)
	return h.err
}

// Handled returns a copy of all handled events.
func (h *MockEventHandler) Handled() []shared.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	result := make([]shared.DomainEvent, len(h.handled))
	copy(result, h.handled)
	return result
}

// HandledOfType returns the handled events of one type, in arrival order.
func (h *MockEventHandler) HandledOfType(eventType string) []shared.DomainEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var result []shared.DomainEvent
	for _, e := range h.handled {
		if e.EventType() == eventType {
			result = append(result, e)
		}
	}
	return result
}

// HandledCount returns the number of handled events.
func (h *MockEventHandler) HandledCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

// SetError sets the error to return from Handle.
func (h *MockEventHandler) SetError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

// Reset clears all handled events.
func (h *MockEventHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = make([]shared.DomainEvent, 0)
	h.err = nil
}

// TestEvent is a simple domain event for testing.
type TestEvent struct {
	shared.BaseDomainEvent
	Data string `json:"data"`
}

// NewTestEvent creates a test event for the given channel.
func NewTestEvent(eventType, channelKey string) *TestEvent {
	return &TestEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, "CatalogChannel", channelKey),
		Data:            "test-data",
	}
}

// WaitForEventCount waits until the handler has processed at least count events.
func WaitForEventCount(handler *MockEventHandler, count int, timeout time.Duration) bool {
	return WaitForCondition(func() bool {
		return handler.HandledCount() >= count
	}, timeout, 10*time.Millisecond)
}
