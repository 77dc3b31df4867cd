package mock

import (
	"context"
	"sync"

	"github.com/YonghoLee79/saramjobhunter/internal/domain"
	"github.com/YonghoLee79/saramjobhunter/internal/publisher"
)

// Ensure MockPublisher implements publisher.Publisher.
var _ publisher.Publisher = (*MockPublisher)(nil)

// MockPublisher is a mock message publisher for testing.
type MockPublisher struct {
	mu        sync.Mutex
	Published []domain.ProgressEvent
	PublishFn func(ctx context.Context, ev *domain.ProgressEvent) error
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, ev *domain.ProgressEvent) error {
	if m.PublishFn != nil {
		return m.PublishFn(ctx, ev)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, *ev)
	return nil
}

func (m *MockPublisher) Close() error {
	return nil
}
