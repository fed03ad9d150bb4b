package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	appkafka "example.com/photofeed/internal/broker"
	"example.com/photofeed/internal/models"
	"example.com/photofeed/internal/store"
	"github.com/segmentio/kafka-go"
)

// TestWorker_GracefulShutdown ensures that the worker:
// 1. Processes events from Kafka.
// 2. Stores the recipients' notifications.
// 3. Shuts down gracefully when the context is canceled.
func TestWorker_GracefulShutdown(t *testing.T) {
	mockStore := store.NewMock()

	like := appkafka.NewEvent(models.NotificationLike, "alice", "bob", "p1")
	follow := appkafka.NewEvent(models.NotificationFollow, "carol", "bob", "")

	// Mock Kafka reader with two messages
	mockKafka := &MockKafkaReader{
		Messages: []kafka.Message{eventMessage(t, like), eventMessage(t, follow)},
	}

	// Context with timeout to simulate graceful shutdown signal
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})

	worker := New(mockStore, mockKafka, 2, 4)

	go func() {
		worker.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
		storedNotification(t, mockStore, "bob", like.ID)
		storedNotification(t, mockStore, "bob", follow.ID)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("worker did not shutdown gracefully in time")
	}

	if err := worker.Close(); err != nil {
		t.Fatalf("worker Close() error: %v", err)
	}

	if !mockKafka.IsClosed() {
		t.Fatal("expected Kafka reader to be closed")
	}
}

func TestWorker_ReadErrorsBackOffUntilShutdown(t *testing.T) {
	mockKafka := &MockKafkaReader{ShouldFail: true}
	worker := New(store.NewMock(), mockKafka, 1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("worker kept running after cancellation")
	}
}

// MockKafkaReader simulates a Kafka reader for testing purposes
type MockKafkaReader struct {
	mu         sync.Mutex
	Messages   []kafka.Message // Queue of messages to return
	ShouldFail bool            // If true, ReadMessage will fail
	Closed     bool            // Tracks whether Close() has been called
}

// ReadMessage returns the next message in the queue or simulates a failure/context cancel
func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return kafka.Message{}, context.DeadlineExceeded
	}
	if len(m.Messages) == 0 {
		time.Sleep(5 * time.Millisecond) // simulate idle wait
		return kafka.Message{}, nil
	}

	msg := m.Messages[0]
	m.Messages = m.Messages[1:]
	return msg, nil
}

// Close marks the mock Kafka reader as closed
func (m *MockKafkaReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockKafkaReader) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closed
}
