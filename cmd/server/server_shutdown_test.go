package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"example.com/photofeed/internal/blob"
	appkafka "example.com/photofeed/internal/broker"
	"example.com/photofeed/internal/feed"
	"example.com/photofeed/internal/profile"
	"example.com/photofeed/internal/relay"
	"example.com/photofeed/internal/store"
	"example.com/photofeed/internal/viewstate"
)

// TestServer_GracefulShutdown verifies that the HTTP server shuts down gracefully
// and that associated resources (mock store and Kafka) can be closed without errors.
func TestServer_GracefulShutdown(t *testing.T) {
	// Use mock store and Kafka to avoid real dependencies
	mockStore := store.NewMock()
	mockKafka := &appkafka.MockKafka{}
	blobs := blob.NewMem("https://mem.test")

	agg := feed.NewAggregator(mockStore, 1)
	builder := viewstate.NewBuilder(blobs, blobs, mockStore, 1)
	s := New(
		feed.NewSessions(agg, builder, 1, time.Minute),
		agg,
		builder,
		relay.New(mockStore, blobs, appkafka.NewPublisher(mockKafka)),
		profile.NewService(mockStore, blobs),
		testSecret,
	)

	// Start an unstarted HTTP test server to control shutdown timing
	server := httptest.NewUnstartedServer(s.Routes())
	server.Start()
	defer server.Close()

	// Create a context with a short timeout to simulate a shutdown signal
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		server.Close()
		close(done)
	}()

	// Make a request before shutdown to ensure the server is running
	resp, err := http.Post(server.URL+"/users", "application/json",
		bytes.NewBufferString(`{"username":"almaz","email":"almaz@example.com"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	// Wait for shutdown to complete or timeout
	select {
	case <-done:
		mockStore.Close()
		if err := mockKafka.Close(); err != nil {
			t.Fatalf("Kafka close error: %v", err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("server did not shutdown gracefully within the expected time")
	}
}
