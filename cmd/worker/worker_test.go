package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	appkafka "example.com/photofeed/internal/broker"
	"example.com/photofeed/internal/gateway"
	"example.com/photofeed/internal/models"
	"example.com/photofeed/internal/store"
	"github.com/segmentio/kafka-go"
)

// runWorkerOnce processes a single Kafka message for testing.
func runWorkerOnce(ctx context.Context, docs gateway.DocumentStore, kafkaReader appkafka.KafkaReader) error {
	msg, err := kafkaReader.ReadMessage(ctx)
	if err != nil {
		return err
	}
	if len(msg.Value) == 0 {
		return nil
	}
	w := New(docs, kafkaReader, 1, 1)
	w.retryInterval = time.Millisecond
	return w.handle(ctx, msg.Value)
}

// flakyStore fails the first n notification writes.
type flakyStore struct {
	*store.MockStore
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flakyStore) SetDocument(ctx context.Context, collection, id string, fields gateway.Fields) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.fails
	f.mu.Unlock()
	if fail {
		return gateway.ErrWrite
	}
	return f.MockStore.SetDocument(ctx, collection, id, fields)
}

func eventMessage(t *testing.T, e appkafka.Event) kafka.Message {
	t.Helper()
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return kafka.Message{Key: []byte(e.Kind), Value: data}
}

func storedNotification(t *testing.T, st *store.MockStore, recipient, id string) models.Notification {
	t.Helper()
	fields, err := st.GetDocument(context.Background(), models.NotificationsPath(recipient), id)
	if err != nil {
		t.Fatalf("notification %s not stored: %v", id, err)
	}
	n, err := models.NotificationFromFields(fields)
	if err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	return n
}

// ---------- Positive tests ----------

func TestWorker_StoresLikeNotification(t *testing.T) {
	mockStore := store.NewMock()
	e := appkafka.NewEvent(models.NotificationLike, "alice", "bob", "p1")

	mockKafka := &appkafka.MockKafka{
		ReadMessages: []kafka.Message{eventMessage(t, e)},
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := runWorkerOnce(ctx, mockStore, mockKafka); err != nil {
		t.Fatalf("worker failed: %v", err)
	}

	n := storedNotification(t, mockStore, "bob", e.ID)
	if n.Kind != models.NotificationLike || n.Actor != "alice" || n.PostID != "p1" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if n.IsFollowingBack != nil {
		t.Fatalf("like notification should not carry follow-back state")
	}
}

func TestWorker_FollowNotificationFollowBack(t *testing.T) {
	mockStore := store.NewMock()
	ctx := context.Background()
	if err := mockStore.SetDocument(ctx, models.FollowingPath("bob"), "alice", gateway.Fields{"valid": true}); err != nil {
		t.Fatal(err)
	}

	followed := appkafka.NewEvent(models.NotificationFollow, "alice", "bob", "")
	notFollowed := appkafka.NewEvent(models.NotificationFollow, "carol", "bob", "")
	mockKafka := &appkafka.MockKafka{
		ReadMessages: []kafka.Message{eventMessage(t, followed), eventMessage(t, notFollowed)},
	}

	for i := 0; i < 2; i++ {
		if err := runWorkerOnce(ctx, mockStore, mockKafka); err != nil {
			t.Fatalf("worker failed: %v", err)
		}
	}

	n := storedNotification(t, mockStore, "bob", followed.ID)
	if n.IsFollowingBack == nil || !*n.IsFollowingBack {
		t.Fatalf("expected bob to follow alice back: %+v", n)
	}
	n = storedNotification(t, mockStore, "bob", notFollowed.ID)
	if n.IsFollowingBack == nil || *n.IsFollowingBack {
		t.Fatalf("expected bob not to follow carol back: %+v", n)
	}
}

func TestWorker_PublisherLoopback(t *testing.T) {
	mockStore := store.NewMock()
	mockKafka := &appkafka.MockKafka{Loopback: true}
	pub := appkafka.NewPublisher(mockKafka)

	e := appkafka.NewEvent(models.NotificationComment, "alice", "bob", "p1")
	if err := pub.Publish(context.Background(), e); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := runWorkerOnce(context.Background(), mockStore, mockKafka); err != nil {
		t.Fatalf("worker failed: %v", err)
	}
	if n := storedNotification(t, mockStore, "bob", e.ID); n.Kind != models.NotificationComment {
		t.Fatalf("unexpected notification: %+v", n)
	}
}

func TestWorker_SelfInteractionIgnored(t *testing.T) {
	mockStore := store.NewMock()
	e := appkafka.NewEvent(models.NotificationLike, "bob", "bob", "p1")
	mockKafka := &appkafka.MockKafka{ReadMessages: []kafka.Message{eventMessage(t, e)}}

	if err := runWorkerOnce(context.Background(), mockStore, mockKafka); err != nil {
		t.Fatalf("worker failed: %v", err)
	}
	if len(mockStore.Writes) != 0 {
		t.Fatalf("expected no writes, got %+v", mockStore.Writes)
	}
}

// ---------- Negative tests ----------

// Simulate Kafka read error
func TestWorker_KafkaReadError(t *testing.T) {
	mockStore := store.NewMock()
	mockKafka := &appkafka.MockKafkaFail{}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := runWorkerOnce(ctx, mockStore, mockKafka); err == nil {
		t.Fatalf("expected error from Kafka read")
	}
}

func TestWorker_InvalidEventJSON(t *testing.T) {
	mockStore := store.NewMock()
	mockKafka := &appkafka.MockKafka{
		ReadMessages: []kafka.Message{{Value: []byte("{invalid-json}")}},
	}

	err := runWorkerOnce(context.Background(), mockStore, mockKafka)
	if !errors.Is(err, gateway.ErrMalformedData) {
		t.Fatalf("expected malformed data error, got %v", err)
	}
}

func TestWorker_UnknownEventKind(t *testing.T) {
	mockStore := store.NewMock()
	e := appkafka.NewEvent("poke", "alice", "bob", "")
	mockKafka := &appkafka.MockKafka{ReadMessages: []kafka.Message{eventMessage(t, e)}}

	if err := runWorkerOnce(context.Background(), mockStore, mockKafka); !errors.Is(err, gateway.ErrMalformedData) {
		t.Fatalf("expected malformed data error, got %v", err)
	}
}

func TestWorker_StoreWriteFail(t *testing.T) {
	mockStore := &store.MockStoreFail{}
	e := appkafka.NewEvent(models.NotificationLike, "alice", "bob", "p1")
	mockKafka := &appkafka.MockKafka{ReadMessages: []kafka.Message{eventMessage(t, e)}}

	err := runWorkerOnce(context.Background(), mockStore, mockKafka)
	if !errors.Is(err, gateway.ErrWrite) {
		t.Fatalf("expected write error, got %v", err)
	}
}

func TestWorker_TransientWriteFailureRetried(t *testing.T) {
	flaky := &flakyStore{MockStore: store.NewMock(), fails: 2}
	e := appkafka.NewEvent(models.NotificationComment, "alice", "bob", "p1")
	mockKafka := &appkafka.MockKafka{ReadMessages: []kafka.Message{eventMessage(t, e)}}

	if err := runWorkerOnce(context.Background(), flaky, mockKafka); err != nil {
		t.Fatalf("worker failed after retries: %v", err)
	}
	if flaky.calls != 3 {
		t.Fatalf("expected 3 write attempts, got %d", flaky.calls)
	}
	storedNotification(t, flaky.MockStore, "bob", e.ID)
}

func TestWorker_FollowBackLookupFailStillStores(t *testing.T) {
	mockStore := store.NewMock()
	mockStore.FailOn(store.OpGet, models.FollowingPath("bob"))
	e := appkafka.NewEvent(models.NotificationFollow, "alice", "bob", "")
	mockKafka := &appkafka.MockKafka{ReadMessages: []kafka.Message{eventMessage(t, e)}}

	if err := runWorkerOnce(context.Background(), mockStore, mockKafka); err != nil {
		t.Fatalf("worker failed: %v", err)
	}
	if n := storedNotification(t, mockStore, "bob", e.ID); n.IsFollowingBack != nil {
		t.Fatalf("follow-back state should be unknown: %+v", n)
	}
}

func TestWorker_EmptyKafkaMessage(t *testing.T) {
	mockStore := store.NewMock()
	mockKafka := &appkafka.MockKafka{
		ReadMessages: []kafka.Message{{Value: nil}},
	}

	if err := runWorkerOnce(context.Background(), mockStore, mockKafka); err != nil {
		t.Fatalf("expected no error for empty Kafka message, got: %v", err)
	}
}
