package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestKafkaPublisherFlushesOnShutdown(t *testing.T) {
	writer := &recordingWriter{}
	publisher := newKafkaPublisher(writer, 16)

	for i := 0; i < 5; i++ {
		publisher.PublishStockChanged(context.Background(), StockChanged{
			ProductID: 42,
			OrderNo:   "O1",
			Operation: "LOCK",
			Before:    10,
			After:     9,
			Change:    -1,
			At:        time.Now(),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = publisher.Start(ctx)
	}()
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := publisher.Stop(stopCtx); err != nil {
		t.Fatalf("stop publisher failed: %v", err)
	}

	writer.mu.Lock()
	defer writer.mu.Unlock()
	if len(writer.messages) != 5 {
		t.Fatalf("flushed messages want 5 got %d", len(writer.messages))
	}
	if !writer.closed {
		t.Fatalf("writer should be closed")
	}
	if string(writer.messages[0].Key) != "42" {
		t.Fatalf("message key want product id 42 got %s", string(writer.messages[0].Key))
	}
	var event StockChanged
	if err := json.Unmarshal(writer.messages[0].Value, &event); err != nil {
		t.Fatalf("decode event failed: %v", err)
	}
	if event.Operation != "LOCK" || event.Change != -1 {
		t.Fatalf("unexpected event payload: %+v", event)
	}
}

func TestKafkaPublisherDropsWhenInboxFull(t *testing.T) {
	writer := &recordingWriter{}
	publisher := newKafkaPublisher(writer, 1)

	publisher.PublishStockChanged(context.Background(), StockChanged{ProductID: 1})
	publisher.PublishStockChanged(context.Background(), StockChanged{ProductID: 2})

	if got := len(publisher.inbox); got != 1 {
		t.Fatalf("inbox size want 1 got %d", got)
	}
}
