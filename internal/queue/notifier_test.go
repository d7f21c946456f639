package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stockpilot/internal/config"
)

type recordingHandler struct {
	mu        sync.Mutex
	deducts   []string
	rollbacks []string
}

func (h *recordingHandler) HandleDeductRequested(_ context.Context, payload StockNotifyPayload) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deducts = append(h.deducts, payload.OrderNo)
	return nil
}

func (h *recordingHandler) HandleRollbackRequested(_ context.Context, payload StockNotifyPayload) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rollbacks = append(h.rollbacks, payload.OrderNo)
	return nil
}

func TestAsynqNotifierFallsBackToLocalWhenQueueDisabled(t *testing.T) {
	client, err := NewClient(&config.QueueConfig{Enabled: false})
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	handler := &recordingHandler{}
	local := NewLocalNotifier(8)
	local.Bind(handler)
	notifier := NewAsynqNotifier(client, local)

	notifier.NotifyDeduct(context.Background(), StockNotifyPayload{OrderNo: "D1"})
	notifier.NotifyRollback(context.Background(), StockNotifyPayload{OrderNo: "R1"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = local.Start(ctx)
	}()
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	_ = local.Stop(stopCtx)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.deducts) != 1 || handler.deducts[0] != "D1" {
		t.Fatalf("deduct requests want [D1] got %v", handler.deducts)
	}
	if len(handler.rollbacks) != 1 || handler.rollbacks[0] != "R1" {
		t.Fatalf("rollback requests want [R1] got %v", handler.rollbacks)
	}
}

func TestClientDisabledRejectsStockTasks(t *testing.T) {
	client, _ := NewClient(nil)
	if client.Enabled() {
		t.Fatalf("nil config should produce disabled client")
	}
	if err := client.EnqueueStockRollbackRequested(StockNotifyPayload{OrderNo: "X"}); err != ErrQueueDisabled {
		t.Fatalf("want ErrQueueDisabled got %v", err)
	}
	if err := client.EnqueueOrderTimeoutCancel(OrderTimeoutCancelPayload{OrderNo: "X"}, time.Minute); err != nil {
		t.Fatalf("timeout cancel on disabled queue should be a no-op, got %v", err)
	}
}
