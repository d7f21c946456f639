package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/stockpilot/internal/logger"
)

// ErrQueueDisabled 队列未启用
var ErrQueueDisabled = errors.New("queue disabled")

// StockRequestHandler 处理库存扣减/回滚请求（由库存服务实现）
type StockRequestHandler interface {
	HandleDeductRequested(ctx context.Context, payload StockNotifyPayload) error
	HandleRollbackRequested(ctx context.Context, payload StockNotifyPayload) error
}

// Notifier 库存异步通知通道，失败不影响同步主流程
type Notifier interface {
	NotifyDeduct(ctx context.Context, payload StockNotifyPayload)
	NotifyRollback(ctx context.Context, payload StockNotifyPayload)
}

// AsynqNotifier 优先投递 asynq，不可用时退回进程内通道
type AsynqNotifier struct {
	client   *Client
	fallback *LocalNotifier
}

// NewAsynqNotifier 创建通知器
func NewAsynqNotifier(client *Client, fallback *LocalNotifier) *AsynqNotifier {
	return &AsynqNotifier{client: client, fallback: fallback}
}

// NotifyDeduct 投递扣减请求
func (n *AsynqNotifier) NotifyDeduct(ctx context.Context, payload StockNotifyPayload) {
	if n.client.Enabled() {
		err := n.client.EnqueueStockDeductRequested(payload)
		if err == nil {
			return
		}
		logger.Warnw("stock_notify_deduct_enqueue_failed", "order_no", payload.OrderNo, "error", err)
	}
	if n.fallback != nil {
		n.fallback.NotifyDeduct(ctx, payload)
	}
}

// NotifyRollback 投递回滚请求
func (n *AsynqNotifier) NotifyRollback(ctx context.Context, payload StockNotifyPayload) {
	if n.client.Enabled() {
		err := n.client.EnqueueStockRollbackRequested(payload)
		if err == nil {
			return
		}
		logger.Warnw("stock_notify_rollback_enqueue_failed", "order_no", payload.OrderNo, "error", err)
	}
	if n.fallback != nil {
		n.fallback.NotifyRollback(ctx, payload)
	}
}

type localMessage struct {
	rollback bool
	payload  StockNotifyPayload
}

// LocalNotifier 进程内缓冲通道 + 单消费者
type LocalNotifier struct {
	inbox   chan localMessage
	handler StockRequestHandler
	done    chan struct{}
	once    sync.Once
}

// NewLocalNotifier 创建进程内通知器
func NewLocalNotifier(buffer int) *LocalNotifier {
	if buffer <= 0 {
		buffer = 1024
	}
	return &LocalNotifier{
		inbox: make(chan localMessage, buffer),
		done:  make(chan struct{}),
	}
}

// Bind 绑定处理器，需在 Start 之前调用
func (n *LocalNotifier) Bind(handler StockRequestHandler) {
	n.handler = handler
}

// Name 服务名称
func (n *LocalNotifier) Name() string {
	return "local-notifier"
}

// Start 消费通道直到 ctx 结束，退出前处理剩余消息
func (n *LocalNotifier) Start(ctx context.Context) error {
	defer n.once.Do(func() { close(n.done) })
	for {
		select {
		case <-ctx.Done():
			n.drain()
			return nil
		case msg := <-n.inbox:
			n.dispatch(msg)
		}
	}
}

// Stop 等待消费者退出
func (n *LocalNotifier) Stop(ctx context.Context) error {
	select {
	case <-n.done:
	case <-ctx.Done():
	}
	return nil
}

// NotifyDeduct 投递扣减请求
func (n *LocalNotifier) NotifyDeduct(_ context.Context, payload StockNotifyPayload) {
	n.push(localMessage{payload: payload})
}

// NotifyRollback 投递回滚请求
func (n *LocalNotifier) NotifyRollback(_ context.Context, payload StockNotifyPayload) {
	n.push(localMessage{rollback: true, payload: payload})
}

func (n *LocalNotifier) push(msg localMessage) {
	select {
	case n.inbox <- msg:
	default:
		logger.Warnw("stock_notify_local_dropped",
			"order_no", msg.payload.OrderNo,
			"rollback", msg.rollback,
		)
	}
}

func (n *LocalNotifier) drain() {
	for {
		select {
		case msg := <-n.inbox:
			n.dispatch(msg)
		default:
			return
		}
	}
}

func (n *LocalNotifier) dispatch(msg localMessage) {
	if n.handler == nil {
		logger.Warnw("stock_notify_local_no_handler", "order_no", msg.payload.OrderNo)
		return
	}
	ctx := context.Background()
	var err error
	if msg.rollback {
		err = n.handler.HandleRollbackRequested(ctx, msg.payload)
	} else {
		err = n.handler.HandleDeductRequested(ctx, msg.payload)
	}
	if err != nil {
		logger.Warnw("stock_notify_local_handle_failed",
			"order_no", msg.payload.OrderNo,
			"rollback", msg.rollback,
			"error", err,
		)
	}
}
