package events

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/stockpilot/internal/config"
	"github.com/stockpilot/internal/logger"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher 通过缓冲 inbox 异步写入 Kafka
type KafkaPublisher struct {
	writer    messageWriter
	inbox     chan kafka.Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewKafkaPublisher 创建 Kafka 事件发布器
func NewKafkaPublisher(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("kafka disabled")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers empty")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaPublisher(writer, cfg.Buffer), nil
}

func newKafkaPublisher(writer messageWriter, buffer int) *KafkaPublisher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &KafkaPublisher{
		writer: writer,
		inbox:  make(chan kafka.Message, buffer),
		done:   make(chan struct{}),
	}
}

// Name 服务名称
func (p *KafkaPublisher) Name() string {
	return "kafka-publisher"
}

// Start 消费 inbox 直到 ctx 结束，退出前清空剩余消息
func (p *KafkaPublisher) Start(ctx context.Context) error {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return nil
		case msg := <-p.inbox:
			p.write(msg)
		}
	}
}

// Stop 等待 inbox 清空并关闭 writer
func (p *KafkaPublisher) Stop(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		select {
		case <-p.done:
		case <-ctx.Done():
		}
		err = p.writer.Close()
	})
	return err
}

// PublishStockChanged 投递事件，inbox 满时丢弃并告警
func (p *KafkaPublisher) PublishStockChanged(_ context.Context, event StockChanged) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Warnw("stock_event_marshal_failed", "product_id", event.ProductID, "error", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(event.ProductID), 10)),
		Value: payload,
		Time:  event.At,
	}
	select {
	case p.inbox <- msg:
	default:
		logger.Warnw("stock_event_dropped_inbox_full",
			"product_id", event.ProductID,
			"order_no", event.OrderNo,
			"operation", event.Operation,
		)
	}
}

func (p *KafkaPublisher) drain() {
	for {
		select {
		case msg := <-p.inbox:
			p.write(msg)
		default:
			return
		}
	}
}

func (p *KafkaPublisher) write(msg kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logger.Warnw("stock_event_publish_failed", "key", string(msg.Key), "error", err)
	}
}
