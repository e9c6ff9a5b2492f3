package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// DefaultTopic 提交事件預設 topic
const DefaultTopic = "transaction_committed"

var (
	// ErrQueueFull 輸送帶已滿，事件被丟棄
	ErrQueueFull = errors.New("kafka publisher: queue full")
	// ErrClosed Publisher 已關閉
	ErrClosed = errors.New("kafka publisher: closed")
)

// Config kafka 發佈設定
type Config struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BufferSize   int           `yaml:"buffer_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// messageWriter 是 *kafka.Writer 用到的部分，方便測試替換
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher 非同步的事件發佈器
//
// Publish 只把事件放上輸送帶 (channel) 立即返回，
// 由單一 goroutine 依序寫入 Kafka；同一帳戶以 account id 作為 key，分到同一個 partition 保持順序。
type Publisher struct {
	writer       messageWriter
	queue        chan kafka.Message
	stop         chan struct{}
	done         chan struct{}
	writeTimeout time.Duration
	logger       *zap.Logger

	// mu 讓 Publish 的放入與 Close 互斥：Close 之後不會再有事件進入輸送帶
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewPublisher 建立並啟動 Kafka Publisher
func NewPublisher(cfg Config, logger *zap.Logger) *Publisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return newPublisher(writer, cfg.BufferSize, cfg.WriteTimeout, logger)
}

func newPublisher(writer messageWriter, bufferSize int, writeTimeout time.Duration, logger *zap.Logger) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{
		writer:       writer,
		queue:        make(chan kafka.Message, bufferSize),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
	go p.run()
	return p
}

// Publish 把事件放上輸送帶，不等待 Kafka 回應
func (p *Publisher) Publish(ctx context.Context, event domain.TransactionCommitted) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(event.AccountID),
		Value: data,
		Time:  event.OccurredAt,
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			// 收到關閉信號，把剩下的事件處理完
			p.drain()
			return
		case msg := <-p.queue:
			p.write(msg)
		}
	}
}

func (p *Publisher) drain() {
	for {
		select {
		case msg := <-p.queue:
			p.write(msg)
		default:
			return
		}
	}
}

func (p *Publisher) write(msg kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("kafka write failed",
			zap.ByteString("key", msg.Key),
			zap.Error(err),
		)
	}
}

// Close 停止接收事件，送完輸送帶上剩下的事件後關閉 writer
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		close(p.stop)
		<-p.done
		err = p.writer.Close()
	})
	return err
}

var _ usecase.EventPublisher = (*Publisher)(nil)
