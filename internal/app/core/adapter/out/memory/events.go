package memory

import (
	"context"
	"sync"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// EventRecorder 把事件留在記憶體，供本機開發與測試使用
type EventRecorder struct {
	mu     sync.Mutex
	events []domain.TransactionCommitted
	err    error
}

func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// FailWith 之後的 Publish 都回傳 err
func (r *EventRecorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *EventRecorder) Publish(ctx context.Context, event domain.TransactionCommitted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

// Events 回傳目前收到的事件 (拷貝)
func (r *EventRecorder) Events() []domain.TransactionCommitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.TransactionCommitted, len(r.events))
	copy(out, r.events)
	return out
}

var _ usecase.EventPublisher = (*EventRecorder)(nil)
