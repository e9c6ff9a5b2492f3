package usecase

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// Commit 一次條件提交的內容
//
// 只有當儲存層中帳戶的 Version 仍等於 ExpectedVersion 時，才會在同一個原子單位內：
// 寫入 NewBalance、Version+1、追加 Record。
type Commit struct {
	AccountID       string
	ExpectedVersion uint64
	NewBalance      decimal.Decimal
	Record          domain.TransactionRecord
}

// AtomicLedgerStore 是帳本核心唯一依賴的儲存能力
//
// 帳戶餘額文件只能透過 ConditionalCommit 修改，沒有其他寫入路徑。
type AtomicLedgerStore interface {
	// Read 讀取帳戶餘額與指紋；不存在回傳 domain.ErrAccountNotFound
	Read(ctx context.Context, accountID string) (domain.Account, error)
	// CreateIfAbsent 帳戶不存在才建立，回傳是否真的建立
	CreateIfAbsent(ctx context.Context, accountID string, initialBalance decimal.Decimal) (bool, error)
	// ConditionalCommit 指紋不符回傳 domain.ErrFingerprintMismatch，且不留下任何變更
	ConditionalCommit(ctx context.Context, commit Commit) error
	// ListByAccount 依提交順序由新到舊列出紀錄，limit <= 0 表示不限
	ListByAccount(ctx context.Context, accountID string, limit int) ([]domain.TransactionRecord, error)
}

// EventPublisher 提交成功後的事件出口
type EventPublisher interface {
	Publish(ctx context.Context, event domain.TransactionCommitted) error
}
