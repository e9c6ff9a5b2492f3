package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountSnapshot 帳戶目前餘額與交易紀錄 (新的在前)
type AccountSnapshot struct {
	AccountID string              `json:"account_id"`
	Balance   decimal.Decimal     `json:"balance"`
	Version   uint64              `json:"version"`
	History   []TransactionRecord `json:"history"`
}

// TransactionCommitted 提交成功後對外發佈的事件
type TransactionCommitted struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	Sequence      uint64          `json:"sequence"`
	Kind          TransactionKind `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	Counterparty  string          `json:"counterparty"`
	Balance       decimal.Decimal `json:"balance"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// NewTransactionCommitted 由紀錄與提交後餘額組出事件
func NewTransactionCommitted(rec TransactionRecord, balance decimal.Decimal) TransactionCommitted {
	return TransactionCommitted{
		TransactionID: rec.ID,
		AccountID:     rec.AccountID,
		Sequence:      rec.Sequence,
		Kind:          rec.Kind,
		Amount:        rec.Amount,
		Counterparty:  rec.Counterparty,
		Balance:       balance,
		OccurredAt:    rec.CreatedAt,
	}
}
