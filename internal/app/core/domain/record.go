package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind 交易類型
type TransactionKind uint8

const (
	// 存款
	TransactionKindDeposit TransactionKind = 1
	// 提款
	TransactionKindWithdrawal TransactionKind = 2
	// 轉帳 (只記付款方這一邊)
	TransactionKindTransfer TransactionKind = 3
)

const (
	// WithdrawalCounterparty 提款紀錄固定的對手方
	WithdrawalCounterparty = "ATM"
	// DepositCounterparty 存款未指定來源時的對手方
	DepositCounterparty = "Deposit"
)

func (k TransactionKind) String() string {
	switch k {
	case TransactionKindDeposit:
		return "Deposit"
	case TransactionKindWithdrawal:
		return "Withdrawal"
	case TransactionKindTransfer:
		return "Transfer"
	default:
		return fmt.Sprintf("TransactionKind(%d)", uint8(k))
	}
}

// ParseTransactionKind 由名稱還原交易類型
func ParseTransactionKind(s string) (TransactionKind, error) {
	switch s {
	case "Deposit":
		return TransactionKindDeposit, nil
	case "Withdrawal":
		return TransactionKindWithdrawal, nil
	case "Transfer":
		return TransactionKindTransfer, nil
	}
	return 0, fmt.Errorf("unknown transaction kind %q", s)
}

func (k TransactionKind) MarshalText() ([]byte, error) {
	if _, err := ParseTransactionKind(k.String()); err != nil {
		return nil, err
	}
	return []byte(k.String()), nil
}

func (k *TransactionKind) UnmarshalText(b []byte) error {
	v, err := ParseTransactionKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// TransactionRecord 已提交的交易紀錄，提交後不可修改
//
// Amount 帶正負號：付出為負、存入為正。
// Sequence 是該帳戶的提交順序 (1, 2, 3...)，排序以它為準，不看 CreatedAt。
type TransactionRecord struct {
	ID           uuid.UUID       `json:"id"`
	AccountID    string          `json:"account_id"`
	Sequence     uint64          `json:"sequence"`
	Kind         TransactionKind `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	Counterparty string          `json:"counterparty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Delta 此紀錄對餘額的影響
func (r TransactionRecord) Delta() decimal.Decimal {
	return r.Amount
}

// SumAmounts 加總紀錄金額；初始餘額 0 + SumAmounts(history) 必須等於餘額
func SumAmounts(records []TransactionRecord) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range records {
		sum = sum.Add(r.Delta())
	}
	return sum
}
