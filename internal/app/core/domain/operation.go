package domain

import "github.com/shopspring/decimal"

// OperationState 單筆帳務操作的狀態機
//
//	Pending → Validating → Committing → Committed
//	Pending → Validating → Rejected
//	Committing → Retrying → Committing ...
//	Committing → Aborted
type OperationState uint8

const (
	OperationPending OperationState = iota
	OperationValidating
	OperationCommitting
	OperationRetrying
	OperationCommitted
	OperationRejected
	OperationAborted
)

var operationStateNames = [...]string{
	OperationPending:    "pending",
	OperationValidating: "validating",
	OperationCommitting: "committing",
	OperationRetrying:   "retrying",
	OperationCommitted:  "committed",
	OperationRejected:   "rejected",
	OperationAborted:    "aborted",
}

func (s OperationState) String() string {
	if int(s) < len(operationStateNames) {
		return operationStateNames[s]
	}
	return "unknown"
}

// Terminal 是否為終止狀態
func (s OperationState) Terminal() bool {
	return s == OperationCommitted || s == OperationRejected || s == OperationAborted
}

// OperationResult 成功提交後回傳給呼叫端的結果
type OperationResult struct {
	Balance  decimal.Decimal
	Record   TransactionRecord
	Attempts int
	State    OperationState
}
