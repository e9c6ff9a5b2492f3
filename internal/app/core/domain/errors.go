package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount 金額必須為正數，且最多兩位小數
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidRecipient 轉帳收款人不可為空
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrInsufficientFunds 餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrContention 條件提交在重試上限內仍輸給其他交易
	ErrContention = errors.New("contention: too many concurrent updates")

	// ErrStoreUnavailable 儲存層無回應或回傳非預期錯誤
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrAccountNotFound 找不到帳戶
	ErrAccountNotFound = errors.New("account not found")

	// ErrFingerprintMismatch 帳戶版本在讀取之後已被其他提交改變
	ErrFingerprintMismatch = errors.New("fingerprint mismatch")

	// ErrInvalidAccountID 帳戶 ID 不可為空
	ErrInvalidAccountID = errors.New("invalid account id")

	// ErrLedgerCorrupted 餘額與交易紀錄加總不一致
	ErrLedgerCorrupted = errors.New("ledger corrupted")

	// ErrWALWriteFailed 寫入 WAL 失敗
	ErrWALWriteFailed = errors.New("wal write failed")
)

// OperationError 描述一次帳務操作的失敗結果。
// Err 一定是上面其中一個 sentinel (可能再包一層底層錯誤)，呼叫端用 errors.Is 判斷。
type OperationError struct {
	Op        string
	AccountID string
	State     OperationState
	Attempts  int
	Err       error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s: %s after %d attempt(s): %v", e.Op, e.AccountID, e.State, e.Attempts, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// IsRetryable 只有 Contention 允許呼叫端自行重送
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}
