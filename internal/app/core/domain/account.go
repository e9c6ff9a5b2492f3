package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Account 帳戶餘額文件
//
// Version 是儲存層給的指紋 (fingerprint)：建立時為 0，每提交一筆交易紀錄 +1，
// 所以 Version 同時等於已提交紀錄數，也是最新一筆紀錄的 Sequence。
type Account struct {
	ID        string
	Balance   decimal.Decimal
	Version   uint64
	UpdatedAt time.Time
}

// NewAccount 建立餘額為 0 的新帳戶
func NewAccount(id string, now time.Time) *Account {
	return &Account{
		ID:        id,
		Balance:   decimal.Zero,
		Version:   0,
		UpdatedAt: now,
	}
}

// Credit 存入，回傳新餘額 (不修改 a)；新餘額不得超過 MaxMoney
func (a Account) Credit(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return a.Balance, ErrInvalidAmount
	}
	next := a.Balance.Add(amount)
	if next.GreaterThan(MaxMoney) {
		return a.Balance, fmt.Errorf("%w: balance would exceed %s", ErrInvalidAmount, FormatMoney(MaxMoney))
	}
	return next, nil
}

// Debit 扣款，回傳新餘額 (不修改 a)；餘額不得為負
func (a Account) Debit(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return a.Balance, ErrInvalidAmount
	}
	if a.Balance.LessThan(amount) {
		return a.Balance, ErrInsufficientFunds
	}
	return a.Balance.Sub(amount), nil
}
