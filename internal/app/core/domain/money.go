package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CurrencyPlaces 金額精度：小數點後 2 位
const CurrencyPlaces int32 = 2

// MaxMoney 金額與餘額上限，對應資料庫欄位 DECIMAL(20,2)
var MaxMoney = decimal.RequireFromString("999999999999999999.99")

// ValidateAmount 檢查交易金額
//
// 規則: 必須 > 0、不超過 MaxMoney，且以數值而言最多兩位小數 (12.50 與 12.500 視為相同，12.501 不合法)
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount.String())
	}
	if amount.GreaterThan(MaxMoney) {
		return fmt.Errorf("%w: %s exceeds %s", ErrInvalidAmount, amount.String(), FormatMoney(MaxMoney))
	}
	if !amount.Equal(amount.Truncate(CurrencyPlaces)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount.String(), CurrencyPlaces)
	}
	return nil
}

// ParseAmount 解析使用者輸入的金額字串並檢查
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// FormatMoney 固定輸出兩位小數，例如 87.5 → "87.50"
func FormatMoney(amount decimal.Decimal) string {
	return amount.StringFixed(CurrencyPlaces)
}
