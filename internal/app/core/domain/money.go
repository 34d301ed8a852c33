package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Currency ISO-4217 幣別代碼
type Currency string

const (
	RUB Currency = "RUB"
	USD Currency = "USD"
	EUR Currency = "EUR"
	JPY Currency = "JPY"
	TZS Currency = "TZS"
)

// minorUnits 每個幣別的小數位數
var minorUnits = map[Currency]int32{
	RUB: 2,
	USD: 2,
	EUR: 2,
	JPY: 0,
	TZS: 2,
}

// Validate 只接受已知幣別
func (c Currency) Validate() error {
	if _, ok := minorUnits[c]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, string(c))
	}
	return nil
}

// Exponent 小數位數
func (c Currency) Exponent() int32 {
	return minorUnits[c]
}

// FormatAmount 將最小單位整數轉成顯示用字串，例如 USD 250075 -> "2500.75"
func FormatAmount(amount int64, c Currency) string {
	exp := c.Exponent()
	return decimal.New(amount, -exp).StringFixed(exp)
}

// ParseAmount 將顯示用字串轉為最小單位整數；小數位數超過幣別精度視為錯誤，不做四捨五入
func ParseAmount(s string, c Currency) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", ErrValidation, s, err)
	}
	minor := d.Shift(c.Exponent())
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %q has more than %d decimal places", ErrValidation, s, c.Exponent())
	}
	if minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || minor.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("%w: amount %q out of range", ErrValidation, s)
	}
	return minor.IntPart(), nil
}
