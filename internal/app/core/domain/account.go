package domain

import (
	"fmt"
	"math"
	"strings"
)

// AccountStatus 帳戶狀態
type AccountStatus uint8

const (
	AccountStatusActive AccountStatus = iota + 1
	AccountStatusBlocked
	AccountStatusClosed
)

func (s AccountStatus) String() string {
	switch s {
	case AccountStatusActive:
		return "active"
	case AccountStatusBlocked:
		return "blocked"
	case AccountStatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("AccountStatus(%d)", uint8(s))
	}
}

// ParseAccountStatus 將字串轉為 AccountStatus
func ParseAccountStatus(s string) (AccountStatus, error) {
	switch strings.ToLower(s) {
	case "active":
		return AccountStatusActive, nil
	case "blocked":
		return AccountStatusBlocked, nil
	case "closed":
		return AccountStatusClosed, nil
	}
	return 0, fmt.Errorf("%w: unknown account status %q", ErrValidation, s)
}

// CanTransition 回傳是否允許從 s 轉到 next
// active <-> blocked, active|blocked -> closed, closed 為終態
func (s AccountStatus) CanTransition(next AccountStatus) bool {
	switch s {
	case AccountStatusActive:
		return next == AccountStatusBlocked || next == AccountStatusClosed
	case AccountStatusBlocked:
		return next == AccountStatusActive || next == AccountStatusClosed
	default:
		return false
	}
}

// AccountType 帳戶類型，決定帳號前綴
type AccountType uint8

const (
	AccountTypeChecking AccountType = iota + 1
	AccountTypeSavings
)

// AccountTypes 所有帳戶類型
var AccountTypes = []AccountType{AccountTypeChecking, AccountTypeSavings}

func (t AccountType) String() string {
	switch t {
	case AccountTypeChecking:
		return "checking"
	case AccountTypeSavings:
		return "savings"
	default:
		return fmt.Sprintf("AccountType(%d)", uint8(t))
	}
}

// ParseAccountType 將字串轉為 AccountType，空字串視為 checking
func ParseAccountType(s string) (AccountType, error) {
	switch strings.ToLower(s) {
	case "", "checking":
		return AccountTypeChecking, nil
	case "savings":
		return AccountTypeSavings, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAccountType, s)
}

// Valid 是否為已知類型
func (t AccountType) Valid() bool {
	return t == AccountTypeChecking || t == AccountTypeSavings
}

// AccountNumberLength 帳號固定長度
const AccountNumberLength = 20

// ValidAccountNumber 檢查帳號是否為固定長度的純數字
func ValidAccountNumber(number string) bool {
	if len(number) != AccountNumberLength {
		return false
	}
	for i := 0; i < len(number); i++ {
		if number[i] < '0' || number[i] > '9' {
			return false
		}
	}
	return true
}

// Account 帳戶，Balance 以最小貨幣單位 (分) 儲存
type Account struct {
	ID        int64
	Number    string
	OwnerID   string
	Balance   int64
	Version   uint64
	CreatedAt int64
	UpdatedAt int64
	Currency  Currency
	Type      AccountType
	Status    AccountStatus
}

// IsActive 是否可以收付款
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// ApplyDelta 套用餘額變動 (正數入帳、負數扣款)，回傳新餘額。
// 不改動 Version，版本由 repository 在 CAS 寫入時遞增。
func (a *Account) ApplyDelta(delta int64) (int64, error) {
	if delta > 0 && a.Balance > math.MaxInt64-delta {
		return a.Balance, ErrBalanceOverflow
	}
	next := a.Balance + delta
	if next < 0 {
		return a.Balance, ErrInsufficientFunds
	}
	a.Balance = next
	return next, nil
}

// Clone 回傳值拷貝，避免外部改寫 repository 內部狀態
func (a *Account) Clone() *Account {
	cp := *a
	return &cp
}
