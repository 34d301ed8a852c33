package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrValidation 呼叫端輸入錯誤 (不重試)
	ErrValidation = errors.New("validation failed")

	// ErrAmountMustBePositive 金額必須為正數
	ErrAmountMustBePositive = fmt.Errorf("%w: amount must be positive", ErrValidation)

	// ErrNegativeInitialBalance 開戶金額不得為負
	ErrNegativeInitialBalance = fmt.Errorf("%w: initial balance must not be negative", ErrValidation)

	// ErrSameAccount 轉出與轉入為同一帳戶
	ErrSameAccount = fmt.Errorf("%w: source and destination must differ", ErrValidation)

	// ErrInvalidCurrency 幣別格式錯誤
	ErrInvalidCurrency = fmt.Errorf("%w: invalid currency", ErrValidation)

	// ErrCurrencyMismatch 兩個帳戶幣別不同
	ErrCurrencyMismatch = fmt.Errorf("%w: currency mismatch", ErrValidation)

	// ErrInvalidOwner 缺少擁有者
	ErrInvalidOwner = fmt.Errorf("%w: owner id is required", ErrValidation)

	// ErrInvalidAccountNumber 帳號格式錯誤
	ErrInvalidAccountNumber = fmt.Errorf("%w: invalid account number", ErrValidation)

	// ErrInvalidAccountType 帳戶類型錯誤
	ErrInvalidAccountType = fmt.Errorf("%w: invalid account type", ErrValidation)

	// ErrAccountHasBalance 尚有餘額不可結清
	ErrAccountHasBalance = fmt.Errorf("%w: account balance must be zero to close", ErrValidation)

	// ErrFieldTooLong 文字欄位超過儲存上限
	ErrFieldTooLong = fmt.Errorf("%w: field too long", ErrValidation)

	// ErrIdempotencyKeyReused 冪等鍵已用在另一筆不同內容的交易
	ErrIdempotencyKeyReused = fmt.Errorf("%w: idempotency key reused with a different request", ErrValidation)

	// ErrNotReversible 只有已完成的轉帳可以沖正
	ErrNotReversible = fmt.Errorf("%w: transaction is not reversible", ErrValidation)

	// ErrNotFound 查無資料
	ErrNotFound = errors.New("not found")

	// ErrAccountNotFound 找不到帳戶
	ErrAccountNotFound = fmt.Errorf("account %w", ErrNotFound)

	// ErrTransactionNotFound 找不到交易
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)

	// ErrAccountNotActive 帳戶非 active
	ErrAccountNotActive = errors.New("account is not active")

	// ErrInsufficientFunds 餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrBalanceOverflow 入帳後超出 int64
	ErrBalanceOverflow = errors.New("balance overflow")

	// ErrDuplicateAccountNumber 帳號重複 (產號碰撞)
	ErrDuplicateAccountNumber = errors.New("duplicate account number")

	// ErrVersionConflict 樂觀鎖版本過期
	ErrVersionConflict = errors.New("version conflict")

	// ErrLockTimeout 等鎖逾時
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrCompensationFailed 扣款後入帳失敗且無法退回
	ErrCompensationFailed = errors.New("compensation failed")

	// ErrIllegalTransition 狀態機不允許的轉換
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrIllegalStatusChange 帳戶狀態不允許的轉換
	ErrIllegalStatusChange = fmt.Errorf("%w: illegal account status change", ErrValidation)

	// ErrTransactionImmutable 交易已離開 pending
	ErrTransactionImmutable = errors.New("transaction is immutable once settled")

	// ErrDuplicateTransaction 同一筆交易重複寫入
	ErrDuplicateTransaction = errors.New("transaction already appended")

	// ErrAlreadyReversed 交易已被沖正
	ErrAlreadyReversed = errors.New("transaction already reversed")

	// ErrJournalWrite 寫入 WAL 失敗
	ErrJournalWrite = errors.New("journal write failed")
)

// CompensationError 代表一筆被撕裂的轉帳：已扣款、入帳失敗、退款也失敗。
// 一定要往上拋並通知維運，不可吞掉。
type CompensationError struct {
	TransactionID uuid.UUID
	AccountID     int64
	Amount        int64
	CreditErr     error
	Cause         error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation failed for transaction %s: re-credit %d to account %d: %v (credit error: %v)",
		e.TransactionID, e.Amount, e.AccountID, e.Cause, e.CreditErr)
}

func (e *CompensationError) Unwrap() []error {
	return []error{ErrCompensationFailed, e.Cause}
}
