package domain

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ExternalAccount From 為 0 代表外部入金
const ExternalAccount int64 = 0

// 文字欄位上限 (字元數)，與 sqlstore 的欄位長度一致
const (
	MaxDescriptionLength    = 255
	MaxIdempotencyKeyLength = 128
	MaxFailureReasonLength  = 255
)

// TransactionKind 交易類型
// 為了節省記憶體，使用 uint8
type TransactionKind uint8

const (
	// 轉帳
	TransactionKindTransfer TransactionKind = 1
	// 外部入金
	TransactionKindDeposit TransactionKind = 2
	// 沖正 (反向轉帳)
	TransactionKindReversal TransactionKind = 3
)

func (k TransactionKind) String() string {
	switch k {
	case TransactionKindTransfer:
		return "transfer"
	case TransactionKindDeposit:
		return "deposit"
	case TransactionKindReversal:
		return "reversal"
	default:
		return fmt.Sprintf("TransactionKind(%d)", uint8(k))
	}
}

// TransactionStatus 交易狀態
type TransactionStatus uint8

const (
	TransactionStatusPending TransactionStatus = iota + 1
	TransactionStatusCompleted
	TransactionStatusFailed
	TransactionStatusReversed
)

func (s TransactionStatus) String() string {
	switch s {
	case TransactionStatusPending:
		return "pending"
	case TransactionStatusCompleted:
		return "completed"
	case TransactionStatusFailed:
		return "failed"
	case TransactionStatusReversed:
		return "reversed"
	default:
		return fmt.Sprintf("TransactionStatus(%d)", uint8(s))
	}
}

// Direction 從某個帳戶看出去的方向
type Direction uint8

const (
	DirectionNone Direction = iota
	DirectionDebit
	DirectionCredit
)

func (d Direction) String() string {
	switch d {
	case DirectionDebit:
		return "debit"
	case DirectionCredit:
		return "credit"
	default:
		return "none"
	}
}

// Transaction 交易 注意欄位排序以避免 Padding
type Transaction struct {
	// Sequence: 寫入 log 時分配的順序號
	Sequence uint64
	// From, To: 帳戶 ID，From 為 0 代表外部入金
	From int64
	To   int64
	// Amount: 金額 (最小貨幣單位)
	Amount int64
	// CreatedAt: 寫入 log 的時間 (UnixNano)
	CreatedAt int64
	// ID: 內部追蹤號
	ID uuid.UUID
	// ReversalOf: 沖正的原交易，零值代表沒有
	ReversalOf uuid.UUID
	// Reference: 對外交易序號
	Reference      string
	ToNumber       string
	Description    string
	FailureReason  string
	IdempotencyKey string
	Currency       Currency
	Kind           TransactionKind
	Status         TransactionStatus
}

// NewTransaction 建立一筆 pending 交易
func NewTransaction(kind TransactionKind, reference string, from, to int64, amount int64) *Transaction {
	return &Transaction{
		ID:        uuid.New(),
		Reference: reference,
		Kind:      kind,
		From:      from,
		To:        to,
		Amount:    amount,
		Status:    TransactionStatusPending,
	}
}

// Validate 檢查金額與帳戶
func (t *Transaction) Validate() error {
	if t.Amount <= 0 {
		return ErrAmountMustBePositive
	}
	if t.From == t.To {
		return ErrSameAccount
	}
	return nil
}

// ValidateText 檢查呼叫端帶入的文字欄位長度，必須在動錢之前呼叫
func (t *Transaction) ValidateText() error {
	if n := utf8.RuneCountInString(t.Description); n > MaxDescriptionLength {
		return fmt.Errorf("%w: description has %d characters, max %d", ErrFieldTooLong, n, MaxDescriptionLength)
	}
	if n := utf8.RuneCountInString(t.IdempotencyKey); n > MaxIdempotencyKeyLength {
		return fmt.Errorf("%w: idempotency key has %d characters, max %d", ErrFieldTooLong, n, MaxIdempotencyKeyLength)
	}
	return nil
}

// ClipText 截到 n 個字元
func ClipText(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// SameRequest 冪等重送時比對：類型與搬動的對象、金額都要相同
// t 尚未解析，轉帳只能用 From 與 ToNumber 比對
func (t *Transaction) SameRequest(prior *Transaction) bool {
	if t.Kind != prior.Kind {
		return false
	}
	switch t.Kind {
	case TransactionKindTransfer:
		return t.From == prior.From && t.ToNumber == prior.ToNumber && t.Amount == prior.Amount
	case TransactionKindDeposit:
		return t.To == prior.To && t.Amount == prior.Amount
	case TransactionKindReversal:
		return t.ReversalOf == prior.ReversalOf
	}
	return false
}

// IsExternal 是否為外部入金
func (t *Transaction) IsExternal() bool {
	return t.From == ExternalAccount
}

// Complete 標記為完成
func (t *Transaction) Complete() error {
	if t.Status != TransactionStatusPending {
		return ErrTransactionImmutable
	}
	t.Status = TransactionStatusCompleted
	return nil
}

// Fail 標記為失敗並記錄原因
func (t *Transaction) Fail(reason error) error {
	if t.Status != TransactionStatusPending {
		return ErrTransactionImmutable
	}
	t.Status = TransactionStatusFailed
	if reason != nil {
		t.FailureReason = reason.Error()
	}
	return nil
}

// Touches 交易是否涉及該帳戶
func (t *Transaction) Touches(accountID int64) bool {
	if accountID == ExternalAccount {
		return false
	}
	return t.From == accountID || t.To == accountID
}

// DirectionFor 從 accountID 的角度看這筆交易是扣款或入帳
func (t *Transaction) DirectionFor(accountID int64) Direction {
	switch {
	case accountID == ExternalAccount:
		return DirectionNone
	case t.From == accountID:
		return DirectionDebit
	case t.To == accountID:
		return DirectionCredit
	default:
		return DirectionNone
	}
}

// GetLockIDs 回傳需要鎖定的帳號 ID，並確保遞增順序以避免死鎖
func (t *Transaction) GetLockIDs() (ids []int64) {
	// 預先宣告一個容量為 2 的 slice，避免多次分配
	ids = make([]int64, 0, 2)
	switch {
	case t.IsExternal():
		ids = append(ids, t.To)
	case t.To == ExternalAccount:
		ids = append(ids, t.From)
	case t.From < t.To:
		ids = append(ids, t.From, t.To)
	default:
		ids = append(ids, t.To, t.From)
	}
	return ids
}

// Clone 回傳值拷貝
func (t *Transaction) Clone() *Transaction {
	cp := *t
	return &cp
}
