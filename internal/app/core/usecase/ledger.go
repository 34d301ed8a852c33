package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// AccountRepository 帳戶的持久層介面
type AccountRepository interface {
	// Insert 新增帳戶並回填 ID；帳號重複時回傳 domain.ErrDuplicateAccountNumber
	Insert(ctx context.Context, account *domain.Account) error
	// Get 依 ID 取得帳戶快照
	Get(ctx context.Context, id int64) (*domain.Account, error)
	// GetByNumber 依帳號取得帳戶快照
	GetByNumber(ctx context.Context, number string) (*domain.Account, error)
	// ListByOwner 取得擁有者的所有帳戶
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Account, error)
	// CompareAndSwap 只在目前版本等於 expectedVersion 時寫入 Balance/Status，
	// 成功後 account.Version 會被設為 expectedVersion+1，否則回傳 domain.ErrVersionConflict
	CompareAndSwap(ctx context.Context, account *domain.Account, expectedVersion uint64) error
	// MaxAccountNumber 回傳某前綴下最大的帳號，沒有則回傳空字串
	MaxAccountNumber(ctx context.Context, prefix string) (string, error)
}

// PageQuery 交易分頁查詢條件 (新到舊)
type PageQuery struct {
	AccountID int64
	// BeforeTime 只回傳 CreatedAt 小於此值的交易，0 代表不限
	BeforeTime int64
	// After 從這個位置之後繼續 (不含)，零值代表從最新開始
	After         Cursor
	Limit         int
	IncludeFailed bool
}

// TransactionRepository 交易紀錄的持久層介面 (只能新增)
type TransactionRepository interface {
	// Append 新增一筆交易並回填 Sequence；ID 或 Reference 重複時回傳 domain.ErrDuplicateTransaction
	Append(ctx context.Context, tran *domain.Transaction) error
	// Get 依 ID 取得交易
	Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// FindCompleted 依冪等鍵取得最近一筆完成的交易
	FindCompleted(ctx context.Context, idempotencyKey string) (*domain.Transaction, error)
	// FindReversal 取得沖正 originalID 且已完成的交易
	FindReversal(ctx context.Context, originalID uuid.UUID) (*domain.Transaction, error)
	// ReversedAmong 回傳 ids 之中已被沖正的交易
	ReversedAmong(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error)
	// Page 依 (CreatedAt, Sequence) 由新到舊取得涉及某帳戶的交易
	Page(ctx context.Context, q PageQuery) ([]*domain.Transaction, error)
	// Recent 全系統最新的交易
	Recent(ctx context.Context, limit int) ([]*domain.Transaction, error)
}

// Locker 帳戶鎖。依傳入順序取得，ctx 到期時放掉已取得的鎖並回傳 domain.ErrLockTimeout
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// IDGenerator 產號器
type IDGenerator interface {
	NextAccountNumber(t domain.AccountType) (string, error)
	NextReference() string
	Observe(number string) error
}

// Alerter 通知維運 (例如撕裂的轉帳)
type Alerter interface {
	CompensationFailed(ctx context.Context, err *domain.CompensationError)
}

// Observer 業務指標
type Observer interface {
	ObserveTransaction(kind domain.TransactionKind, status domain.TransactionStatus, elapsed time.Duration)
	ObserveLockWait(elapsed time.Duration, err error)
	ObserveCompensation(ok bool)
}

type nopObserver struct{}

func (nopObserver) ObserveTransaction(domain.TransactionKind, domain.TransactionStatus, time.Duration) {
}
func (nopObserver) ObserveLockWait(time.Duration, error) {}
func (nopObserver) ObserveCompensation(bool)             {}
