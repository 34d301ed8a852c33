package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// Store 以 GORM 實作的帳本 (mysql / postgres)
type Store struct {
	db           *gorm.DB
	accounts     *AccountRepository
	transactions *TransactionRepository
}

// New 建立 Store；db 建議開啟 TranslateError 讓重複鍵可以被辨識
func New(db *gorm.DB) *Store {
	return &Store{
		db:           db,
		accounts:     &AccountRepository{db: db},
		transactions: &TransactionRepository{db: db},
	}
}

// AutoMigrate 建立/更新資料表
func (s *Store) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&accountModel{}, &transactionModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Accounts 帳戶表
func (s *Store) Accounts() *AccountRepository {
	return s.accounts
}

// Transactions 交易表
func (s *Store) Transactions() *TransactionRepository {
	return s.transactions
}

// AccountRepository accounts 表
type AccountRepository struct {
	db *gorm.DB
}

// Insert 新增帳戶並回填 ID
func (r *AccountRepository) Insert(ctx context.Context, account *domain.Account) error {
	m := newAccountModel(account)
	m.ID = 0
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixNano()
	}
	m.UpdatedAt = m.CreatedAt
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateAccountNumber, account.Number)
		}
		return fmt.Errorf("insert account: %w", err)
	}
	account.ID = m.ID
	account.CreatedAt = m.CreatedAt
	account.UpdatedAt = m.UpdatedAt
	return nil
}

// Get 依 ID 取得帳戶
func (r *AccountRepository) Get(ctx context.Context, id int64) (*domain.Account, error) {
	return r.take(r.db.WithContext(ctx).Where("id = ?", id))
}

// GetByNumber 依帳號取得帳戶
func (r *AccountRepository) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	return r.take(r.db.WithContext(ctx).Where("number = ?", number))
}

func (r *AccountRepository) take(q *gorm.DB) (*domain.Account, error) {
	var m accountModel
	if err := q.Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("select account: %w", err)
	}
	return m.toDomain(), nil
}

// ListByOwner 依開戶順序回傳
func (r *AccountRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	var models []accountModel
	if err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]*domain.Account, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}

// CompareAndSwap 悲觀鎖讀出目前版本，版本相同才更新 Balance/Status
func (r *AccountRepository) CompareAndSwap(ctx context.Context, account *domain.Account, expectedVersion uint64) error {
	now := time.Now().UnixNano()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current accountModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", account.ID).
			Take(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrAccountNotFound
			}
			return err
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("%w: account %d at version %d, expected %d",
				domain.ErrVersionConflict, account.ID, current.Version, expectedVersion)
		}

		res := tx.Model(&accountModel{}).
			Where("id = ? AND version = ?", account.ID, expectedVersion).
			Updates(map[string]any{
				"balance":    account.Balance,
				"status":     uint8(account.Status),
				"version":    expectedVersion + 1,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: account %d", domain.ErrVersionConflict, account.ID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) || errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("update account %d: %w", account.ID, err)
	}
	account.Version = expectedVersion + 1
	account.UpdatedAt = now
	return nil
}

// MaxAccountNumber 某前綴下最大的帳號
func (r *AccountRepository) MaxAccountNumber(ctx context.Context, prefix string) (string, error) {
	var numbers []string
	err := r.db.WithContext(ctx).Model(&accountModel{}).
		Where("number LIKE ?", prefix+"%").
		Order("number DESC").
		Limit(1).
		Pluck("number", &numbers).Error
	if err != nil {
		return "", fmt.Errorf("max account number: %w", err)
	}
	if len(numbers) == 0 {
		return "", nil
	}
	return numbers[0], nil
}

// TransactionRepository transactions 表，只有 INSERT 與 SELECT
type TransactionRepository struct {
	db *gorm.DB
}

// Append 新增交易，Sequence 由資料庫遞增產生
func (r *TransactionRepository) Append(ctx context.Context, tran *domain.Transaction) error {
	m := newTransactionModel(tran)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateTransaction, tran.ID)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	tran.Sequence = m.Seq
	return nil
}

// Get 依 ID 取得交易
func (r *TransactionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return r.first(r.db.WithContext(ctx).Where("tx_id = ?", id.String()))
}

// FindCompleted 冪等鍵下最近一筆完成的交易
func (r *TransactionRepository) FindCompleted(ctx context.Context, idempotencyKey string) (*domain.Transaction, error) {
	return r.first(r.db.WithContext(ctx).
		Where("idempotency_key = ? AND status = ?", idempotencyKey, uint8(domain.TransactionStatusCompleted)).
		Order("seq DESC"))
}

// FindReversal 取得原交易已完成的沖正
func (r *TransactionRepository) FindReversal(ctx context.Context, originalID uuid.UUID) (*domain.Transaction, error) {
	return r.first(r.db.WithContext(ctx).
		Where("reversal_of = ? AND kind = ? AND status = ?", originalID.String(),
			uint8(domain.TransactionKindReversal), uint8(domain.TransactionStatusCompleted)))
}

func (r *TransactionRepository) first(q *gorm.DB) (*domain.Transaction, error) {
	var models []transactionModel
	if err := q.Limit(1).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("select transaction: %w", err)
	}
	if len(models) == 0 {
		return nil, domain.ErrTransactionNotFound
	}
	return models[0].toDomain()
}

// ReversedAmong ids 之中已被沖正的交易
func (r *TransactionRepository) ReversedAmong(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool)
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	var originals []string
	err := r.db.WithContext(ctx).Model(&transactionModel{}).
		Where("reversal_of IN ? AND kind = ? AND status = ?", keys,
			uint8(domain.TransactionKindReversal), uint8(domain.TransactionStatusCompleted)).
		Pluck("reversal_of", &originals).Error
	if err != nil {
		return nil, fmt.Errorf("select reversals: %w", err)
	}
	for _, s := range originals {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("bad reversal_of %q: %w", s, err)
		}
		out[id] = true
	}
	return out, nil
}

// Page 由新到舊取得涉及某帳戶的交易
func (r *TransactionRepository) Page(ctx context.Context, q usecase.PageQuery) ([]*domain.Transaction, error) {
	db := r.db.WithContext(ctx).
		Where("(from_account_id = ? OR to_account_id = ?)", q.AccountID, q.AccountID)
	if !q.IncludeFailed {
		db = db.Where("status <> ?", uint8(domain.TransactionStatusFailed))
	}
	if q.BeforeTime > 0 {
		db = db.Where("created_at < ?", q.BeforeTime)
	}
	if !q.After.IsZero() {
		db = db.Where("(created_at < ? OR (created_at = ? AND seq < ?))",
			q.After.CreatedAt, q.After.CreatedAt, q.After.Sequence)
	}
	return r.list(db.Order("created_at DESC, seq DESC").Limit(q.Limit))
}

// Recent 全系統最新的交易
func (r *TransactionRepository) Recent(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	return r.list(r.db.WithContext(ctx).Order("created_at DESC, seq DESC").Limit(limit))
}

func (r *TransactionRepository) list(q *gorm.DB) ([]*domain.Transaction, error) {
	var models []transactionModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	out := make([]*domain.Transaction, 0, len(models))
	for i := range models {
		t, err := models[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

var (
	_ usecase.AccountRepository     = (*AccountRepository)(nil)
	_ usecase.TransactionRepository = (*TransactionRepository)(nil)
)
