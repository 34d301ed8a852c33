package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/idgen"
)

// MaxNumberAttempts 帳號碰撞時最多重試次數
const MaxNumberAttempts = 5

// OpenAccountRequest 開戶參數
type OpenAccountRequest struct {
	OwnerID        string
	Type           domain.AccountType
	InitialBalance int64
	Currency       domain.Currency
}

// AccountStore 帳戶餘額與狀態的唯一寫入入口
type AccountStore struct {
	repo  AccountRepository
	ids   IDGenerator
	clock func() time.Time
}

// NewAccountStore 建立 AccountStore
func NewAccountStore(repo AccountRepository, ids IDGenerator) *AccountStore {
	return &AccountStore{
		repo:  repo,
		ids:   ids,
		clock: time.Now,
	}
}

// Warmup 依照資料庫中最大的帳號推進產號器，避免重啟後重發帳號
func (s *AccountStore) Warmup(ctx context.Context) error {
	for _, t := range domain.AccountTypes {
		prefix, err := idgen.Prefix(t)
		if err != nil {
			return err
		}
		last, err := s.repo.MaxAccountNumber(ctx, prefix)
		if err != nil {
			return fmt.Errorf("load max account number for %s: %w", t, err)
		}
		if last == "" {
			continue
		}
		if err := s.ids.Observe(last); err != nil {
			return err
		}
	}
	return nil
}

// OpenAccount 開戶；產號碰撞時換號重試
func (s *AccountStore) OpenAccount(ctx context.Context, req OpenAccountRequest) (*domain.Account, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, domain.ErrInvalidOwner
	}
	if req.InitialBalance < 0 {
		return nil, domain.ErrNegativeInitialBalance
	}
	if err := req.Currency.Validate(); err != nil {
		return nil, err
	}
	if req.Type == 0 {
		req.Type = domain.AccountTypeChecking
	}
	if !req.Type.Valid() {
		return nil, domain.ErrInvalidAccountType
	}

	var lastErr error
	for attempt := 0; attempt < MaxNumberAttempts; attempt++ {
		number, err := s.ids.NextAccountNumber(req.Type)
		if err != nil {
			return nil, err
		}
		now := s.clock().UnixNano()
		account := &domain.Account{
			Number:    number,
			OwnerID:   req.OwnerID,
			Balance:   req.InitialBalance,
			Currency:  req.Currency,
			Type:      req.Type,
			Status:    domain.AccountStatusActive,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = s.repo.Insert(ctx, account)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, domain.ErrDuplicateAccountNumber) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("open account after %d attempts: %w", MaxNumberAttempts, lastErr)
}

// GetAccount 取得帳戶
func (s *AccountStore) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	if id <= 0 {
		return nil, domain.ErrAccountNotFound
	}
	return s.repo.Get(ctx, id)
}

// LookupByNumber 依帳號取得帳戶
func (s *AccountStore) LookupByNumber(ctx context.Context, number string) (*domain.Account, error) {
	if !domain.ValidAccountNumber(number) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAccountNumber, number)
	}
	return s.repo.GetByNumber(ctx, number)
}

// ListByOwner 取得擁有者的帳戶
func (s *AccountStore) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.ErrInvalidOwner
	}
	return s.repo.ListByOwner(ctx, ownerID)
}

// AdjustBalance 以樂觀鎖調整餘額，回傳新餘額
//
// 回傳錯誤:
//
//	domain.ErrVersionConflict: expectedVersion 過期
//	domain.ErrAccountNotActive: 帳戶非 active
//	domain.ErrInsufficientFunds: 調整後小於 0
func (s *AccountStore) AdjustBalance(ctx context.Context, id int64, delta int64, expectedVersion uint64) (int64, error) {
	return s.adjust(ctx, id, delta, expectedVersion, true)
}

// CompensateBalance 與 AdjustBalance 相同但不檢查帳戶狀態，只給補償流程使用
func (s *AccountStore) CompensateBalance(ctx context.Context, id int64, delta int64, expectedVersion uint64) (int64, error) {
	return s.adjust(ctx, id, delta, expectedVersion, false)
}

func (s *AccountStore) adjust(ctx context.Context, id int64, delta int64, expectedVersion uint64, requireActive bool) (int64, error) {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return 0, err
	}
	if account.Version != expectedVersion {
		return 0, fmt.Errorf("%w: account %d at version %d, expected %d", domain.ErrVersionConflict, id, account.Version, expectedVersion)
	}
	if requireActive && !account.IsActive() {
		return 0, fmt.Errorf("%w: account %d is %s", domain.ErrAccountNotActive, id, account.Status)
	}
	balance, err := account.ApplyDelta(delta)
	if err != nil {
		return 0, err
	}
	account.UpdatedAt = s.clock().UnixNano()
	if err := s.repo.CompareAndSwap(ctx, account, expectedVersion); err != nil {
		return 0, err
	}
	return balance, nil
}

// SetStatus 變更帳戶狀態；結清需要餘額為 0
func (s *AccountStore) SetStatus(ctx context.Context, id int64, status domain.AccountStatus, expectedVersion uint64) (*domain.Account, error) {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.Version != expectedVersion {
		return nil, fmt.Errorf("%w: account %d at version %d, expected %d", domain.ErrVersionConflict, id, account.Version, expectedVersion)
	}
	if !account.Status.CanTransition(status) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalStatusChange, account.Status, status)
	}
	if status == domain.AccountStatusClosed && account.Balance != 0 {
		return nil, domain.ErrAccountHasBalance
	}
	account.Status = status
	account.UpdatedAt = s.clock().UnixNano()
	if err := s.repo.CompareAndSwap(ctx, account, expectedVersion); err != nil {
		return nil, err
	}
	return account, nil
}
