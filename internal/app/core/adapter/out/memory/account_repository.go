package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// AccountRepository 使用 RWMutex 保護的帳戶表
//
// 結構:
//
//	accounts: 帳戶資料 Map
//	byNumber: 帳號索引
//	byOwner: 擁有者索引
//	journal: 可為 nil (純記憶體)
type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[int64]*domain.Account
	byNumber map[string]int64
	byOwner  map[string][]int64
	nextID   int64
	journal  *Journal
}

// NewAccountRepository 建立帳戶表；journal 為 nil 時不落地
func NewAccountRepository(journal *Journal) *AccountRepository {
	return &AccountRepository{
		accounts: make(map[int64]*domain.Account),
		byNumber: make(map[string]int64),
		byOwner:  make(map[string][]int64),
		journal:  journal,
	}
}

// Insert 新增帳戶並分配 ID
func (r *AccountRepository) Insert(ctx context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byNumber[account.Number]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateAccountNumber, account.Number)
	}
	cp := account.Clone()
	cp.ID = r.nextID + 1
	if cp.CreatedAt == 0 {
		cp.CreatedAt = time.Now().UnixNano()
	}
	cp.UpdatedAt = cp.CreatedAt

	// 先寫 WAL 再改記憶體
	if err := r.write(cp); err != nil {
		return err
	}
	r.restore(cp)
	account.ID = cp.ID
	account.CreatedAt = cp.CreatedAt
	account.UpdatedAt = cp.UpdatedAt
	return nil
}

// Get 依 ID 取得帳戶快照
func (r *AccountRepository) Get(ctx context.Context, id int64) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	account, ok := r.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return account.Clone(), nil
}

// GetByNumber 依帳號取得帳戶快照
func (r *AccountRepository) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byNumber[number]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return r.accounts[id].Clone(), nil
}

// ListByOwner 依開戶順序回傳
func (r *AccountRepository) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byOwner[ownerID]
	out := make([]*domain.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.accounts[id].Clone())
	}
	return out, nil
}

// CompareAndSwap 版本相同才寫入 Balance/Status
func (r *AccountRepository) CompareAndSwap(ctx context.Context, account *domain.Account, expectedVersion uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.accounts[account.ID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: account %d at version %d, expected %d",
			domain.ErrVersionConflict, account.ID, current.Version, expectedVersion)
	}

	next := current.Clone()
	next.Balance = account.Balance
	next.Status = account.Status
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UnixNano()
	if err := r.write(next); err != nil {
		return err
	}
	r.accounts[next.ID] = next
	account.Version = next.Version
	account.UpdatedAt = next.UpdatedAt
	return nil
}

// MaxAccountNumber 某前綴下最大的帳號 (帳號等長，字串比較即可)
func (r *AccountRepository) MaxAccountNumber(ctx context.Context, prefix string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var max string
	for number := range r.byNumber {
		if strings.HasPrefix(number, prefix) && number > max {
			max = number
		}
	}
	return max, nil
}

// Len 帳戶數量
func (r *AccountRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// TotalBalance 所有帳戶餘額加總 (對帳用)
func (r *AccountRepository) TotalBalance() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, account := range r.accounts {
		total += account.Balance
	}
	return total
}

func (r *AccountRepository) write(account *domain.Account) error {
	if r.journal == nil {
		return nil
	}
	return r.journal.Append(Record{Kind: recordAccount, Account: account})
}

// restore 套用一份帳戶快照 (不寫 WAL)，重放時後到的快照覆蓋先到的
func (r *AccountRepository) restore(account *domain.Account) {
	if _, exists := r.accounts[account.ID]; !exists {
		ids := append(r.byOwner[account.OwnerID], account.ID)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		r.byOwner[account.OwnerID] = ids
	}
	r.accounts[account.ID] = account
	r.byNumber[account.Number] = account.ID
	if account.ID > r.nextID {
		r.nextID = account.ID
	}
}

var _ usecase.AccountRepository = (*AccountRepository)(nil)
