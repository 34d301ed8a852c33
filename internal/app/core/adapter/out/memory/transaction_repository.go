package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// TransactionRepository 只能新增的交易表
// timeline 與 byAccount 都依 (CreatedAt, Sequence) 由舊到新排序
type TransactionRepository struct {
	mu        sync.RWMutex
	byID      map[uuid.UUID]*domain.Transaction
	refs      map[string]struct{}
	byKey     map[string][]*domain.Transaction
	byAccount map[int64][]*domain.Transaction
	reversals map[uuid.UUID]*domain.Transaction
	timeline  []*domain.Transaction
	seq       uint64
	journal   *Journal
}

// NewTransactionRepository 建立交易表；journal 為 nil 時不落地
func NewTransactionRepository(journal *Journal) *TransactionRepository {
	return &TransactionRepository{
		byID:      make(map[uuid.UUID]*domain.Transaction),
		refs:      make(map[string]struct{}),
		byKey:     make(map[string][]*domain.Transaction),
		byAccount: make(map[int64][]*domain.Transaction),
		reversals: make(map[uuid.UUID]*domain.Transaction),
		journal:   journal,
	}
}

// Append 新增交易並分配 Sequence
func (r *TransactionRepository) Append(ctx context.Context, tran *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[tran.ID]; ok {
		return fmt.Errorf("%w: id %s", domain.ErrDuplicateTransaction, tran.ID)
	}
	if _, ok := r.refs[tran.Reference]; ok && tran.Reference != "" {
		return fmt.Errorf("%w: reference %s", domain.ErrDuplicateTransaction, tran.Reference)
	}

	cp := tran.Clone()
	cp.Sequence = r.seq + 1
	if r.journal != nil {
		if err := r.journal.Append(Record{Kind: recordTransaction, Transaction: cp}); err != nil {
			return err
		}
	}
	r.restore(cp)
	tran.Sequence = cp.Sequence
	return nil
}

// Get 依 ID 取得交易
func (r *TransactionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tran, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return tran.Clone(), nil
}

// FindCompleted 冪等鍵下最近一筆完成的交易
func (r *TransactionRepository) FindCompleted(ctx context.Context, idempotencyKey string) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byKey[idempotencyKey]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Status == domain.TransactionStatusCompleted {
			return list[i].Clone(), nil
		}
	}
	return nil, domain.ErrTransactionNotFound
}

// FindReversal 取得原交易已完成的沖正
func (r *TransactionRepository) FindReversal(ctx context.Context, originalID uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tran, ok := r.reversals[originalID]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return tran.Clone(), nil
}

// ReversedAmong ids 之中已被沖正的交易
func (r *TransactionRepository) ReversedAmong(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uuid.UUID]bool)
	for _, id := range ids {
		if _, ok := r.reversals[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

// Page 由新到舊取得涉及某帳戶的交易
func (r *TransactionRepository) Page(ctx context.Context, q usecase.PageQuery) ([]*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.byAccount[q.AccountID]
	// list 由舊到新，二分找出 cursor 與 BeforeTime 之前的範圍 [0, end)
	end := len(list)
	if !q.After.IsZero() {
		end = sort.Search(end, func(i int) bool { return !olderThan(list[i], q.After) })
	}
	if q.BeforeTime > 0 {
		end = sort.Search(end, func(i int) bool { return list[i].CreatedAt >= q.BeforeTime })
	}

	out := make([]*domain.Transaction, 0, min(q.Limit, end))
	for i := end - 1; i >= 0 && len(out) < q.Limit; i-- {
		tran := list[i]
		if !q.IncludeFailed && tran.Status == domain.TransactionStatusFailed {
			continue
		}
		out = append(out, tran.Clone())
	}
	return out, nil
}

// Recent 全系統最新的交易
func (r *TransactionRepository) Recent(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Transaction, 0, min(limit, len(r.timeline)))
	for i := len(r.timeline) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.timeline[i].Clone())
	}
	return out, nil
}

// Len 交易筆數
func (r *TransactionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// restore 建立索引 (不寫 WAL)
func (r *TransactionRepository) restore(tran *domain.Transaction) {
	r.byID[tran.ID] = tran
	if tran.Reference != "" {
		r.refs[tran.Reference] = struct{}{}
	}
	if tran.Sequence > r.seq {
		r.seq = tran.Sequence
	}
	if tran.IdempotencyKey != "" {
		r.byKey[tran.IdempotencyKey] = append(r.byKey[tran.IdempotencyKey], tran)
	}
	if tran.Kind == domain.TransactionKindReversal &&
		tran.Status == domain.TransactionStatusCompleted &&
		tran.ReversalOf != uuid.Nil {
		r.reversals[tran.ReversalOf] = tran
	}
	r.timeline = insertOrdered(r.timeline, tran)
	for _, id := range []int64{tran.From, tran.To} {
		if id != domain.ExternalAccount {
			r.byAccount[id] = insertOrdered(r.byAccount[id], tran)
		}
	}
}

// olderThan tran 是否排在 cursor 之後 (較舊)
func olderThan(tran *domain.Transaction, c usecase.Cursor) bool {
	if tran.CreatedAt != c.CreatedAt {
		return tran.CreatedAt < c.CreatedAt
	}
	return tran.Sequence < c.Sequence
}

// insertOrdered 大多數情況是接在尾端，只有時間戳亂序時才需要搬移
func insertOrdered(list []*domain.Transaction, tran *domain.Transaction) []*domain.Transaction {
	cursor := usecase.Cursor{CreatedAt: tran.CreatedAt, Sequence: tran.Sequence}
	i := sort.Search(len(list), func(i int) bool { return !olderThan(list[i], cursor) })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = tran
	return list
}

var _ usecase.TransactionRepository = (*TransactionRepository)(nil)
