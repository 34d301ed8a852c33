package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// DefaultPageSize 歷史查詢每次向 repository 取的筆數
const DefaultPageSize = 50

// Cursor 歷史查詢的位置，零值代表從最新開始
type Cursor struct {
	CreatedAt int64
	Sequence  uint64
}

// IsZero 是否為起點
func (c Cursor) IsZero() bool {
	return c.CreatedAt == 0 && c.Sequence == 0
}

// HistoryQuery 查詢某帳戶的交易歷史
type HistoryQuery struct {
	AccountID int64
	// Limit 最多回傳幾筆，<= 0 代表全部
	Limit int
	// Before 只回傳早於此時間的交易，零值代表不限
	Before time.Time
	// Cursor 從上次停下的位置繼續
	Cursor        Cursor
	IncludeFailed bool
}

// DirectionCounts 某帳戶的扣款/入帳筆數
type DirectionCounts struct {
	Debits  int
	Credits int
}

// TransactionLog 只能新增的交易紀錄
type TransactionLog struct {
	repo     TransactionRepository
	pageSize int

	mu    sync.Mutex
	clock func() time.Time
	last  int64
}

// NewTransactionLog 建立 TransactionLog
func NewTransactionLog(repo TransactionRepository, pageSize int) *TransactionLog {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &TransactionLog{
		repo:     repo,
		pageSize: pageSize,
		clock:    time.Now,
	}
}

// now 回傳嚴格遞增的 UnixNano
func (l *TransactionLog) now() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := l.clock().UnixNano()
	if ts <= l.last {
		ts = l.last + 1
	}
	l.last = ts
	return ts
}

// Append 寫入一筆已結束 (completed/failed) 的交易並蓋上時間戳
func (l *TransactionLog) Append(ctx context.Context, tran *domain.Transaction) error {
	if tran.Status == domain.TransactionStatusPending {
		return fmt.Errorf("%w: pending transaction %s", domain.ErrValidation, tran.ID)
	}
	tran.CreatedAt = l.now()
	if err := l.repo.Append(ctx, tran); err != nil {
		return fmt.Errorf("append transaction %s: %w", tran.ID, err)
	}
	return nil
}

// Get 取得交易；已被沖正的轉帳會以 reversed 狀態回傳
func (l *TransactionLog) Get(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tran, err := l.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := l.markReversed(ctx, []*domain.Transaction{tran}); err != nil {
		return nil, err
	}
	return tran, nil
}

// FindCompleted 依冪等鍵找已完成的交易
func (l *TransactionLog) FindCompleted(ctx context.Context, idempotencyKey string) (*domain.Transaction, error) {
	tran, err := l.repo.FindCompleted(ctx, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if err := l.markReversed(ctx, []*domain.Transaction{tran}); err != nil {
		return nil, err
	}
	return tran, nil
}

// FindReversal 取得原交易的沖正紀錄
func (l *TransactionLog) FindReversal(ctx context.Context, originalID uuid.UUID) (*domain.Transaction, error) {
	return l.repo.FindReversal(ctx, originalID)
}

// Recent 全系統最新的交易 (後台用)
func (l *TransactionLog) Recent(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = l.pageSize
	}
	trans, err := l.repo.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	if err := l.markReversed(ctx, trans); err != nil {
		return nil, err
	}
	return trans, nil
}

// QueryByAccount 回傳惰性的歷史迭代器，需要時才向 repository 取下一頁
func (l *TransactionLog) QueryByAccount(ctx context.Context, q HistoryQuery) *HistoryIterator {
	it := &HistoryIterator{
		ctx:    ctx,
		log:    l,
		query:  q,
		cursor: q.Cursor,
	}
	if q.AccountID == domain.ExternalAccount {
		it.err = domain.ErrAccountNotFound
	}
	return it
}

// SumAmounts 加總某帳戶某方向已完成交易的金額
func (l *TransactionLog) SumAmounts(ctx context.Context, accountID int64, direction domain.Direction) (int64, error) {
	var sum int64
	it := l.QueryByAccount(ctx, HistoryQuery{AccountID: accountID})
	for it.Next() {
		tran := it.Transaction()
		if tran.DirectionFor(accountID) == direction {
			sum += tran.Amount
		}
	}
	return sum, it.Err()
}

// CountByDirection 統計某帳戶已完成交易的扣款/入帳筆數
func (l *TransactionLog) CountByDirection(ctx context.Context, accountID int64) (DirectionCounts, error) {
	var counts DirectionCounts
	it := l.QueryByAccount(ctx, HistoryQuery{AccountID: accountID})
	for it.Next() {
		switch it.Transaction().DirectionFor(accountID) {
		case domain.DirectionDebit:
			counts.Debits++
		case domain.DirectionCredit:
			counts.Credits++
		}
	}
	return counts, it.Err()
}

// markReversed 把已被沖正的轉帳顯示為 reversed (log 內容本身不變)
func (l *TransactionLog) markReversed(ctx context.Context, trans []*domain.Transaction) error {
	ids := make([]uuid.UUID, 0, len(trans))
	for _, tran := range trans {
		if tran.Kind == domain.TransactionKindTransfer && tran.Status == domain.TransactionStatusCompleted {
			ids = append(ids, tran.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	reversed, err := l.repo.ReversedAmong(ctx, ids)
	if err != nil {
		return err
	}
	for _, tran := range trans {
		if reversed[tran.ID] {
			tran.Status = domain.TransactionStatusReversed
		}
	}
	return nil
}

// HistoryIterator 由新到舊走訪交易；有限 (受 Limit 限制)，可用 Cursor() 重新開始
//
//	it := log.QueryByAccount(ctx, q)
//	for it.Next() {
//		tran := it.Transaction()
//	}
//	if err := it.Err(); err != nil { ... }
type HistoryIterator struct {
	ctx      context.Context
	log      *TransactionLog
	query    HistoryQuery
	cursor   Cursor
	buf      []*domain.Transaction
	current  *domain.Transaction
	returned int
	done     bool
	err      error
}

// Next 前進到下一筆，沒有資料或發生錯誤時回傳 false
func (it *HistoryIterator) Next() bool {
	if it.err != nil || (it.query.Limit > 0 && it.returned >= it.query.Limit) {
		return false
	}
	if len(it.buf) == 0 {
		if it.done {
			return false
		}
		if err := it.fetch(); err != nil {
			it.err = err
			return false
		}
		if len(it.buf) == 0 {
			return false
		}
	}
	it.current = it.buf[0]
	it.buf = it.buf[1:]
	it.cursor = Cursor{CreatedAt: it.current.CreatedAt, Sequence: it.current.Sequence}
	it.returned++
	return true
}

func (it *HistoryIterator) fetch() error {
	if err := it.ctx.Err(); err != nil {
		return err
	}
	size := it.log.pageSize
	if it.query.Limit > 0 && it.query.Limit-it.returned < size {
		size = it.query.Limit - it.returned
	}
	var before int64
	if !it.query.Before.IsZero() {
		before = it.query.Before.UnixNano()
	}
	page, err := it.log.repo.Page(it.ctx, PageQuery{
		AccountID:     it.query.AccountID,
		BeforeTime:    before,
		After:         it.cursor,
		Limit:         size,
		IncludeFailed: it.query.IncludeFailed,
	})
	if err != nil {
		return err
	}
	if len(page) < size {
		it.done = true
	}
	if err := it.log.markReversed(it.ctx, page); err != nil {
		return err
	}
	for _, tran := range page {
		if !tran.Touches(it.query.AccountID) {
			return fmt.Errorf("history for account %d returned foreign transaction %s", it.query.AccountID, tran.ID)
		}
	}
	it.buf = page
	return nil
}

// Transaction 目前這一筆
func (it *HistoryIterator) Transaction() *domain.Transaction {
	return it.current
}

// Cursor 最後回傳那一筆的位置，帶入下一次查詢即可接續
func (it *HistoryIterator) Cursor() Cursor {
	return it.cursor
}

// Err 迭代過程中的錯誤
func (it *HistoryIterator) Err() error {
	return it.err
}

// Collect 讀完剩下的所有交易
func (it *HistoryIterator) Collect() ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for it.Next() {
		out = append(out, it.Transaction())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// errIsNotFound 方便判斷查無資料
func errIsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
