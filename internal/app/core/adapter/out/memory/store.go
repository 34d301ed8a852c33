package memory

import (
	"fmt"
)

// Store 記憶體帳本：帳戶表、交易表以及可選的 WAL
type Store struct {
	accounts     *AccountRepository
	transactions *TransactionRepository
	journal      *Journal
}

// NewStore 純記憶體，重啟即遺失
func NewStore() *Store {
	return &Store{
		accounts:     NewAccountRepository(nil),
		transactions: NewTransactionRepository(nil),
	}
}

// OpenStore 開啟 WAL 並重放，回傳恢復後的帳本
//
// 參數:
//
//	path: WAL 檔案路徑
//
// 回傳:
//
//	*Store: 恢復完成的帳本
//	error: 開檔或重放錯誤
func OpenStore(path string) (*Store, error) {
	journal, err := OpenJournal(path)
	if err != nil {
		return nil, err
	}
	s := &Store{
		accounts:     NewAccountRepository(journal),
		transactions: NewTransactionRepository(journal),
		journal:      journal,
	}
	if err := s.recover(); err != nil {
		_ = journal.Close()
		return nil, err
	}
	return s, nil
}

// recover 從 WAL 恢復帳本狀態
// 只在 OpenStore 呼叫，尚未對外提供，無需 Lock
func (s *Store) recover() error {
	n := 0
	err := s.journal.Replay(func(rec Record) error {
		n++
		switch rec.Kind {
		case recordAccount:
			if rec.Account == nil {
				return fmt.Errorf("wal record %d: empty account", n)
			}
			s.accounts.restore(rec.Account)
		case recordTransaction:
			if rec.Transaction == nil {
				return fmt.Errorf("wal record %d: empty transaction", n)
			}
			s.transactions.restore(rec.Transaction)
		default:
			return fmt.Errorf("wal record %d: unknown kind %q", n, rec.Kind)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replay wal: %w", err)
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

// Close 關閉 WAL
func (s *Store) Close() error {
	if s.journal == nil {
		return nil
	}
	return s.journal.Close()
}
