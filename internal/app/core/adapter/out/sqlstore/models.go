package sqlstore

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// accountModel 對應資料庫的 accounts 表
type accountModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Number    string `gorm:"type:varchar(20);uniqueIndex"`
	OwnerID   string `gorm:"type:varchar(64);index"`
	Balance   int64
	Version   uint64
	Currency  string `gorm:"type:char(3)"`
	Type      uint8
	Status    uint8
	CreatedAt int64 `gorm:"autoCreateTime:nano"`
	UpdatedAt int64 `gorm:"autoUpdateTime:nano"`
}

func (*accountModel) TableName() string {
	return "accounts"
}

func newAccountModel(a *domain.Account) *accountModel {
	return &accountModel{
		ID:        a.ID,
		Number:    a.Number,
		OwnerID:   a.OwnerID,
		Balance:   a.Balance,
		Version:   a.Version,
		Currency:  string(a.Currency),
		Type:      uint8(a.Type),
		Status:    uint8(a.Status),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func (m *accountModel) toDomain() *domain.Account {
	return &domain.Account{
		ID:        m.ID,
		Number:    m.Number,
		OwnerID:   m.OwnerID,
		Balance:   m.Balance,
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Currency:  domain.Currency(m.Currency),
		Type:      domain.AccountType(m.Type),
		Status:    domain.AccountStatus(m.Status),
	}
}

// transactionModel 對應資料庫的 transactions 表
// seq 由資料庫遞增產生，就是 domain.Transaction.Sequence
// 文字欄位長度與 domain.Max*Length 一致
type transactionModel struct {
	Seq            uint64 `gorm:"column:seq;primaryKey;autoIncrement"`
	TxID           string `gorm:"column:tx_id;type:char(36);uniqueIndex"`
	Reference      string `gorm:"type:varchar(32);uniqueIndex"`
	Kind           uint8
	Status         uint8
	FromAccountID  int64  `gorm:"index:idx_tx_from_time,priority:1"`
	ToAccountID    int64  `gorm:"index:idx_tx_to_time,priority:1"`
	ToNumber       string `gorm:"type:varchar(20)"`
	Amount         int64
	Currency       string `gorm:"type:char(3)"`
	Description    string `gorm:"type:varchar(255)"`
	FailureReason  string `gorm:"type:varchar(255)"`
	IdempotencyKey string `gorm:"type:varchar(128);index"`
	ReversalOf     string `gorm:"type:varchar(36);index"`
	CreatedAt      int64  `gorm:"index:idx_tx_from_time,priority:2;index:idx_tx_to_time,priority:2;index"`
}

func (*transactionModel) TableName() string {
	return "transactions"
}

func newTransactionModel(t *domain.Transaction) *transactionModel {
	m := &transactionModel{
		TxID:           t.ID.String(),
		Reference:      t.Reference,
		Kind:           uint8(t.Kind),
		Status:         uint8(t.Status),
		FromAccountID:  t.From,
		ToAccountID:    t.To,
		ToNumber:       t.ToNumber,
		Amount:         t.Amount,
		Currency:       string(t.Currency),
		Description:    t.Description,
		FailureReason:  domain.ClipText(t.FailureReason, domain.MaxFailureReasonLength),
		IdempotencyKey: t.IdempotencyKey,
		CreatedAt:      t.CreatedAt,
	}
	if t.ReversalOf != uuid.Nil {
		m.ReversalOf = t.ReversalOf.String()
	}
	return m
}

func (m *transactionModel) toDomain() (*domain.Transaction, error) {
	id, err := uuid.Parse(m.TxID)
	if err != nil {
		return nil, fmt.Errorf("transaction seq %d: bad tx_id: %w", m.Seq, err)
	}
	t := &domain.Transaction{
		Sequence:       m.Seq,
		From:           m.FromAccountID,
		To:             m.ToAccountID,
		Amount:         m.Amount,
		CreatedAt:      m.CreatedAt,
		ID:             id,
		Reference:      m.Reference,
		ToNumber:       m.ToNumber,
		Description:    m.Description,
		FailureReason:  m.FailureReason,
		IdempotencyKey: m.IdempotencyKey,
		Currency:       domain.Currency(m.Currency),
		Kind:           domain.TransactionKind(m.Kind),
		Status:         domain.TransactionStatus(m.Status),
	}
	if m.ReversalOf != "" {
		if t.ReversalOf, err = uuid.Parse(m.ReversalOf); err != nil {
			return nil, fmt.Errorf("transaction %s: bad reversal_of: %w", m.TxID, err)
		}
	}
	return t, nil
}
