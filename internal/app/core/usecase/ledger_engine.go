package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// EngineOptions LedgerEngine 的可調參數
type EngineOptions struct {
	// LockTimeout 等待帳戶鎖的上限
	LockTimeout time.Duration
	// MaxVersionRetries 遇到 VersionConflict 時重讀版本再試的次數
	MaxVersionRetries int
	// CompensationRetries 退回扣款的嘗試次數
	CompensationRetries int
	Logger              *slog.Logger
	Observer            Observer
	Alerter             Alerter
}

// DefaultEngineOptions 預設值
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		LockTimeout:         2 * time.Second,
		MaxVersionRetries:   3,
		CompensationRetries: 5,
	}
}

// TransferRequest 轉帳請求
type TransferRequest struct {
	FromAccountID   int64
	ToAccountNumber string
	Amount          int64
	Description     string
	// IdempotencyKey 選填；相同的 key 已完成過就直接回傳原交易
	IdempotencyKey string
}

// DepositRequest 外部入金請求
type DepositRequest struct {
	ToAccountID    int64
	Amount         int64
	Description    string
	IdempotencyKey string
}

// ReverseRequest 沖正請求
type ReverseRequest struct {
	TransactionID  uuid.UUID
	Description    string
	IdempotencyKey string
}

// LedgerEngine 帳務核心：帳戶鎖 -> 扣款 -> 入帳 -> 寫入交易紀錄
type LedgerEngine struct {
	accounts *AccountStore
	log      *TransactionLog
	locker   Locker
	ids      IDGenerator
	opts     EngineOptions
	logger   *slog.Logger
	observer Observer
	clock    func() time.Time
}

// NewLedgerEngine 建立 LedgerEngine
func NewLedgerEngine(accounts *AccountStore, log *TransactionLog, locker Locker, ids IDGenerator, opts EngineOptions) *LedgerEngine {
	def := DefaultEngineOptions()
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = def.LockTimeout
	}
	if opts.MaxVersionRetries <= 0 {
		opts.MaxVersionRetries = def.MaxVersionRetries
	}
	if opts.CompensationRetries <= 0 {
		opts.CompensationRetries = def.CompensationRetries
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var observer Observer = nopObserver{}
	if opts.Observer != nil {
		observer = opts.Observer
	}
	return &LedgerEngine{
		accounts: accounts,
		log:      log,
		locker:   locker,
		ids:      ids,
		opts:     opts,
		logger:   logger.With("component", "ledger"),
		observer: observer,
		clock:    time.Now,
	}
}

// attempt 單次交易嘗試的狀態
type attempt struct {
	tran  *domain.Transaction
	state domain.TransferState
	start time.Time
	// guards 在帳戶鎖之前取得的鎖 (冪等鍵、沖正對象)
	guards []string
}

// OpenAccount 開戶
func (e *LedgerEngine) OpenAccount(ctx context.Context, req OpenAccountRequest) (*domain.Account, error) {
	account, err := e.accounts.OpenAccount(ctx, req)
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "account opened",
		"account_id", account.ID, "number", account.Number, "owner_id", account.OwnerID, "currency", account.Currency)
	return account, nil
}

// GetAccount 在帳戶鎖內讀取，不會讀到扣了款還沒入帳的中間狀態
func (e *LedgerEngine) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	release, err := e.lock(ctx, accountLockKey(id))
	if err != nil {
		return nil, err
	}
	defer release()
	return e.accounts.GetAccount(ctx, id)
}

// LookupByNumber 依帳號讀取帳戶
func (e *LedgerEngine) LookupByNumber(ctx context.Context, number string) (*domain.Account, error) {
	account, err := e.accounts.LookupByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return e.GetAccount(ctx, account.ID)
}

// ListAccounts 列出擁有者的帳戶
func (e *LedgerEngine) ListAccounts(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	accounts, err := e.accounts.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Account, 0, len(accounts))
	for _, account := range accounts {
		fresh, err := e.GetAccount(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, fresh)
	}
	return out, nil
}

// SetAccountStatus 凍結/解凍/結清帳戶
func (e *LedgerEngine) SetAccountStatus(ctx context.Context, id int64, status domain.AccountStatus) (*domain.Account, error) {
	release, err := e.lock(ctx, accountLockKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	for i := 0; ; i++ {
		account, err := e.accounts.GetAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		updated, err := e.accounts.SetStatus(ctx, id, status, account.Version)
		if err == nil {
			e.logger.InfoContext(ctx, "account status changed",
				"account_id", id, "from", account.Status, "to", status)
			return updated, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || i+1 >= e.opts.MaxVersionRetries {
			return nil, err
		}
	}
}

// Transfer 轉帳
//
// 失敗時同樣會寫入一筆 failed 交易，並與錯誤一起回傳。
func (e *LedgerEngine) Transfer(ctx context.Context, req TransferRequest) (*domain.Transaction, error) {
	tran := domain.NewTransaction(domain.TransactionKindTransfer, e.ids.NextReference(), req.FromAccountID, domain.ExternalAccount, req.Amount)
	tran.ToNumber = req.ToAccountNumber
	tran.Description = req.Description
	tran.IdempotencyKey = req.IdempotencyKey
	return e.execute(ctx, e.newAttempt(tran), e.resolveTransfer)
}

// Deposit 外部入金 (From 為 0)
func (e *LedgerEngine) Deposit(ctx context.Context, req DepositRequest) (*domain.Transaction, error) {
	tran := domain.NewTransaction(domain.TransactionKindDeposit, e.ids.NextReference(), domain.ExternalAccount, req.ToAccountID, req.Amount)
	tran.Description = req.Description
	tran.IdempotencyKey = req.IdempotencyKey
	return e.execute(ctx, e.newAttempt(tran), e.resolveDeposit)
}

// Reverse 沖正一筆已完成的轉帳：反向搬回同樣金額，原交易之後讀出來是 reversed
func (e *LedgerEngine) Reverse(ctx context.Context, req ReverseRequest) (*domain.Transaction, error) {
	tran := domain.NewTransaction(domain.TransactionKindReversal, e.ids.NextReference(), domain.ExternalAccount, domain.ExternalAccount, 0)
	tran.ReversalOf = req.TransactionID
	tran.Description = req.Description
	tran.IdempotencyKey = req.IdempotencyKey
	a := e.newAttempt(tran)
	a.guards = append(a.guards, "reversal:"+req.TransactionID.String())
	return e.execute(ctx, a, e.resolveReversal)
}

// GetTransaction 取得交易
func (e *LedgerEngine) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return e.log.Get(ctx, id)
}

// QueryHistory 查詢帳戶交易歷史 (新到舊)
func (e *LedgerEngine) QueryHistory(ctx context.Context, q HistoryQuery) *HistoryIterator {
	return e.log.QueryByAccount(ctx, q)
}

// RecentTransactions 全系統最新交易
func (e *LedgerEngine) RecentTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	return e.log.Recent(ctx, limit)
}

func (e *LedgerEngine) newAttempt(tran *domain.Transaction) *attempt {
	a := &attempt{tran: tran, state: domain.StateInitiated, start: e.clock()}
	if tran.IdempotencyKey != "" {
		a.guards = append(a.guards, "idempotency:"+tran.IdempotencyKey)
	}
	return a
}

// execute 跑完一筆交易的狀態機
func (e *LedgerEngine) execute(ctx context.Context, a *attempt, resolve func(context.Context, *domain.Transaction) error) (*domain.Transaction, error) {
	tran := a.tran

	// 超長的文字欄位寫不進交易紀錄，要在動錢前擋下
	if err := tran.ValidateText(); err != nil {
		tran.Description = domain.ClipText(tran.Description, domain.MaxDescriptionLength)
		tran.IdempotencyKey = ""
		return e.fail(ctx, a, err)
	}

	// 1. 冪等鍵與沖正對象先上鎖 (依字串排序)，之後才是帳戶鎖，順序固定不會死鎖
	if len(a.guards) > 0 {
		sort.Strings(a.guards)
		release, err := e.lock(ctx, a.guards...)
		if err != nil {
			return e.fail(ctx, a, err)
		}
		defer release()

		if tran.IdempotencyKey != "" {
			prior, err := e.log.FindCompleted(ctx, tran.IdempotencyKey)
			if err == nil {
				if !tran.SameRequest(prior) {
					return e.fail(ctx, a, fmt.Errorf("%w: key %q already used by %s %s",
						domain.ErrIdempotencyKeyReused, tran.IdempotencyKey, prior.Kind, prior.ID))
				}
				e.logger.InfoContext(ctx, "idempotent replay",
					"idempotency_key", tran.IdempotencyKey, "tx_id", prior.ID, "reference", prior.Reference)
				return prior, nil
			}
			if !errIsNotFound(err) {
				return e.fail(ctx, a, err)
			}
		}
	}

	// 2. Validated
	if err := resolve(ctx, tran); err != nil {
		return e.fail(ctx, a, err)
	}
	if err := e.advance(ctx, a, domain.StateValidated); err != nil {
		return e.fail(ctx, a, err)
	}

	// 3. 依帳戶 ID 遞增順序上鎖
	release, err := e.lock(ctx, accountLockKeys(tran.GetLockIDs())...)
	if err != nil {
		return e.fail(ctx, a, err)
	}
	if err := ctx.Err(); err != nil {
		release()
		return e.fail(ctx, a, err)
	}

	// 開始動錢之後不再理會取消，避免扣了款卻沒入帳
	err = e.move(context.WithoutCancel(ctx), a)
	release()
	if err != nil {
		return e.fail(ctx, a, err)
	}

	// 4. Completed
	if err := e.advance(ctx, a, domain.StateCompleted); err != nil {
		return e.fail(ctx, a, err)
	}
	if err := tran.Complete(); err != nil {
		return nil, err
	}
	if err := e.log.Append(context.WithoutCancel(ctx), tran); err != nil {
		// 錢已經搬了但紀錄寫不進去，必須讓維運知道
		e.logger.ErrorContext(ctx, "completed transaction not recorded",
			"alert", true, "tx_id", tran.ID, "reference", tran.Reference, "error", err)
		return tran, err
	}
	e.observer.ObserveTransaction(tran.Kind, tran.Status, e.clock().Sub(a.start))
	e.logger.InfoContext(ctx, "transaction completed",
		"tx_id", tran.ID, "reference", tran.Reference, "kind", tran.Kind,
		"from", tran.From, "to", tran.To, "amount", tran.Amount, "currency", tran.Currency)

	if tran.Kind == domain.TransactionKindReversal {
		e.logger.InfoContext(ctx, "transfer state",
			"tx_id", tran.ReversalOf, "from", domain.StateCompleted, "to", domain.StateReversed, "reversal_id", tran.ID)
	}
	return tran, nil
}

// move Debited -> Credited；入帳失敗時退回扣款
func (e *LedgerEngine) move(ctx context.Context, a *attempt) error {
	tran := a.tran
	if !tran.IsExternal() {
		if err := e.adjust(ctx, tran.From, -tran.Amount, false); err != nil {
			return err
		}
	}
	if err := e.advance(ctx, a, domain.StateDebited); err != nil {
		return err
	}

	creditErr := e.adjust(ctx, tran.To, tran.Amount, false)
	if creditErr != nil {
		if tran.IsExternal() {
			return creditErr
		}
		if err := e.compensate(ctx, tran, creditErr); err != nil {
			return err
		}
		return creditErr
	}
	return e.advance(ctx, a, domain.StateCredited)
}

// adjust 讀取最新版本後調整餘額，VersionConflict 時重試
func (e *LedgerEngine) adjust(ctx context.Context, id int64, delta int64, compensating bool) error {
	var err error
	for i := 0; i < e.opts.MaxVersionRetries; i++ {
		var account *domain.Account
		account, err = e.accounts.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if compensating {
			_, err = e.accounts.CompensateBalance(ctx, id, delta, account.Version)
		} else {
			_, err = e.accounts.AdjustBalance(ctx, id, delta, account.Version)
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		e.logger.DebugContext(ctx, "version conflict, retrying", "account_id", id, "attempt", i+1)
	}
	return err
}

// compensate 把扣掉的錢退回轉出帳戶；全部失敗就回傳 CompensationError
func (e *LedgerEngine) compensate(ctx context.Context, tran *domain.Transaction, creditErr error) error {
	var err error
	for i := 0; i < e.opts.CompensationRetries; i++ {
		if err = e.adjust(ctx, tran.From, tran.Amount, true); err == nil {
			e.observer.ObserveCompensation(true)
			e.logger.WarnContext(ctx, "credit failed, sender re-credited",
				"tx_id", tran.ID, "account_id", tran.From, "amount", tran.Amount, "error", creditErr)
			return nil
		}
		time.Sleep(time.Duration(i+1) * 5 * time.Millisecond)
	}

	cerr := &domain.CompensationError{
		TransactionID: tran.ID,
		AccountID:     tran.From,
		Amount:        tran.Amount,
		CreditErr:     creditErr,
		Cause:         err,
	}
	e.observer.ObserveCompensation(false)
	e.logger.ErrorContext(ctx, "torn transfer: compensation failed",
		"alert", true, "tx_id", tran.ID, "reference", tran.Reference,
		"account_id", tran.From, "amount", tran.Amount, "error", cerr)
	if e.opts.Alerter != nil {
		e.opts.Alerter.CompensationFailed(ctx, cerr)
	}
	return cerr
}

// fail 轉到 Failed 並寫入一筆 failed 交易供稽核
func (e *LedgerEngine) fail(ctx context.Context, a *attempt, cause error) (*domain.Transaction, error) {
	if next, err := a.state.Transition(domain.StateFailed); err == nil {
		a.state = next
	}
	tran := a.tran
	if err := tran.Fail(cause); err != nil {
		return nil, errors.Join(cause, err)
	}
	e.logger.WarnContext(ctx, "transaction failed",
		"tx_id", tran.ID, "reference", tran.Reference, "kind", tran.Kind,
		"from", tran.From, "to", tran.To, "amount", tran.Amount, "error", cause)

	if err := e.log.Append(context.WithoutCancel(ctx), tran); err != nil {
		e.logger.ErrorContext(ctx, "failed transaction not recorded", "tx_id", tran.ID, "error", err)
		return tran, errors.Join(cause, err)
	}
	e.observer.ObserveTransaction(tran.Kind, tran.Status, e.clock().Sub(a.start))
	return tran, cause
}

func (e *LedgerEngine) advance(ctx context.Context, a *attempt, next domain.TransferState) error {
	state, err := a.state.Transition(next)
	if err != nil {
		return err
	}
	e.logger.DebugContext(ctx, "transfer state", "tx_id", a.tran.ID, "from", a.state, "to", state)
	a.state = state
	return nil
}

// lock 在 LockTimeout 內取得所有鎖
func (e *LedgerEngine) lock(ctx context.Context, keys ...string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, e.opts.LockTimeout)
	defer cancel()
	start := e.clock()
	release, err := e.locker.Acquire(lockCtx, keys...)
	e.observer.ObserveLockWait(e.clock().Sub(start), err)
	if err != nil {
		return nil, err
	}
	return release, nil
}

func (e *LedgerEngine) resolveTransfer(ctx context.Context, tran *domain.Transaction) error {
	if tran.Amount <= 0 {
		return domain.ErrAmountMustBePositive
	}
	from, err := e.accounts.GetAccount(ctx, tran.From)
	if err != nil {
		return err
	}
	to, err := e.accounts.LookupByNumber(ctx, tran.ToNumber)
	if err != nil {
		return err
	}
	tran.To = to.ID
	tran.Currency = from.Currency
	if err := tran.Validate(); err != nil {
		return err
	}
	if !from.IsActive() {
		return fmt.Errorf("%w: source account %d is %s", domain.ErrAccountNotActive, from.ID, from.Status)
	}
	if !to.IsActive() {
		return fmt.Errorf("%w: destination account %s is %s", domain.ErrAccountNotActive, to.Number, to.Status)
	}
	if from.Currency != to.Currency {
		return fmt.Errorf("%w: %s -> %s", domain.ErrCurrencyMismatch, from.Currency, to.Currency)
	}
	return nil
}

func (e *LedgerEngine) resolveDeposit(ctx context.Context, tran *domain.Transaction) error {
	if tran.Amount <= 0 {
		return domain.ErrAmountMustBePositive
	}
	to, err := e.accounts.GetAccount(ctx, tran.To)
	if err != nil {
		return err
	}
	tran.ToNumber = to.Number
	tran.Currency = to.Currency
	if !to.IsActive() {
		return fmt.Errorf("%w: account %d is %s", domain.ErrAccountNotActive, to.ID, to.Status)
	}
	return nil
}

func (e *LedgerEngine) resolveReversal(ctx context.Context, tran *domain.Transaction) error {
	orig, err := e.log.Get(ctx, tran.ReversalOf)
	if err != nil {
		return err
	}
	if orig.Status == domain.TransactionStatusReversed {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyReversed, orig.ID)
	}
	if orig.Kind != domain.TransactionKindTransfer || orig.Status != domain.TransactionStatusCompleted {
		return fmt.Errorf("%w: %s is a %s %s", domain.ErrNotReversible, orig.ID, orig.Status, orig.Kind)
	}
	sender, err := e.accounts.GetAccount(ctx, orig.From)
	if err != nil {
		return err
	}
	tran.From = orig.To
	tran.To = orig.From
	tran.ToNumber = sender.Number
	tran.Amount = orig.Amount
	tran.Currency = orig.Currency
	return tran.Validate()
}

func accountLockKey(id int64) string {
	return "account:" + strconv.FormatInt(id, 10)
}

// accountLockKeys ids 必須已經是遞增順序 (domain.Transaction.GetLockIDs)
func accountLockKeys(ids []int64) []string {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, accountLockKey(id))
	}
	return keys
}
