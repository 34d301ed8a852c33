package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/idgen"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	store    *memory.Store
	accounts *usecase.AccountStore
	log      *usecase.TransactionLog
	engine   *usecase.LedgerEngine
	alerts   *recordingAlerter
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	repo   func(usecase.AccountRepository) usecase.AccountRepository
	locker usecase.Locker
	opts   usecase.EngineOptions
}

func withAccountRepo(wrap func(usecase.AccountRepository) usecase.AccountRepository) fixtureOption {
	return func(c *fixtureConfig) { c.repo = wrap }
}

func withLocker(l usecase.Locker) fixtureOption {
	return func(c *fixtureConfig) { c.locker = l }
}

func withEngineOptions(opts usecase.EngineOptions) fixtureOption {
	return func(c *fixtureConfig) { c.opts = opts }
}

func newFixture(t *testing.T, options ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{
		repo:   func(r usecase.AccountRepository) usecase.AccountRepository { return r },
		locker: memory.NewKeyLocker(),
	}
	for _, opt := range options {
		opt(&cfg)
	}

	ids, err := idgen.New(1)
	if err != nil {
		t.Fatal(err)
	}
	store := memory.NewStore()
	accounts := usecase.NewAccountStore(cfg.repo(store.Accounts()), ids)
	log := usecase.NewTransactionLog(store.Transactions(), 2)
	alerts := &recordingAlerter{}

	opts := cfg.opts
	opts.Logger = discard
	opts.Alerter = alerts
	return &fixture{
		store:    store,
		accounts: accounts,
		log:      log,
		engine:   usecase.NewLedgerEngine(accounts, log, cfg.locker, ids, opts),
		alerts:   alerts,
	}
}

func (f *fixture) open(t *testing.T, owner string, balance int64) *domain.Account {
	t.Helper()
	account, err := f.engine.OpenAccount(context.Background(), usecase.OpenAccountRequest{
		OwnerID:        owner,
		InitialBalance: balance,
		Currency:       domain.RUB,
	})
	if err != nil {
		t.Fatal(err)
	}
	return account
}

func (f *fixture) balance(t *testing.T, id int64) int64 {
	t.Helper()
	account, err := f.engine.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return account.Balance
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []*domain.CompensationError
}

func (a *recordingAlerter) CompensationFailed(_ context.Context, err *domain.CompensationError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, err)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

// flakyAccounts 讓指定的 CompareAndSwap 失敗
type flakyAccounts struct {
	usecase.AccountRepository
	fail func(account *domain.Account) error
}

func (f *flakyAccounts) CompareAndSwap(ctx context.Context, account *domain.Account, expectedVersion uint64) error {
	if err := f.fail(account); err != nil {
		return err
	}
	return f.AccountRepository.CompareAndSwap(ctx, account, expectedVersion)
}

// stuckLocker 永遠拿不到鎖
type stuckLocker struct{}

func (stuckLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %v: %w", domain.ErrLockTimeout, keys, ctx.Err())
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, "alice", 10000)
	b := f.open(t, "bob", 0)

	tran, err := f.engine.Transfer(ctx, usecase.TransferRequest{
		FromAccountID:   a.ID,
		ToAccountNumber: b.Number,
		Amount:          2500,
		Description:     "rent",
	})
	if err != nil {
		t.Fatal(err)
	}
	if tran.Status != domain.TransactionStatusCompleted || tran.To != b.ID || tran.Currency != domain.RUB {
		t.Fatalf("unexpected transaction %+v", tran)
	}
	if tran.CreatedAt == 0 || tran.Sequence == 0 {
		t.Fatalf("transaction not stamped: created_at=%d sequence=%d", tran.CreatedAt, tran.Sequence)
	}
	if got := f.balance(t, a.ID); got != 7500 {
		t.Errorf("sender balance = %d, want 7500", got)
	}
	if got := f.balance(t, b.ID); got != 2500 {
		t.Errorf("receiver balance = %d, want 2500", got)
	}

	// 餘額不足
	failed, err := f.engine.Transfer(ctx, usecase.TransferRequest{
		FromAccountID:   a.ID,
		ToAccountNumber: b.Number,
		Amount:          999999,
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if failed == nil || failed.Status != domain.TransactionStatusFailed || failed.FailureReason == "" {
		t.Fatalf("failed transfer not recorded: %+v", failed)
	}
	if f.balance(t, a.ID) != 7500 || f.balance(t, b.ID) != 2500 {
		t.Fatal("balances changed by a failed transfer")
	}
}

func TestTransferRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, "alice", 1000)
	b := f.open(t, "bob", 1000)
	usd, err := f.engine.OpenAccount(ctx, usecase.OpenAccountRequest{OwnerID: "carol", Currency: domain.USD})
	if err != nil {
		t.Fatal(err)
	}
	blocked := f.open(t, "dave", 0)
	if _, err := f.engine.SetAccountStatus(ctx, blocked.ID, domain.AccountStatusBlocked); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		req  usecase.TransferRequest
		want error
	}{
		{"self transfer", usecase.TransferRequest{FromAccountID: a.ID, ToAccountNumber: a.Number, Amount: 1}, domain.ErrSameAccount},
		{"zero amount", usecase.TransferRequest{FromAccountID: a.ID, ToAccountNumber: b.Number}, domain.ErrAmountMustBePositive},
		{"negative amount", usecase.TransferRequest{FromAccountID: a.ID, ToAccountNumber: b.Number, Amount: -5}, domain.ErrValidation},
		{"unknown sender", usecase.TransferRequest{FromAccountID: 999, ToAccountNumber: b.Number, Amount: 1}, domain.ErrAccountNotFound},
		{"unknown receiver", usecase.TransferRequest{FromAccountID: a.ID, ToAccountNumber: "40817810999999999999", Amount: 1}, domain.ErrAccountNotFound},
		{"malformed number", usecase.TransferRequest{FromAccountID: a.ID, ToAccountNumber: "abc", Amount: 1}, domain.ErrInvalidAccountNumber},
		{"currency mismatch", usecase.TransferRequest{FromAccountID: a.ID, ToAccountNumber: usd.Number, Amount: 1}, domain.ErrCurrencyMismatch},
		{"blocked receiver", usecase.TransferRequest{FromAccountID: a.ID, ToAccountNumber: blocked.Number, Amount: 1}, domain.ErrAccountNotActive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tran, err := f.engine.Transfer(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if tran == nil || tran.Status != domain.TransactionStatusFailed {
				t.Fatalf("expected a failed transaction, got %+v", tran)
			}
		})
	}
	if f.balance(t, a.ID) != 1000 || f.balance(t, b.ID) != 1000 {
		t.Fatal("rejected transfers moved money")
	}
}

func TestConcurrentCrossingTransfers(t *testing.T) {
	const (
		workers = 1000
		initial = 100000
		amount  = 10
	)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	f := newFixture(t, withEngineOptions(usecase.EngineOptions{LockTimeout: 10 * time.Second}))
	a := f.open(t, "alice", initial)
	b := f.open(t, "bob", initial)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			if _, err := f.engine.Transfer(ctx, usecase.TransferRequest{
				FromAccountID:   from.ID,
				ToAccountNumber: to.Number,
				Amount:          amount,
			}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("transfer failed: %v", err)
	}

	ba, bb := f.balance(t, a.ID), f.balance(t, b.ID)
	if ba+bb != 2*initial {
		t.Fatalf("conservation violated: %d + %d", ba, bb)
	}
	if ba != initial || bb != initial {
		t.Fatalf("balances = %d/%d, want %d each", ba, bb, initial)
	}
	if got := f.store.Transactions().Len(); got != workers {
		t.Fatalf("recorded %d transactions, want %d", got, workers)
	}
}

func TestIdempotentTransfer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, "alice", 1000)
	b := f.open(t, "bob", 0)
	req := usecase.TransferRequest{
		FromAccountID:   a.ID,
		ToAccountNumber: b.Number,
		Amount:          100,
		IdempotencyKey:  "order-42",
	}

	first, err := f.engine.Transfer(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.engine.Transfer(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID || first.Reference != second.Reference {
		t.Fatalf("replay returned a new transaction: %s vs %s", first.ID, second.ID)
	}
	if f.balance(t, a.ID) != 900 || f.balance(t, b.ID) != 100 {
		t.Fatal("replay moved money twice")
	}

	// 失敗的嘗試不佔用冪等鍵
	fresh, err := f.engine.Transfer(ctx, usecase.TransferRequest{
		FromAccountID:   a.ID,
		ToAccountNumber: b.Number,
		Amount:          5000,
		IdempotencyKey:  "order-43",
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) || fresh.Status != domain.TransactionStatusFailed {
		t.Fatalf("err = %v", err)
	}
	retry, err := f.engine.Transfer(ctx, usecase.TransferRequest{
		FromAccountID:   a.ID,
		ToAccountNumber: b.Number,
		Amount:          50,
		IdempotencyKey:  "order-43",
	})
	if err != nil {
		t.Fatal(err)
	}
	if retry.ID == fresh.ID {
		t.Fatal("retry after failure must create a new transaction")
	}
}

func TestConcurrentIdempotentTransfer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, "alice", 1000)
	b := f.open(t, "bob", 0)

	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tran, err := f.engine.Transfer(ctx, usecase.TransferRequest{
				FromAccountID:   a.ID,
				ToAccountNumber: b.Number,
				Amount:          10,
				IdempotencyKey:  "same-key",
			})
			if err != nil {
				t.Error(err)
				return
			}
			ids <- tran.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uuid.UUID]bool)
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Fatalf("got %d distinct transactions, want 1", len(seen))
	}
	if f.balance(t, b.ID) != 10 {
		t.Fatalf("receiver balance = %d, want 10", f.balance(t, b.ID))
	}
}

func TestTransferRejectsOverlongText(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, "alice", 1000)
	b := f.open(t, "bob", 0)

	tests := []struct {
		name string
		req  usecase.TransferRequest
	}{
		{"description", usecase.TransferRequest{Description: strings.Repeat("x", domain.MaxDescriptionLength+1)}},
		{"multibyte description", usecase.TransferRequest{Description: strings.Repeat("轉", domain.MaxDescriptionLength+1)}},
		{"idempotency key", usecase.TransferRequest{IdempotencyKey: strings.Repeat("k", domain.MaxIdempotencyKeyLength+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.FromAccountID, req.ToAccountNumber, req.Amount = a.ID, b.Number, 100
			tran, err := f.engine.Transfer(ctx, req)
			if !errors.Is(err, domain.ErrFieldTooLong) || !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("err = %v", err)
			}
			if tran.Status != domain.TransactionStatusFailed || tran.IdempotencyKey != "" {
				t.Fatalf("transaction = %+v", tran)
			}
			if n := len([]rune(tran.Description)); n > domain.MaxDescriptionLength {
				t.Fatalf("recorded description has %d characters", n)
			}
			if _, err := f.log.Get(ctx, tran.ID); err != nil {
				t.Fatalf("failed attempt not recorded: %v", err)
			}
		})
	}
	if f.balance(t, a.ID) != 1000 || f.balance(t, b.ID) != 0 {
		t.Fatal("rejected transfer moved money")
	}

	// 剛好在上限內可以通過
	if _, err := f.engine.Transfer(ctx, usecase.TransferRequest{
		FromAccountID:   a.ID,
		ToAccountNumber: b.Number,
		Amount:          100,
		Description:     strings.Repeat("x", domain.MaxDescriptionLength),
		IdempotencyKey:  strings.Repeat("k", domain.MaxIdempotencyKeyLength),
	}); err != nil {
		t.Fatal(err)
	}
}

func TestIdempotencyKeyReusedWithDifferentRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, "alice", 1000)
	b := f.open(t, "bob", 0)

	if _, err := f.engine.Deposit(ctx, usecase.DepositRequest{ToAccountID: b.ID, Amount: 500, IdempotencyKey: "k-1"}); err != nil {
		t.Fatal(err)
	}
	first, err := f.engine.Transfer(ctx, usecase.TransferRequest{FromAccountID: a.ID, ToAccountNumber: b.Number, Amount: 100, IdempotencyKey: "k-2"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		req  usecase.TransferRequest
	}{
		{"key of a deposit", usecase.TransferRequest{FromAccountID: a.ID, ToAccountNumber: b.Number, Amount: 500, IdempotencyKey: "k-1"}},
		{"different amount", usecase.TransferRequest{FromAccountID: a.ID, ToAccountNumber: b.Number, Amount: 200, IdempotencyKey: "k-2"}},
		{"different direction", usecase.TransferRequest{FromAccountID: b.ID, ToAccountNumber: a.Number, Amount: 100, IdempotencyKey: "k-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tran, err := f.engine.Transfer(ctx, tt.req)
			if !errors.Is(err, domain.ErrIdempotencyKeyReused) {
				t.Fatalf("err = %v", err)
			}
			if tran.Status != domain.TransactionStatusFailed {
				t.Fatalf("status = %s", tran.Status)
			}
		})
	}
	if f.balance(t, a.ID) != 900 || f.balance(t, b.ID) != 600 {
		t.Fatalf("balances = %d/%d, want 900/600", f.balance(t, a.ID), f.balance(t, b.ID))
	}

	// 完全相同的請求仍然是重送
	again, err := f.engine.Transfer(ctx, usecase.TransferRequest{FromAccountID: a.ID, ToAccountNumber: b.Number, Amount: 100, IdempotencyKey: "k-2"})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID {
		t.Fatalf("replay = %s, want %s", again.ID, first.ID)
	}
}

func TestCompensation(t *testing.T) {
	ctx := context.Background()
	var bID int64
	injected := errors.New("disk full")
	f := newFixture(t, withAccountRepo(func(r usecase.AccountRepository) usecase.AccountRepository {
		return &flakyAccounts{AccountRepository: r, fail: func(acc *domain.Account) error {
			if acc.ID == bID {
				return injected
			}
			return nil
		}}
	}))
	a := f.open(t, "alice", 1000)
	b := f.open(t, "bob", 0)
	bID = b.ID

	tran, err := f.engine.Transfer(ctx, usecase.TransferRequest{
		FromAccountID:   a.ID,
		ToAccountNumber: b.Number,
		Amount:          300,
	})
	if !errors.Is(err, injected) {
		t.Fatalf("err = %v, want the credit error", err)
	}
	if errors.Is(err, domain.ErrCompensationFailed) {
		t.Fatal("compensation should have succeeded")
	}
	if tran.Status != domain.TransactionStatusFailed {
		t.Fatalf("status = %s, want failed", tran.Status)
	}
	if got := f.balance(t, a.ID); got != 1000 {
		t.Fatalf("sender balance = %d, want 1000 after compensation", got)
	}
	if f.alerts.count() != 0 {
		t.Fatal("successful compensation must not alert")
	}
}

func TestCompensationFailure(t *testing.T) {
	ctx := context.Background()
	var (
		mu     sync.Mutex
		debits int
		aID    int64
		armed  bool
	)
	injected := errors.New("storage offline")
	f := newFixture(t,
		withEngineOptions(usecase.EngineOptions{CompensationRetries: 2}),
		withAccountRepo(func(r usecase.AccountRepository) usecase.AccountRepository {
			return &flakyAccounts{AccountRepository: r, fail: func(acc *domain.Account) error {
				mu.Lock()
				defer mu.Unlock()
				if !armed {
					return nil
				}
				// 只放行第一次扣款，之後全部失敗
				if acc.ID == aID && debits == 0 {
					debits++
					return nil
				}
				return injected
			}}
		}),
	)
	a := f.open(t, "alice", 1000)
	b := f.open(t, "bob", 0)
	mu.Lock()
	aID, armed = a.ID, true
	mu.Unlock()

	tran, err := f.engine.Transfer(ctx, usecase.TransferRequest{
		FromAccountID:   a.ID,
		ToAccountNumber: b.Number,
		Amount:          300,
	})
	if !errors.Is(err, domain.ErrCompensationFailed) {
		t.Fatalf("err = %v, want ErrCompensationFailed", err)
	}
	var cerr *domain.CompensationError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %T, want *domain.CompensationError", err)
	}
	if cerr.AccountID != a.ID || cerr.Amount != 300 || cerr.TransactionID != tran.ID {
		t.Fatalf("unexpected compensation error %+v", cerr)
	}
	if !errors.Is(cerr.CreditErr, injected) {
		t.Fatalf("credit error = %v", cerr.CreditErr)
	}
	if f.alerts.count() != 1 {
		t.Fatalf("alerts = %d, want 1", f.alerts.count())
	}
	if tran.Status != domain.TransactionStatusFailed {
		t.Fatalf("status = %s, want failed", tran.Status)
	}
}

func TestLockTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, "alice", 1000)
	b := f.open(t, "bob", 0)

	ids, err := idgen.New(2)
	if err != nil {
		t.Fatal(err)
	}
	stuck := usecase.NewLedgerEngine(f.accounts, f.log, stuckLocker{}, ids, usecase.EngineOptions{
		LockTimeout: 20 * time.Millisecond,
		Logger:      discard,
	})

	start := time.Now()
	tran, err := stuck.Transfer(ctx, usecase.TransferRequest{
		FromAccountID:   a.ID,
		ToAccountNumber: b.Number,
		Amount:          100,
	})
	if !errors.Is(err, domain.ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("lock wait took %v", elapsed)
	}
	if tran == nil || tran.Status != domain.TransactionStatusFailed {
		t.Fatalf("expected failed transaction, got %+v", tran)
	}
	if f.balance(t, a.ID) != 1000 || f.balance(t, b.ID) != 0 {
		t.Fatal("timed out transfer moved money")
	}
}

func TestCanceledBeforeLock(t *testing.T) {
	f := newFixture(t)
	a := f.open(t, "alice", 1000)
	b := f.open(t, "bob", 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.engine.Transfer(ctx, usecase.TransferRequest{
		FromAccountID:   a.ID,
		ToAccountNumber: b.Number,
		Amount:          100,
	})
	if err == nil {
		t.Fatal("expected an error for a canceled context")
	}
	if f.balance(t, a.ID) != 1000 {
		t.Fatal("canceled transfer moved money")
	}
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, "alice", 0)

	tran, err := f.engine.Deposit(ctx, usecase.DepositRequest{ToAccountID: a.ID, Amount: 500, IdempotencyKey: "cash-1"})
	if err != nil {
		t.Fatal(err)
	}
	if tran.Kind != domain.TransactionKindDeposit || tran.From != domain.ExternalAccount || tran.ToNumber != a.Number {
		t.Fatalf("unexpected deposit %+v", tran)
	}
	if _, err := f.engine.Deposit(ctx, usecase.DepositRequest{ToAccountID: a.ID, Amount: 500, IdempotencyKey: "cash-1"}); err != nil {
		t.Fatal(err)
	}
	if got := f.balance(t, a.ID); got != 500 {
		t.Fatalf("balance = %d, want 500", got)
	}

	if _, err := f.engine.Deposit(ctx, usecase.DepositRequest{ToAccountID: a.ID}); !errors.Is(err, domain.ErrAmountMustBePositive) {
		t.Fatalf("zero deposit err = %v", err)
	}
	if _, err := f.engine.Deposit(ctx, usecase.DepositRequest{ToAccountID: 999, Amount: 1}); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("missing account err = %v", err)
	}
}

func TestReverse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, "alice", 1000)
	b := f.open(t, "bob", 0)

	orig, err := f.engine.Transfer(ctx, usecase.TransferRequest{FromAccountID: a.ID, ToAccountNumber: b.Number, Amount: 300})
	if err != nil {
		t.Fatal(err)
	}

	rev, err := f.engine.Reverse(ctx, usecase.ReverseRequest{TransactionID: orig.ID, Description: "chargeback"})
	if err != nil {
		t.Fatal(err)
	}
	if rev.Kind != domain.TransactionKindReversal || rev.ReversalOf != orig.ID || rev.From != b.ID || rev.To != a.ID || rev.Amount != 300 {
		t.Fatalf("unexpected reversal %+v", rev)
	}
	if f.balance(t, a.ID) != 1000 || f.balance(t, b.ID) != 0 {
		t.Fatal("reversal did not restore balances")
	}

	got, err := f.engine.GetTransaction(ctx, orig.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TransactionStatusReversed {
		t.Fatalf("original status = %s, want reversed", got.Status)
	}

	if _, err := f.engine.Reverse(ctx, usecase.ReverseRequest{TransactionID: orig.ID}); !errors.Is(err, domain.ErrAlreadyReversed) {
		t.Fatalf("second reversal err = %v", err)
	}
	if _, err := f.engine.Reverse(ctx, usecase.ReverseRequest{TransactionID: rev.ID}); !errors.Is(err, domain.ErrNotReversible) {
		t.Fatalf("reversing a reversal err = %v", err)
	}
	if _, err := f.engine.Reverse(ctx, usecase.ReverseRequest{TransactionID: uuid.New()}); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("unknown transaction err = %v", err)
	}
}

func TestReverseInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, "alice", 1000)
	b := f.open(t, "bob", 0)
	c := f.open(t, "carol", 0)

	orig, err := f.engine.Transfer(ctx, usecase.TransferRequest{FromAccountID: a.ID, ToAccountNumber: b.Number, Amount: 300})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Transfer(ctx, usecase.TransferRequest{FromAccountID: b.ID, ToAccountNumber: c.Number, Amount: 200}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.engine.Reverse(ctx, usecase.ReverseRequest{TransactionID: orig.ID}); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	got, _ := f.engine.GetTransaction(ctx, orig.ID)
	if got.Status != domain.TransactionStatusCompleted {
		t.Fatalf("original status = %s, want completed", got.Status)
	}
}

func TestSetAccountStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, "alice", 100)
	b := f.open(t, "bob", 0)

	if _, err := f.engine.SetAccountStatus(ctx, a.ID, domain.AccountStatusBlocked); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Transfer(ctx, usecase.TransferRequest{FromAccountID: a.ID, ToAccountNumber: b.Number, Amount: 1}); !errors.Is(err, domain.ErrAccountNotActive) {
		t.Fatalf("blocked sender err = %v", err)
	}
	if _, err := f.engine.SetAccountStatus(ctx, a.ID, domain.AccountStatusClosed); !errors.Is(err, domain.ErrAccountHasBalance) {
		t.Fatalf("close with balance err = %v", err)
	}
	if _, err := f.engine.SetAccountStatus(ctx, b.ID, domain.AccountStatusClosed); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.SetAccountStatus(ctx, b.ID, domain.AccountStatusActive); !errors.Is(err, domain.ErrIllegalStatusChange) {
		t.Fatalf("reopen err = %v", err)
	}
}

func TestHistoryRecordsFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.open(t, "alice", 100)
	b := f.open(t, "bob", 0)

	if _, err := f.engine.Transfer(ctx, usecase.TransferRequest{FromAccountID: a.ID, ToAccountNumber: b.Number, Amount: 60}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Transfer(ctx, usecase.TransferRequest{FromAccountID: a.ID, ToAccountNumber: b.Number, Amount: 60}); err == nil {
		t.Fatal("second transfer should fail")
	}

	visible, err := f.engine.QueryHistory(ctx, usecase.HistoryQuery{AccountID: a.ID}).Collect()
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 || visible[0].Status != domain.TransactionStatusCompleted {
		t.Fatalf("history without failures = %d entries", len(visible))
	}

	all, err := f.engine.QueryHistory(ctx, usecase.HistoryQuery{AccountID: a.ID, IncludeFailed: true}).Collect()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Status != domain.TransactionStatusFailed {
		t.Fatalf("history with failures = %+v", all)
	}

	recent, err := f.engine.RecentTransactions(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent = %d, want 2", len(recent))
	}
}

func TestListAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.open(t, "alice", 10)
	second := f.open(t, "alice", 20)
	f.open(t, "bob", 30)

	accounts, err := f.engine.ListAccounts(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 2 || accounts[0].ID != first.ID || accounts[1].ID != second.ID {
		t.Fatalf("accounts = %+v", accounts)
	}

	got, err := f.engine.LookupByNumber(ctx, second.Number)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != second.ID || got.Balance != 20 {
		t.Fatalf("lookup = %+v", got)
	}
}
