package idgen

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

func newGenerator(t *testing.T) *Generator {
	t.Helper()
	g, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestNextAccountNumberFormat(t *testing.T) {
	g := newGenerator(t)
	n, err := g.NextAccountNumber(domain.AccountTypeChecking)
	if err != nil {
		t.Fatal(err)
	}
	if n != "40817810000000000001" {
		t.Fatalf("first checking number = %q", n)
	}
	s, err := g.NextAccountNumber(domain.AccountTypeSavings)
	if err != nil {
		t.Fatal(err)
	}
	if s != "42301810000000000001" {
		t.Fatalf("first savings number = %q", s)
	}
	if _, err := g.NextAccountNumber(domain.AccountType(99)); !errors.Is(err, domain.ErrInvalidAccountType) {
		t.Fatalf("unknown type err = %v", err)
	}
}

func TestNextAccountNumberConcurrentUnique(t *testing.T) {
	g := newGenerator(t)
	const workers, perWorker = 32, 500

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]string, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				n, err := g.NextAccountNumber(domain.AccountTypeChecking)
				if err != nil {
					t.Error(err)
					return
				}
				local = append(local, n)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, n := range local {
				seen[n] = struct{}{}
			}
		}()
	}
	wg.Wait()
	if len(seen) != workers*perWorker {
		t.Fatalf("unique numbers = %d, want %d", len(seen), workers*perWorker)
	}
	for n := range seen {
		if !domain.ValidAccountNumber(n) {
			t.Fatalf("invalid number %q", n)
		}
	}
}

func TestObserveSkipsExistingNumbers(t *testing.T) {
	g := newGenerator(t)
	if err := g.Observe("40817810000000000041"); err != nil {
		t.Fatal(err)
	}
	// 較小的號碼不應讓計數器倒退
	if err := g.Observe("40817810000000000007"); err != nil {
		t.Fatal(err)
	}
	n, _ := g.NextAccountNumber(domain.AccountTypeChecking)
	if n != "40817810000000000042" {
		t.Fatalf("after Observe next = %q", n)
	}
	if err := g.Observe("99999999000000000001"); !errors.Is(err, domain.ErrInvalidAccountNumber) {
		t.Fatalf("unknown prefix err = %v", err)
	}
}

func TestSerialExhausted(t *testing.T) {
	g := newGenerator(t)
	g.serials[domain.AccountTypeSavings].Store(MaxSerial)
	if _, err := g.NextAccountNumber(domain.AccountTypeSavings); !errors.Is(err, ErrSerialExhausted) {
		t.Fatalf("err = %v, want ErrSerialExhausted", err)
	}
}

func TestNextReferenceUnique(t *testing.T) {
	g := newGenerator(t)
	const n = 10000
	seen := make(map[string]struct{}, n)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n/8; j++ {
				ref := g.NextReference()
				mu.Lock()
				seen[ref] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != n {
		t.Fatalf("unique references = %d, want %d", len(seen), n)
	}
	for ref := range seen {
		if !strings.HasPrefix(ref, "TX") || len(ref) != 21 {
			t.Fatalf("malformed reference %q", ref)
		}
		break
	}
}
