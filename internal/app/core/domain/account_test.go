package domain

import (
	"errors"
	"math"
	"testing"
)

func TestAccountApplyDelta(t *testing.T) {
	cases := []struct {
		name    string
		balance int64
		delta   int64
		want    int64
		wantErr error
	}{
		{name: "credit", balance: 100, delta: 50, want: 150},
		{name: "debit", balance: 100, delta: -100, want: 0},
		{name: "insufficient", balance: 100, delta: -101, want: 100, wantErr: ErrInsufficientFunds},
		{name: "overflow", balance: math.MaxInt64 - 1, delta: 2, want: math.MaxInt64 - 1, wantErr: ErrBalanceOverflow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &Account{Balance: tc.balance}
			got, err := a.ApplyDelta(tc.delta)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if got != tc.want || a.Balance != tc.want {
				t.Fatalf("balance = %d/%d, want %d", got, a.Balance, tc.want)
			}
		})
	}
}

func TestAccountStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to AccountStatus
		ok       bool
	}{
		{AccountStatusActive, AccountStatusBlocked, true},
		{AccountStatusBlocked, AccountStatusActive, true},
		{AccountStatusActive, AccountStatusClosed, true},
		{AccountStatusBlocked, AccountStatusClosed, true},
		{AccountStatusClosed, AccountStatusActive, false},
		{AccountStatusActive, AccountStatusActive, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestParseAccountStatusAndType(t *testing.T) {
	if s, err := ParseAccountStatus("Blocked"); err != nil || s != AccountStatusBlocked {
		t.Fatalf("ParseAccountStatus = %v, %v", s, err)
	}
	if _, err := ParseAccountStatus("frozen"); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown status err = %v", err)
	}
	if typ, err := ParseAccountType(""); err != nil || typ != AccountTypeChecking {
		t.Fatalf("ParseAccountType(\"\") = %v, %v", typ, err)
	}
	if _, err := ParseAccountType("brokerage"); !errors.Is(err, ErrInvalidAccountType) {
		t.Fatalf("unknown type err = %v", err)
	}
}

func TestValidAccountNumber(t *testing.T) {
	cases := map[string]bool{
		"40817810000000000001": true,
		"4081781000000000000":  false,
		"40817810A00000000001": false,
		"":                     false,
	}
	for number, want := range cases {
		if got := ValidAccountNumber(number); got != want {
			t.Errorf("ValidAccountNumber(%q) = %v, want %v", number, got, want)
		}
	}
}
