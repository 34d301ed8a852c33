package domain

import (
	"errors"
	"testing"
)

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		amount int64
		cur    Currency
		want   string
	}{
		{250075, USD, "2500.75"},
		{100000, RUB, "1000.00"},
		{5, EUR, "0.05"},
		{500, JPY, "500"},
	}
	for _, tc := range cases {
		if got := FormatAmount(tc.amount, tc.cur); got != tc.want {
			t.Errorf("FormatAmount(%d, %s) = %q, want %q", tc.amount, tc.cur, got, tc.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in      string
		cur     Currency
		want    int64
		wantErr error
	}{
		{in: "25.00", cur: USD, want: 2500},
		{in: "25", cur: USD, want: 2500},
		{in: "0.1", cur: RUB, want: 10},
		{in: "1500", cur: JPY, want: 1500},
		{in: "0.001", cur: USD, wantErr: ErrValidation},
		{in: "1.5", cur: JPY, wantErr: ErrValidation},
		{in: "abc", cur: USD, wantErr: ErrValidation},
		{in: "10", cur: "XXX", wantErr: ErrInvalidCurrency},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in, tc.cur)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("ParseAmount(%q, %s) err = %v, want %v", tc.in, tc.cur, err, tc.wantErr)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("ParseAmount(%q, %s) = %d, want %d", tc.in, tc.cur, got, tc.want)
		}
	}
}
