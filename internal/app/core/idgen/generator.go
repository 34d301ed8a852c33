// Package idgen 產生帳號與交易序號。
//
// 帳號 = 8 碼類型前綴 + 12 碼流水號 (原子遞增，不使用亂數)。
// 交易序號 = "TX" + 19 碼 snowflake ID (時間 + 節點 + 序號)。
package idgen

import (
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/bwmarrin/snowflake"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

const (
	prefixLength = 8
	serialDigits = domain.AccountNumberLength - prefixLength
	// MaxSerial 12 碼流水號上限
	MaxSerial uint64 = 999_999_999_999

	referencePrefix = "TX"
)

// ErrSerialExhausted 流水號用完
var ErrSerialExhausted = errors.New("account serial exhausted")

// prefixes 帳戶類型對應的前綴 (沿用舊系統的 40817810 個人活存)
var prefixes = map[domain.AccountType]string{
	domain.AccountTypeChecking: "40817810",
	domain.AccountTypeSavings:  "42301810",
}

// Prefix 回傳帳戶類型的帳號前綴
func Prefix(t domain.AccountType) (string, error) {
	p, ok := prefixes[t]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidAccountType, t)
	}
	return p, nil
}

// Generator 是執行緒安全的產號器
type Generator struct {
	node    *snowflake.Node
	serials map[domain.AccountType]*atomic.Uint64
}

// New 建立產號器
//
// 參數:
//
//	nodeID: snowflake 節點編號 (0~1023)，多個行程共用資料庫時必須不同
func New(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node %d: %w", nodeID, err)
	}
	g := &Generator{
		node:    node,
		serials: make(map[domain.AccountType]*atomic.Uint64, len(prefixes)),
	}
	// map 只在建構時寫入，之後只讀，不需要鎖
	for t := range prefixes {
		g.serials[t] = new(atomic.Uint64)
	}
	return g, nil
}

// NextAccountNumber 回傳下一個帳號
func (g *Generator) NextAccountNumber(t domain.AccountType) (string, error) {
	prefix, err := Prefix(t)
	if err != nil {
		return "", err
	}
	serial := g.serials[t].Add(1)
	if serial > MaxSerial {
		return "", fmt.Errorf("%w: %s", ErrSerialExhausted, t)
	}
	return fmt.Sprintf("%s%0*d", prefix, serialDigits, serial), nil
}

// NextReference 回傳下一個交易序號
func (g *Generator) NextReference() string {
	return fmt.Sprintf("%s%019d", referencePrefix, g.node.Generate().Int64())
}

// Observe 讓流水號至少跳過一個既有帳號 (重啟後從資料庫補種子用)
func (g *Generator) Observe(number string) error {
	if !domain.ValidAccountNumber(number) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidAccountNumber, number)
	}
	var t domain.AccountType
	for typ, p := range prefixes {
		if number[:prefixLength] == p {
			t = typ
			break
		}
	}
	if t == 0 {
		return fmt.Errorf("%w: unknown prefix in %q", domain.ErrInvalidAccountNumber, number)
	}
	seen, err := strconv.ParseUint(number[prefixLength:], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", domain.ErrInvalidAccountNumber, number)
	}
	counter := g.serials[t]
	for {
		cur := counter.Load()
		if cur >= seen {
			return nil
		}
		if counter.CompareAndSwap(cur, seen) {
			return nil
		}
	}
}
