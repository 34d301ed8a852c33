package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// keySlot 容量為 1 的 channel 當作可被取消的 mutex
type keySlot struct {
	ch   chan struct{}
	refs int
}

// KeyLocker 單機的命名鎖，沒人使用的 key 會被回收
type KeyLocker struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

// NewKeyLocker 建立 KeyLocker
func NewKeyLocker() *KeyLocker {
	return &KeyLocker{slots: make(map[string]*keySlot)}
}

// Acquire 依傳入順序取得所有 key，重複的 key 只取一次。
// ctx 結束時放掉已取得的鎖並回傳 domain.ErrLockTimeout
func (l *KeyLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	held := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		slot := l.ref(key)
		select {
		case slot.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			l.unref(key)
			l.releaseAll(held)
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrLockTimeout, key, ctx.Err())
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.releaseAll(held) })
	}, nil
}

func (l *KeyLocker) releaseAll(keys []string) {
	// 反序釋放
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		slot := l.slots[keys[i]]
		l.mu.Unlock()
		<-slot.ch
		l.unref(keys[i])
	}
}

func (l *KeyLocker) ref(key string) *keySlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &keySlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	return slot
}

func (l *KeyLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot := l.slots[key]
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

var _ usecase.Locker = (*KeyLocker)(nil)
