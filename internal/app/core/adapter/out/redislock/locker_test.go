package redislock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

func newTestLocker(t *testing.T, cfg Config) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.Addr = mr.Addr()
	client, err := NewClient(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return New(client, cfg, nil), mr
}

func TestAcquireRelease(t *testing.T) {
	locker, mr := newTestLocker(t, Config{KeyPrefix: "test:"})

	release, err := locker.Acquire(context.Background(), "account:1", "account:2", "account:1")
	if err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("test:account:1") || !mr.Exists("test:account:2") {
		t.Fatal("lock keys not set")
	}
	if ttl := mr.TTL("test:account:1"); ttl <= 0 {
		t.Fatalf("lock key has no TTL: %v", ttl)
	}

	release()
	release()
	if mr.Exists("test:account:1") || mr.Exists("test:account:2") {
		t.Fatal("lock keys not released")
	}
}

func TestAcquireTimeoutReleasesHeldKeys(t *testing.T) {
	locker, mr := newTestLocker(t, Config{KeyPrefix: "test:"})

	// 別的實例持有 account:2
	if err := mr.Set("test:account:2", "other"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := locker.Acquire(ctx, "account:1", "account:2")
	if !errors.Is(err, domain.ErrLockTimeout) {
		t.Fatalf("err = %v, want ErrLockTimeout", err)
	}
	if mr.Exists("test:account:1") {
		t.Fatal("account:1 should be released after timeout")
	}
	if got, _ := mr.Get("test:account:2"); got != "other" {
		t.Fatalf("foreign lock overwritten: %q", got)
	}
}

func TestReleaseDoesNotDeleteForeignLock(t *testing.T) {
	locker, mr := newTestLocker(t, Config{KeyPrefix: "test:", TTL: time.Second})

	release, err := locker.Acquire(context.Background(), "account:1")
	if err != nil {
		t.Fatal(err)
	}
	// 鎖過期後被別人拿走
	mr.FastForward(2 * time.Second)
	if err := mr.Set("test:account:1", "other"); err != nil {
		t.Fatal(err)
	}

	release()
	if got, _ := mr.Get("test:account:1"); got != "other" {
		t.Fatalf("release removed a lock it no longer owns: %q", got)
	}
}

func TestMutualExclusion(t *testing.T) {
	locker, _ := newTestLocker(t, Config{RetryInterval: time.Millisecond})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			release, err := locker.Acquire(ctx, "account:1")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("%d holders at once", maxSeen)
	}
}

func TestNewClientFailsWithoutServer(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err = NewClient(ctx, Config{Addr: addr}); err == nil {
		t.Fatal("expected connection error")
	}
}
