package redislock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// Config Redis 鎖設定
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	// KeyPrefix 加在每個鎖 key 前面
	KeyPrefix string `yaml:"key_prefix"`
	// TTL 鎖的存活時間，持有者掛掉時由 Redis 自動過期。
	// 不會續約，持有超過 TTL 就不再互斥 (帳戶版本檢查仍會擋下衝突寫入)
	TTL time.Duration `yaml:"ttl"`
	// RetryInterval 搶不到鎖時多久再試一次
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// release 只刪除自己持有的鎖
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker 以 SET NX PX 實作的分散式帳戶鎖，多個 ledger 實例共用同一個 Redis
type Locker struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger
}

// NewClient 建立 Redis 連線並測試
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// New 建立 Locker
func New(client *redis.Client, cfg Config, logger *slog.Logger) *Locker {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Millisecond
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ledger:lock:"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locker{client: client, cfg: cfg, logger: logger.With("component", "redislock")}
}

// Acquire 依傳入順序取得所有 key；ctx 結束時放掉已取得的鎖並回傳 domain.ErrLockTimeout
func (l *Locker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	token := uuid.NewString()
	held := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))

	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if err := l.acquireOne(ctx, l.cfg.KeyPrefix+key, token); err != nil {
			l.releaseAll(held, token)
			return nil, err
		}
		held = append(held, l.cfg.KeyPrefix+key)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.releaseAll(held, token) })
	}, nil
}

func (l *Locker) acquireOne(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.cfg.TTL).Result()
		if err == nil && ok {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %s: %w", domain.ErrLockTimeout, key, ctxErr)
		}
		if err != nil {
			return fmt.Errorf("redis setnx %s: %w", key, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", domain.ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// releaseAll 反序釋放；不受呼叫端 ctx 影響
func (l *Locker) releaseAll(keys []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		if err := releaseScript.Run(ctx, l.client, []string{keys[i]}, token).Err(); err != nil {
			// 放不掉就等 TTL 過期
			l.logger.Warn("release lock failed", "key", keys[i], "error", err)
		}
	}
}

var _ usecase.Locker = (*Locker)(nil)
