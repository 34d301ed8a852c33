package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/redislock"
	"github.com/JoeShih716/go-bank-ledger/pkg/database"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
)

// 儲存方式
const (
	StorageMemory   = "memory"
	StorageMySQL    = database.DriverMySQL
	StoragePostgres = database.DriverPostgres
)

// 鎖的實作
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// 可以覆寫密碼的環境變數
const (
	EnvDBPassword    = "LEDGER_DB_PASSWORD"
	EnvRedisPassword = "LEDGER_REDIS_PASSWORD"
)

// Config 服務設定 (config/config.yaml)
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Log      logger.Config   `yaml:"log"`
	Storage  StorageConfig   `yaml:"storage"`
	Database database.Config `yaml:"database"`
	Lock     LockConfig      `yaml:"lock"`
	Engine   EngineConfig    `yaml:"engine"`
	IDGen    IDGenConfig     `yaml:"idgen"`
}

type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	// MetricsAddr 空字串代表不開 /metrics
	MetricsAddr     string        `yaml:"metrics_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	// Driver memory, mysql, postgres
	Driver string `yaml:"driver"`
	// WALPath memory 模式的 WAL 檔，空字串代表不落地
	WALPath     string `yaml:"wal_path"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type LockConfig struct {
	// Backend local 或 redis (多個實例共用資料庫時必須用 redis)
	Backend string           `yaml:"backend"`
	Redis   redislock.Config `yaml:"redis"`
}

type EngineConfig struct {
	LockTimeout         time.Duration `yaml:"lock_timeout"`
	MaxVersionRetries   int           `yaml:"max_version_retries"`
	CompensationRetries int           `yaml:"compensation_retries"`
	HistoryPageSize     int           `yaml:"history_page_size"`
}

type IDGenConfig struct {
	// NodeID snowflake 節點編號 (0-1023)，多實例時必須不同
	NodeID int64 `yaml:"node_id"`
}

// Load 讀取 YAML、補預設值、套用環境變數並檢查
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse 解析 YAML 內容；未知欄位視為錯誤
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 補全 yaml 沒寫的設定
func (c *Config) applyDefaults() {
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = ":50051"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}
	if c.Database.Driver == "" && c.Storage.Driver != StorageMemory {
		c.Database.Driver = c.Storage.Driver
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 100
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Database.ConnectRetries == 0 {
		c.Database.ConnectRetries = 10
	}
	if c.Lock.Backend == "" {
		c.Lock.Backend = LockLocal
	}
	if c.Engine.LockTimeout == 0 {
		c.Engine.LockTimeout = 2 * time.Second
	}
	if c.Lock.Backend == LockRedis && c.Lock.Redis.TTL == 0 {
		c.Lock.Redis.TTL = 10 * time.Second
	}
	if c.Engine.MaxVersionRetries == 0 {
		c.Engine.MaxVersionRetries = 3
	}
	if c.Engine.CompensationRetries == 0 {
		c.Engine.CompensationRetries = 5
	}
	if c.Engine.HistoryPageSize == 0 {
		c.Engine.HistoryPageSize = 50
	}
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvDBPassword); ok {
		c.Database.Password = v
	}
	if v, ok := os.LookupEnv(EnvRedisPassword); ok {
		c.Lock.Redis.Password = v
	}
}

// Validate 檢查互相矛盾或超出範圍的設定
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageMySQL, StoragePostgres:
		if c.Database.Driver != c.Storage.Driver {
			errs = append(errs, fmt.Errorf("database.driver %q does not match storage.driver %q", c.Database.Driver, c.Storage.Driver))
		}
		if c.Database.Host == "" {
			errs = append(errs, errors.New("database.host is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	switch c.Lock.Backend {
	case LockLocal:
	case LockRedis:
		if c.Lock.Redis.Addr == "" {
			errs = append(errs, errors.New("lock.redis.addr is required"))
		}
		// 鎖不會續約；冪等鍵的鎖在等帳戶鎖 (最多 lock_timeout) 時也持有著
		if c.Lock.Redis.TTL < 2*c.Engine.LockTimeout {
			errs = append(errs, fmt.Errorf("lock.redis.ttl %s must be at least twice engine.lock_timeout %s",
				c.Lock.Redis.TTL, c.Engine.LockTimeout))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lock.backend %q", c.Lock.Backend))
	}
	if c.IDGen.NodeID < 0 || c.IDGen.NodeID > 1023 {
		errs = append(errs, fmt.Errorf("idgen.node_id %d out of range 0-1023", c.IDGen.NodeID))
	}
	if c.Engine.LockTimeout < 0 {
		errs = append(errs, errors.New("engine.lock_timeout must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
