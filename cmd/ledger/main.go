package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
	memory_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/redislock"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/sqlstore"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/idgen"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/internal/config"
	"github.com/JoeShih716/go-bank-ledger/pkg/database"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
	"github.com/JoeShih716/go-bank-ledger/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. 載入設定
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Logger
	lg, closer, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer closer.Close()
	slog.SetDefault(lg)

	if err := run(cfg, lg); err != nil {
		lg.Error("ledger exited with error", "error", err)
		closer.Close()
		os.Exit(1)
	}
	lg.Info("Server exited")
}

func run(cfg *config.Config, lg *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 儲存層
	accounts, transactions, closeStore, err := openStorage(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer closeStore()

	// 4. 帳戶鎖
	locker, closeLocker, err := openLocker(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer closeLocker()

	// 5. UseCase
	ids, err := idgen.New(cfg.IDGen.NodeID)
	if err != nil {
		return err
	}
	accountStore := usecase.NewAccountStore(accounts, ids)
	if err := accountStore.Warmup(ctx); err != nil {
		return fmt.Errorf("warmup id generator: %w", err)
	}
	txLog := usecase.NewTransactionLog(transactions, cfg.Engine.HistoryPageSize)

	m := metrics.New()
	engine := usecase.NewLedgerEngine(accountStore, txLog, locker, ids, usecase.EngineOptions{
		LockTimeout:         cfg.Engine.LockTimeout,
		MaxVersionRetries:   cfg.Engine.MaxVersionRetries,
		CompensationRetries: cfg.Engine.CompensationRetries,
		Logger:              lg,
		Observer:            m,
		Alerter:             &logAlerter{logger: lg},
	})

	// 6. gRPC Server
	grpcServer := grpc_adapter.NewGRPCServer(engine, lg,
		grpc.ChainUnaryInterceptor(m.UnaryServerInterceptor()),
	)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Starting gRPC server", "addr", cfg.Server.GRPCAddr,
			"storage", cfg.Storage.Driver, "lock", cfg.Lock.Backend)
		return grpcServer.Serve(lis)
	})

	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsServer = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
		g.Go(func() error {
			lg.Info("Starting metrics server", "addr", cfg.Server.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	// Graceful Shutdown
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			lg.Warn("graceful stop timed out, forcing")
			grpcServer.Stop()
		}
		if metricsServer != nil {
			return metricsServer.Shutdown(shutdownCtx)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// openStorage 依設定回傳帳戶與交易的 repository
func openStorage(ctx context.Context, cfg *config.Config, lg *slog.Logger) (usecase.AccountRepository, usecase.TransactionRepository, func(), error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		if cfg.Storage.WALPath == "" {
			lg.Warn("memory storage without WAL, data is lost on restart")
			store := memory_adapter.NewStore()
			return store.Accounts(), store.Transactions(), func() {}, nil
		}
		store, err := memory_adapter.OpenStore(cfg.Storage.WALPath)
		if err != nil {
			return nil, nil, nil, err
		}
		lg.Info("Ledger recovered from WAL", "path", cfg.Storage.WALPath,
			"accounts", store.Accounts().Len(), "transactions", store.Transactions().Len())
		return store.Accounts(), store.Transactions(), closeLogged(lg, "wal", store), nil

	default:
		client, err := database.NewClient(ctx, cfg.Database, lg)
		if err != nil {
			return nil, nil, nil, err
		}
		lg.Info("Connected to database successfully", "driver", cfg.Database.Driver)
		store := sqlstore.New(client.DB())
		if cfg.Storage.AutoMigrate {
			if err := store.AutoMigrate(ctx); err != nil {
				_ = client.Close()
				return nil, nil, nil, err
			}
		}
		return store.Accounts(), store.Transactions(), closeLogged(lg, "database", client), nil
	}
}

// openLocker local 只適用單一實例；多實例共用資料庫時用 redis
func openLocker(ctx context.Context, cfg *config.Config, lg *slog.Logger) (usecase.Locker, func(), error) {
	if cfg.Lock.Backend != config.LockRedis {
		return memory_adapter.NewKeyLocker(), func() {}, nil
	}
	client, err := redislock.NewClient(ctx, cfg.Lock.Redis)
	if err != nil {
		return nil, nil, err
	}
	lg.Info("Connected to redis successfully", "addr", cfg.Lock.Redis.Addr)
	return redislock.New(client, cfg.Lock.Redis, lg), closeLogged(lg, "redis", client), nil
}

func closeLogged(lg *slog.Logger, name string, c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			lg.Error("close failed", "resource", name, "error", err)
		}
	}
}

// logAlerter 撕裂的轉帳需要人工處理
type logAlerter struct {
	logger *slog.Logger
}

func (a *logAlerter) CompensationFailed(ctx context.Context, err *domain.CompensationError) {
	a.logger.ErrorContext(ctx, "MANUAL INTERVENTION REQUIRED",
		"alert", true,
		"tx_id", err.TransactionID,
		"account_id", err.AccountID,
		"amount", err.Amount,
		"error", err,
	)
}
