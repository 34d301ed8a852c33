package grpc

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewGRPCServer 建立已註冊 LedgerService 的 *grpc.Server
func NewGRPCServer(ledger Ledger, logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(logger),
			LoggingInterceptor(logger),
		),
	}, opts...)
	srv := grpc.NewServer(opts...)
	RegisterLedgerServiceServer(srv, NewServer(ledger))
	return srv
}

// LoggingInterceptor 記錄每個請求的方法、耗時與結果
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := uuid.NewString()
		start := time.Now()

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		if err != nil {
			st, _ := status.FromError(err)
			level := slog.LevelWarn
			if st.Code() == codes.Internal || st.Code() == codes.DataLoss {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "gRPC request failed",
				"request_id", requestID,
				"method", info.FullMethod,
				"code", st.Code().String(),
				"duration", duration,
				"error", st.Message(),
			)
			return resp, err
		}
		logger.DebugContext(ctx, "gRPC request completed",
			"request_id", requestID,
			"method", info.FullMethod,
			"duration", duration,
		)
		return resp, nil
	}
}

// RecoveryInterceptor panic 轉成 codes.Internal，不讓整個服務掛掉
func RecoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(ctx, "gRPC request panicked",
					"method", info.FullMethod,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
