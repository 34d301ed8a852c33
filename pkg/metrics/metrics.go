package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

const namespace = "ledger"

// LedgerMetrics 帳務指標，實作 usecase.Observer
type LedgerMetrics struct {
	registry *prometheus.Registry

	// 交易筆數 (kind, status)
	TransactionsTotal *prometheus.CounterVec
	// 交易耗時 (kind)
	TransactionDuration *prometheus.HistogramVec
	// 等待帳戶鎖的時間
	LockWaitDuration prometheus.Histogram
	// 等鎖逾時次數
	LockTimeoutsTotal prometheus.Counter
	// 補償結果 (result=ok|failed)
	CompensationsTotal *prometheus.CounterVec
	// gRPC 請求 (method, code)
	GRPCRequestsTotal   *prometheus.CounterVec
	GRPCRequestDuration *prometheus.HistogramVec
}

// New 建立指標並註冊到獨立的 Registry (含 Go runtime 與 process 指標)
func New() *LedgerMetrics {
	m := &LedgerMetrics{
		registry: prometheus.NewRegistry(),
		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Finished transactions by kind and status",
		}, []string{"kind", "status"}),
		TransactionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_duration_seconds",
			Help:      "Time from request to recorded transaction",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		LockWaitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring account locks",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 2},
		}),
		LockTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_timeouts_total",
			Help:      "Lock acquisitions that gave up",
		}),
		CompensationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Sender re-credits after a failed credit",
		}, []string{"result"}),
		GRPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "gRPC requests by method and code",
		}, []string{"method", "code"}),
		GRPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "gRPC request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TransactionsTotal,
		m.TransactionDuration,
		m.LockWaitDuration,
		m.LockTimeoutsTotal,
		m.CompensationsTotal,
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
	)
	return m
}

// Registry 給測試或額外的 collector 使用
func (m *LedgerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics
func (m *LedgerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *LedgerMetrics) ObserveTransaction(kind domain.TransactionKind, status domain.TransactionStatus, elapsed time.Duration) {
	m.TransactionsTotal.WithLabelValues(kind.String(), status.String()).Inc()
	m.TransactionDuration.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}

func (m *LedgerMetrics) ObserveLockWait(elapsed time.Duration, err error) {
	m.LockWaitDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.LockTimeoutsTotal.Inc()
	}
}

func (m *LedgerMetrics) ObserveCompensation(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.CompensationsTotal.WithLabelValues(result).Inc()
}

// UnaryServerInterceptor 記錄 gRPC 請求數與耗時
func (m *LedgerMetrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.GRPCRequestDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		m.GRPCRequestsTotal.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
		return resp, err
	}
}
