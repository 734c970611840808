package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blues/tgs/internal/logic"
)

const namespace = "tgs"

// Metrics 服务指标
type Metrics struct {
	registry *prometheus.Registry

	records        *prometheus.CounterVec
	treasuryOps    *prometheus.CounterVec
	treasuryAmount *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New 创建独立的指标注册表
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_records_total",
			Help:      "Ledger records emitted, by record type",
		}, []string{"type"}),
		treasuryOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "treasury_operations_total",
			Help:      "Treasury calls, by operation and result",
		}, []string{"op", "result"}),
		treasuryAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "treasury_amount_total",
			Help:      "Amount moved by successful treasury calls, in minor units",
		}, []string{"op"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry 指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterTotals 注册托管账本汇总值
func (m *Metrics) RegisterTotals(totals func() logic.EscrowTotals) {
	factory := promauto.With(m.registry)
	gauge := func(name, help string, value func(logic.EscrowTotals) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return value(totals()) })
	}
	gauge("escrow_escrowed_amount", "Amount locked into escrows", func(t logic.EscrowTotals) float64 { return float64(t.Escrowed) })
	gauge("escrow_released_amount", "Amount released to beneficiaries", func(t logic.EscrowTotals) float64 { return float64(t.Released) })
	gauge("escrow_refunded_amount", "Amount refunded from cancelled escrows", func(t logic.EscrowTotals) float64 { return float64(t.Refunded) })
	gauge("escrow_active", "Active escrows", func(t logic.EscrowTotals) float64 { return float64(t.ActiveEscrows) })
}

// GinMiddleware 记录请求数与耗时
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Emitter 统计记录后转交下游
func (m *Metrics) Emitter(next logic.Emitter) logic.Emitter {
	return &countingEmitter{next: next, records: m.records}
}

type countingEmitter struct {
	next    logic.Emitter
	records *prometheus.CounterVec
}

func (e *countingEmitter) Emit(records ...logic.Record) {
	for _, r := range records {
		e.records.WithLabelValues(string(r.Type)).Inc()
	}
	e.next.Emit(records...)
}

// Treasury 统计资金调用
func (m *Metrics) Treasury(next logic.Treasury) logic.Treasury {
	return &instrumentedTreasury{next: next, m: m}
}

type instrumentedTreasury struct {
	next logic.Treasury
	m    *Metrics
}

func (t *instrumentedTreasury) observe(op string, amount uint64, err error) error {
	if err != nil {
		t.m.treasuryOps.WithLabelValues(op, "error").Inc()
		return err
	}
	t.m.treasuryOps.WithLabelValues(op, "ok").Inc()
	t.m.treasuryAmount.WithLabelValues(op).Add(float64(amount))
	return nil
}

func (t *instrumentedTreasury) Lock(ctx context.Context, proposalID uint64, amount uint64) error {
	return t.observe("lock", amount, t.next.Lock(ctx, proposalID, amount))
}

func (t *instrumentedTreasury) Release(ctx context.Context, proposalID uint64, to string, amount uint64) error {
	return t.observe("release", amount, t.next.Release(ctx, proposalID, to, amount))
}

func (t *instrumentedTreasury) Refund(ctx context.Context, proposalID uint64, to string, amount uint64) error {
	return t.observe("refund", amount, t.next.Refund(ctx, proposalID, to, amount))
}
