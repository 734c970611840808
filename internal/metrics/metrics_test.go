package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blues/tgs/internal/logic"
)

type stubTreasury struct{ err error }

func (s stubTreasury) Lock(context.Context, uint64, uint64) error { return s.err }

func (s stubTreasury) Release(context.Context, uint64, string, uint64) error { return s.err }

func (s stubTreasury) Refund(context.Context, uint64, string, uint64) error { return s.err }

type sink struct{ n int }

func (s *sink) Emit(records ...logic.Record) { s.n += len(records) }

func TestTreasuryInstrumentation(t *testing.T) {
	m := New()
	ctx := context.Background()

	ok := m.Treasury(stubTreasury{})
	require.NoError(t, ok.Lock(ctx, 1, 300))
	require.NoError(t, ok.Release(ctx, 1, "0xa", 100))

	boom := errors.New("rpc down")
	bad := m.Treasury(stubTreasury{err: boom})
	assert.ErrorIs(t, bad.Refund(ctx, 1, "0xa", 200), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.treasuryOps.WithLabelValues("lock", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.treasuryOps.WithLabelValues("refund", "error")))
	assert.Equal(t, 300.0, testutil.ToFloat64(m.treasuryAmount.WithLabelValues("lock")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.treasuryAmount.WithLabelValues("refund")))
}

func TestEmitterCountsRecords(t *testing.T) {
	m := New()
	next := &sink{}
	e := m.Emitter(next)
	e.Emit(logic.Record{Type: logic.RecordVoteCast}, logic.Record{Type: logic.RecordVoteCast}, logic.Record{Type: logic.RecordEscrowCreated})

	assert.Equal(t, 3, next.n)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.records.WithLabelValues("VoteCast")))
}

func TestTotalsAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	m.RegisterTotals(func() logic.EscrowTotals {
		return logic.EscrowTotals{Escrowed: 500, Released: 200, ActiveEscrows: 2}
	})

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "tgs_escrow_escrowed_amount 500"))
	assert.True(t, strings.Contains(body, "tgs_escrow_active 2"))
	assert.True(t, strings.Contains(body, `tgs_http_requests_total{method="GET",route="/ping",status="200"} 1`))
}
