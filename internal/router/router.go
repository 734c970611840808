package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blues/tgs/internal/config"
	"github.com/blues/tgs/internal/handler"
	"github.com/blues/tgs/internal/metrics"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Proposals *handler.ProposalHandler
	Escrows   *handler.EscrowHandler
	Treasury  *handler.TreasuryHandler
	Scoring   *handler.ScoringHandler
	Metrics   *metrics.Metrics
	// Health 附加的健康检查信息，可为空
	Health func() map[string]interface{}
}

func Setup(cfg config.ServerConfig, metricsCfg config.MetricsConfig, h Handlers) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	r := gin.New()

	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	if h.Metrics != nil {
		r.Use(h.Metrics.GinMiddleware())
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":  "ok",
			"service": "treasury-guard-service",
			"time":    time.Now().UTC().Format(time.RFC3339),
		}
		if h.Health != nil {
			for k, v := range h.Health() {
				body[k] = v
			}
		}
		c.JSON(http.StatusOK, body)
	})
	if h.Metrics != nil && metricsCfg.Enabled {
		r.GET(metricsCfg.Path, gin.WrapH(h.Metrics.Handler()))
	}

	// API版本组
	v1 := r.Group("/api/v1")
	v1.Use(callerIdentity(cfg.RequireSignature, cfg.SignatureMaxSkew))
	{
		// 提案相关路由
		proposals := v1.Group("/proposals")
		{
			proposals.POST("", h.Proposals.Submit)
			proposals.GET("", h.Proposals.List)
			proposals.GET("/:id", h.Proposals.Get)
			proposals.GET("/:id/events", h.Proposals.Events)
			proposals.POST("/:id/votes", h.Proposals.Vote)
			proposals.POST("/:id/finalize", h.Proposals.Finalize)
			proposals.POST("/:id/cancel", h.Proposals.Cancel)
			proposals.POST("/:id/score", h.Proposals.Score)
		}

		// 托管相关路由
		escrows := v1.Group("/escrows")
		{
			escrows.GET("", h.Escrows.List)
			escrows.GET("/:id", h.Escrows.Get)
			escrows.POST("/:id/cancel", h.Escrows.Cancel)
			escrows.GET("/:id/pending", h.Escrows.Pending)
			escrows.POST("/:id/pending/resolve", h.Escrows.ResolvePending)
			escrows.GET("/:id/milestones/:index", h.Escrows.GetMilestone)
			escrows.PUT("/:id/milestones/:index", h.Escrows.SetMilestone)
			escrows.POST("/:id/milestones/:index/evidence", h.Escrows.SubmitEvidence)
			escrows.POST("/:id/milestones/:index/approve", h.Escrows.Approve)
			escrows.POST("/:id/milestones/:index/dispute", h.Escrows.Dispute)
			escrows.POST("/:id/milestones/:index/resolve", h.Escrows.Resolve)
		}

		v1.GET("/treasury/stats", h.Treasury.Stats)

		scoring := v1.Group("/scoring/models")
		{
			scoring.GET("", h.Scoring.Models)
			scoring.POST("", h.Scoring.AddModel)
			scoring.DELETE("/:tag", h.Scoring.RemoveModel)
		}
	}

	return r
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, "+
			HeaderCaller+", "+HeaderSignature+", "+HeaderTimestamp)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
