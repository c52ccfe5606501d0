package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"savingsvault/internal/config"
	"savingsvault/internal/infrastructure/metrics"
	"savingsvault/internal/service"
)

// RouterDeps 路由依赖，Metrics / Idempotency / Authorizer 可以为空
type RouterDeps struct {
	Service     *service.SavingsService
	Authorizer  service.Authorizer
	Metrics     *metrics.Metrics
	Idempotency IdempotencyStore
	RateLimiter *RateLimiter
}

// SetupRouter 配置路由
func SetupRouter(cfg *config.Config, deps RouterDeps) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware())
	}

	h := NewHandler(deps.Service, deps.Authorizer)

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Issuer))
	if deps.RateLimiter != nil {
		api.Use(deps.RateLimiter.Middleware())
	}

	// 写接口带幂等键时可重放
	writes := []gin.HandlerFunc{}
	if deps.Idempotency != nil {
		ttl := time.Duration(cfg.Business.IdempotencyTTLSeconds) * time.Second
		writes = append(writes, IdempotencyMiddleware(deps.Idempotency, ttl))
	}
	write := func(fn gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, writes...), fn)
	}

	{
		admin := api.Group("/admin")
		{
			admin.POST("/initialize", h.Initialize)
			admin.PUT("/penalty", h.SetPenalty)
			admin.POST("/mint", write(h.Mint)...)
		}

		api.GET("/config", h.GetConfig)

		goals := api.Group("/goals")
		{
			goals.POST("", write(h.CreateGoal)...)
			goals.GET("/:owner", h.ListGoals)
			goals.GET("/:owner/count", h.GetUserGoalCount)
			goals.GET("/:owner/:id", h.GetGoal)
			goals.GET("/:owner/:id/balance", h.GetCurrentBalance)
			goals.POST("/:owner/:id/compound", h.CompoundInterest)
			goals.POST("/:owner/:id/withdraw", write(h.Withdraw)...)
			goals.POST("/:owner/:id/emergency-withdraw", write(h.EmergencyWithdraw)...)
		}

		api.GET("/accounts/:identity/balance", h.GetAccountBalance)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	return r
}
