package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"savingsvault/internal/config"
	"savingsvault/internal/handler"
	"savingsvault/internal/infrastructure/cache"
	"savingsvault/internal/infrastructure/database"
	"savingsvault/internal/infrastructure/lock"
	"savingsvault/internal/infrastructure/logging"
	"savingsvault/internal/infrastructure/metrics"
	"savingsvault/internal/infrastructure/mq"
	"savingsvault/internal/job"
	"savingsvault/internal/model"
	"savingsvault/internal/repository"
	"savingsvault/internal/service"
	"savingsvault/internal/storage"
	"savingsvault/pkg/idgen"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	issueToken := flag.String("issue-token", "", "为指定身份签发 JWT 后退出")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "签发令牌的有效期")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if *issueToken != "" {
		token, err := handler.IssueToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, *issueToken, *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "签发令牌失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	if err := logging.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		logrus.Fatalf("初始化 ID 生成器失败: %v", err)
	}

	// 存储后端：memory 自带 outbox 消息源，mysql 用 outbox_message 表
	var (
		backend     storage.Backend
		outboxStore job.OutboxStore
	)
	switch cfg.Storage.Driver {
	case "mysql":
		db, err := database.InitMySQL(&cfg.MySQL)
		if err != nil {
			logrus.Fatalf("MySQL 连接失败: %v", err)
		}
		if err := database.Migrate(db); err != nil {
			logrus.Fatalf("数据库迁移失败: %v", err)
		}
		backend = storage.NewMySQLBackend(db)
		outboxStore = repository.NewOutboxRepository(db)
	default:
		mem := storage.NewMemoryBackend()
		backend = mem
		outboxStore = mem
	}

	// Redis 可选：多实例部署时用于跨进程串行化和幂等键
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = cache.InitRedis(&cfg.Redis)
		if err != nil {
			logrus.Fatalf("Redis 连接失败: %v", err)
		}
		defer rdb.Close()
	}

	m := metrics.New()

	topics := cfg.Kafka.OutboxTopics()
	opts := service.Options{
		Metrics:        m,
		CustodyAccount: cfg.Savings.CustodyAccount,
		GoalTopic:      topics.GoalEvents,
	}
	var idem handler.IdempotencyStore = handler.NewMemoryIdempotencyStore()
	if rdb != nil {
		opts.Serializer = lock.NewSerializer(rdb)
		idem = handler.NewRedisIdempotencyStore(rdb)
	}

	svc := service.NewSavingsService(
		storage.NewStore(backend),
		repository.NewLedgerRepository(topics.LedgerEvents),
		opts,
	)

	if cfg.Savings.Bootstrap() {
		err := svc.Initialize(context.Background(), cfg.Savings.Token, cfg.Savings.Admin, cfg.Savings.EmergencyPenalty)
		switch {
		case err == nil:
			logrus.WithField("admin", cfg.Savings.Admin).Info("储蓄配置已初始化")
		case errors.Is(err, model.ErrAlreadyInitialized):
		default:
			logrus.Fatalf("初始化储蓄配置失败: %v", err)
		}
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	if cfg.Kafka.Enabled {
		producer, err := mq.InitKafka(&cfg.Kafka)
		if err != nil {
			logrus.Fatalf("Kafka 连接失败: %v", err)
		}
		defer producer.Close()

		outboxSender := job.NewOutboxSender(outboxStore, producer, m, cfg.Business.MaxRetryCount)
		go outboxSender.Start(ctx)
	}

	keeper := job.NewCompoundKeeper(svc,
		time.Duration(cfg.Business.CompoundIntervalSeconds)*time.Second,
		cfg.Business.CompoundBatchSize)
	go keeper.Start(ctx)

	limiter := handler.NewRateLimiter(cfg.Business.RateLimitRPS, cfg.Business.RateLimitBurst)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Sweep()
			}
		}
	}()

	// 设置路由
	router := handler.SetupRouter(cfg, handler.RouterDeps{
		Service:     svc,
		Authorizer:  service.CallerAuthorizer{},
		Metrics:     m,
		Idempotency: idem,
		RateLimiter: limiter,
	})

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logrus.Infof("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("服务关闭异常: %v", err)
	}

	logrus.Info("服务已关闭")
}
