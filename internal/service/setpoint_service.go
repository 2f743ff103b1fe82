package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wisefido-setpoint/internal/common/database"
	"wisefido-setpoint/internal/common/mqtt"
	rediscommon "wisefido-setpoint/internal/common/redis"
	"wisefido-setpoint/internal/config"
	"wisefido-setpoint/internal/fallback"
	"wisefido-setpoint/internal/models"
	"wisefido-setpoint/internal/monitor"
	"wisefido-setpoint/internal/notifier"
	"wisefido-setpoint/internal/repository"
	"wisefido-setpoint/internal/resolver"
	"wisefido-setpoint/internal/runner"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// TaskRunner 一次完整监控运行（runner.Runner 实现）
type TaskRunner interface {
	Run(ctx context.Context) *models.RunResult
}

// SummaryReader 读取上一次运行结果（repository.RunSummaryRepository 实现）
type SummaryReader interface {
	GetLast(ctx context.Context) (*models.RunResult, error)
}

// SetpointService 设定值变化监测服务（整合各层）
type SetpointService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client
	logger      *zap.Logger

	runner  TaskRunner
	summary SummaryReader
}

// NewSetpointService 创建服务：连接数据库、Redis、（可选）MQTT，并组装监控任务
func NewSetpointService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*SetpointService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	// 2. 连接 Redis
	redisClient, err := rediscommon.Connect(ctx, &cfg.Redis)
	if err != nil {
		db.Close()
		return nil, err
	}

	// 3. 连接 MQTT（未配置 Broker 时跳过）
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled() {
		mqttClient, err = mqtt.NewClient(&cfg.MQTT)
		if err != nil {
			db.Close()
			redisClient.Close()
			return nil, err
		}
	}

	// 4. 组装监控任务
	res, orch := NewDetectionPipeline(cfg, db, logger)
	sink := repository.NewChangeEventsRepository(db, logger)
	summary := repository.NewRunSummaryRepository(
		repository.NewRedisKVStore(redisClient),
		cfg.Setpoint.Notify.SummaryKey,
		cfg.Setpoint.Notify.SummaryTTL,
	)

	publishers := []notifier.Publisher{
		notifier.NewStreamPublisher(redisClient, cfg.Setpoint.Notify.Stream, cfg.Setpoint.Notify.StreamMaxLen),
	}
	if mqttClient != nil {
		publishers = append(publishers, notifier.NewMQTTPublisher(mqttClient, cfg.Setpoint.Notify.MQTTTopicPrefix))
	}

	r := runner.NewRunner(res, orch, sink, NewFallback(cfg, logger), logger, RunnerOptions(cfg)).
		WithNotifier(notifier.NewNotifier(logger, publishers...)).
		WithSummaryStore(summary)

	return &SetpointService{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		logger:      logger,
		runner:      r,
		summary:     summary,
	}, nil
}

// NewDetectionPipeline 创建配置解析器与房间编排器（服务与补算共用）
func NewDetectionPipeline(cfg *config.Config, db *sql.DB, logger *zap.Logger) (*resolver.Resolver, *monitor.Orchestrator) {
	configRepo := repository.NewPointConfigRepository(db, logger)
	telemetryRepo := repository.NewTelemetryRepository(db, logger, repository.LabelScheme(cfg.Setpoint.TelemetryLabels))

	return resolver.NewResolver(configRepo, cfg.Setpoint.ConfigPageSize, logger),
		monitor.NewOrchestrator(telemetryRepo, cfg.Setpoint.RoomWorkers, logger)
}

// NewFallback 旧版检测路径；未配置地址时返回 Disabled
func NewFallback(cfg *config.Config, logger *zap.Logger) runner.Fallback {
	if cfg.Setpoint.LegacyURL == "" {
		return fallback.Disabled{}
	}
	return fallback.NewLegacyClient(cfg.Setpoint.LegacyURL, cfg.Setpoint.LegacyTimeout, logger)
}

// RunnerOptions 由配置生成运行参数
func RunnerOptions(cfg *config.Config) runner.Options {
	return runner.Options{
		MaxRetries: cfg.Setpoint.Retry.MaxRetries,
		RetryDelay: cfg.Setpoint.Retry.Delay,
		RunTimeout: cfg.Setpoint.RunTimeout,
		Window:     cfg.Setpoint.Window,
		Keywords:   cfg.Setpoint.Retry.Keywords,
	}
}

// Start 启动调度循环：立即执行一次，之后按 Interval 周期执行，直到 ctx 取消
func (s *SetpointService) Start(ctx context.Context) error {
	interval := s.config.Setpoint.Interval
	if interval <= 0 {
		return fmt.Errorf("invalid setpoint interval: %s", interval)
	}

	s.logger.Info("Setpoint service started",
		zap.Duration("interval", interval),
		zap.Duration("window", s.config.Setpoint.Window),
	)

	s.logPreviousRun(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// 立即执行一次
	s.Trigger(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Setpoint service stopped")
			return nil
		case <-ticker.C:
			s.Trigger(ctx)
		}
	}
}

// logPreviousRun 记录重启前最后一次运行的结果；没有记录时静默跳过
func (s *SetpointService) logPreviousRun(ctx context.Context) {
	if s.summary == nil {
		return
	}
	last, err := s.summary.GetLast(ctx)
	if errors.Is(err, repository.ErrCacheMiss) {
		return
	}
	if err != nil {
		s.logger.Warn("Failed to load previous run summary", zap.Error(err))
		return
	}
	s.logger.Info("Previous setpoint run",
		zap.String("status", string(last.Status)),
		zap.Time("started_at", last.StartedAt),
		zap.Int("total_changes", last.TotalChanges),
		zap.Int("stored", last.StoredCount),
	)
}

// Trigger 执行一次监控运行
func (s *SetpointService) Trigger(ctx context.Context) *models.RunResult {
	result := s.runner.Run(ctx)
	if result.Status == models.RunStatusFailed {
		s.logger.Error("Setpoint run failed",
			zap.String("error", result.Error),
			zap.Int("attempts", result.Attempts),
			zap.Bool("fallback", result.Fallback),
		)
	}
	return result
}

// Stop 停止服务
func (s *SetpointService) Stop() error {
	s.logger.Info("Stopping setpoint service")

	if s.mqttClient != nil && s.mqttClient.IsConnected() {
		s.mqttClient.Disconnect()
	}

	// 关闭数据库连接
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	// 关闭 Redis 连接
	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}
