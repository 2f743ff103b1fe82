// Package runner 包装一次完整的监控运行：配置解析、房间编排、持久化、回退与重试。
// 运行结果总是以 RunResult 返回，任何错误都不会传播给调度方。
package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"wisefido-setpoint/internal/errs"
	"wisefido-setpoint/internal/models"
	"wisefido-setpoint/internal/monitor"

	"go.uber.org/zap"
)

// Resolver 权威配置解析
type Resolver interface {
	Resolve(ctx context.Context, now time.Time) ([]models.PointConfig, error)
}

// RoomProcessor 房间编排
type RoomProcessor interface {
	ProcessRooms(ctx context.Context, cache *monitor.ConfigCache, window models.TimeWindow) monitor.RoomsOutcome
}

// ChangeSink 变化事件存储（只追加）
type ChangeSink interface {
	AppendChangeEvents(ctx context.Context, events []models.ChangeEvent) (int, error)
}

// Fallback 无配置时的旧版检测路径
type Fallback interface {
	Detect(ctx context.Context, window models.TimeWindow) (*models.RunResult, error)
}

// Notifier 下游告警分发
type Notifier interface {
	Notify(ctx context.Context, events []models.ChangeEvent) error
}

// SummaryStore 最近一次运行汇总
type SummaryStore interface {
	SaveLast(ctx context.Context, result *models.RunResult) error
}

// Options 运行参数
type Options struct {
	MaxRetries int           // 最大尝试次数（含首次）
	RetryDelay time.Duration // 两次尝试之间的固定间隔
	RunTimeout time.Duration // 单次运行整体截止时间，0 表示不限制
	Window     time.Duration // Run() 使用的默认窗口长度
	Keywords   []string      // 未打标签错误的可重试关键字
	Rooms      []string      // 仅处理这些房间（补算用），为空表示全部
}

// Runner 监控任务
type Runner struct {
	resolver Resolver
	rooms    RoomProcessor
	sink     ChangeSink
	fallback Fallback
	notifier Notifier
	summary  SummaryStore

	classifier *errs.Classifier
	opts       Options
	logger     *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// persistTimeout 持久化与分发的独立时限，不受运行截止时间影响
const persistTimeout = 30 * time.Second

// NewRunner 创建监控任务；sink 为 nil 时只检测不持久化
func NewRunner(resolver Resolver, rooms RoomProcessor, sink ChangeSink, fallback Fallback, logger *zap.Logger, opts Options) *Runner {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.Window <= 0 {
		opts.Window = time.Hour
	}
	return &Runner{
		resolver:   resolver,
		rooms:      rooms,
		sink:       sink,
		fallback:   fallback,
		classifier: errs.NewClassifier(opts.Keywords),
		opts:       opts,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// WithNotifier 设置下游告警分发
func (r *Runner) WithNotifier(n Notifier) *Runner {
	r.notifier = n
	return r
}

// WithSummaryStore 设置运行汇总存储
func (r *Runner) WithSummaryStore(s SummaryStore) *Runner {
	r.summary = s
	return r
}

// Run 以截止到当前时刻的默认窗口执行一次监控（调度入口）
func (r *Runner) Run(ctx context.Context) *models.RunResult {
	return r.RunWindow(ctx, models.TrailingWindow(r.now(), r.opts.Window))
}

// RunWindow 对指定窗口执行一次监控
// 只有可重试错误才会重试整次尝试；重试用尽或不可重试时以 Failed 结束
// 截止时间只约束配置解析、房间处理与回退，已检测到的事件仍会持久化
func (r *Runner) RunWindow(ctx context.Context, window models.TimeWindow) *models.RunResult {
	startedAt := r.now()

	runCtx := ctx
	if r.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.opts.RunTimeout)
		defer cancel()
	}

	r.logger.Info("Setpoint monitoring run started",
		zap.Time("window_start", window.Start),
		zap.Time("window_end", window.End),
	)

	var result *models.RunResult
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= r.opts.MaxRetries; attempt++ {
		attempts = attempt
		result, lastErr = r.safeAttempt(runCtx, ctx, window, startedAt)
		if lastErr == nil {
			break
		}

		retryable := r.classifier.IsTransient(lastErr)
		r.logger.Warn("Monitoring attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", r.opts.MaxRetries),
			zap.Bool("retryable", retryable),
			zap.Error(lastErr),
		)
		if !retryable || attempt == r.opts.MaxRetries {
			break
		}
		if err := r.sleep(runCtx, r.opts.RetryDelay); err != nil {
			lastErr = fmt.Errorf("retry aborted: %w", err)
			break
		}
	}

	if lastErr != nil {
		result = models.NewRunResult(startedAt)
		result.Status = models.RunStatusFailed
		result.Error = lastErr.Error()
		result.ProcessingTime = r.now().Sub(startedAt)
		r.logger.Error("Setpoint monitoring run failed",
			zap.Int("attempts", attempts),
			zap.Error(lastErr),
		)
	}
	result.Attempts = attempts

	if r.summary != nil {
		if err := r.summary.SaveLast(ctx, result); err != nil {
			r.logger.Warn("Failed to save run summary", zap.Error(err))
		}
	}

	return result
}

// safeAttempt 执行一次尝试，panic 转为错误
// parent 为不带运行截止时间的上下文，用于持久化与分发
func (r *Runner) safeAttempt(ctx, parent context.Context, window models.TimeWindow, startedAt time.Time) (result *models.RunResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Monitoring attempt panicked",
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			result = nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.attempt(ctx, parent, window, startedAt)
}

func (r *Runner) attempt(ctx, parent context.Context, window models.TimeWindow, startedAt time.Time) (*models.RunResult, error) {
	configs, err := r.resolver.Resolve(ctx, r.now())
	if err != nil {
		// 配置存储不可用与无配置同样处理：走回退路径
		r.logger.Warn("Config resolution failed, using fallback", zap.Error(err))
		configs = nil
	}
	if len(configs) == 0 {
		return r.runFallback(ctx, window)
	}

	cache := monitor.NewConfigCache(configs).Only(r.opts.Rooms)
	r.logger.Debug("Config cache built",
		zap.Int("rooms", len(cache.Rooms())),
		zap.Int("configs", cache.Len()),
	)
	outcome := r.rooms.ProcessRooms(ctx, cache, window)

	result := models.NewRunResult(startedAt)
	result.TotalRooms = len(cache.Rooms())
	result.SuccessfulRooms = outcome.SuccessfulRooms
	result.ErrorRooms = outcome.ErrorRooms
	result.RoomChanges = outcome.RoomChanges
	result.TotalChanges = len(outcome.Events)
	result.Events = outcome.Events

	switch {
	case len(result.ErrorRooms) == 0:
		result.Status = models.RunStatusSuccess
	case result.SuccessfulRooms > 0:
		result.Status = models.RunStatusDegraded
	default:
		result.Status = models.RunStatusFailed
		result.Error = fmt.Sprintf("all %d rooms failed", result.TotalRooms)
	}

	// 运行截止时间到达时已完成房间的事件仍需入库
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), persistTimeout)
	defer cancel()

	r.persist(persistCtx, result)

	if r.notifier != nil && len(result.Events) > 0 {
		if err := r.notifier.Notify(persistCtx, result.Events); err != nil {
			r.logger.Warn("Change event notification incomplete", zap.Error(err))
		}
	}

	result.ProcessingTime = r.now().Sub(startedAt)
	r.logger.Info("Setpoint monitoring run finished",
		zap.String("status", string(result.Status)),
		zap.Int("total_rooms", result.TotalRooms),
		zap.Int("successful_rooms", result.SuccessfulRooms),
		zap.Strings("error_rooms", result.ErrorRooms),
		zap.Int("total_changes", result.TotalChanges),
		zap.Int("stored", result.StoredCount),
		zap.Duration("processing_time", result.ProcessingTime),
	)
	return result, nil
}

// persist 一次性追加全部事件；失败只记录，不改变检测结果
func (r *Runner) persist(ctx context.Context, result *models.RunResult) {
	if r.sink == nil || len(result.Events) == 0 {
		return
	}

	stored, err := r.sink.AppendChangeEvents(ctx, result.Events)
	if err != nil {
		result.PersistError = err.Error()
		r.logger.Error("Failed to persist change events",
			zap.Int("detected", len(result.Events)),
			zap.Error(err),
		)
		return
	}
	result.StoredCount = stored
	if stored != len(result.Events) {
		r.logger.Warn("Stored change event count mismatch",
			zap.Int("detected", len(result.Events)),
			zap.Int("stored", stored),
		)
	}
}

// runFallback 调用旧版检测路径，结果原样返回
func (r *Runner) runFallback(ctx context.Context, window models.TimeWindow) (*models.RunResult, error) {
	r.logger.Info("No active point configs, delegating to legacy detection")

	result, err := r.fallback.Detect(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("fallback detection failed: %w", err)
	}
	if result == nil {
		return nil, errs.Permanentf("fallback detection", "empty result")
	}
	result.Fallback = true
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
