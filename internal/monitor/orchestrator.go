// Package monitor 按房间编排遥测查询与变化判定，单个房间的失败不影响其它房间
package monitor

import (
	"context"
	"fmt"
	"time"

	"wisefido-setpoint/internal/detector"
	"wisefido-setpoint/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TelemetrySource 遥测数据源，返回的样本已规范化为 PointKey
type TelemetrySource interface {
	QuerySamples(ctx context.Context, configs []models.PointConfig, window models.TimeWindow) ([]models.Sample, error)
}

// RoomResult 单个房间的处理结果
type RoomResult struct {
	RoomID string
	Events []models.ChangeEvent
	Err    error
}

// RoomsOutcome 全部房间的汇总
type RoomsOutcome struct {
	Rooms           []RoomResult // 与 ConfigCache.Rooms() 顺序一致
	Events          []models.ChangeEvent
	RoomChanges     map[string]int
	ErrorRooms      []string
	SuccessfulRooms int
}

// Orchestrator 房间编排器
type Orchestrator struct {
	telemetry TelemetrySource
	workers   int
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrchestrator 创建房间编排器；workers <= 1 时顺序处理
func NewOrchestrator(telemetry TelemetrySource, workers int, logger *zap.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		telemetry: telemetry,
		workers:   workers,
		logger:    logger,
		now:       time.Now,
	}
}

// ProcessRoom 处理一个房间：查询该房间全部测点在窗口内的遥测并判定变化
// 无遥测数据返回空结果（不是错误）
func (o *Orchestrator) ProcessRoom(ctx context.Context, roomID string, configs []models.PointConfig, window models.TimeWindow) ([]models.ChangeEvent, error) {
	lookup := make(map[models.PointKey]models.PointConfig, len(configs))
	for _, cfg := range configs {
		lookup[cfg.Key()] = cfg
	}
	return o.processRoom(ctx, roomID, configs, lookup, window)
}

// processRoom lookup 为房间内 PointKey -> 配置 的索引
func (o *Orchestrator) processRoom(ctx context.Context, roomID string, configs []models.PointConfig, lookup map[models.PointKey]models.PointConfig, window models.TimeWindow) ([]models.ChangeEvent, error) {
	if len(configs) == 0 {
		return nil, nil
	}

	samples, err := o.telemetry.QuerySamples(ctx, configs, window)
	if err != nil {
		return nil, fmt.Errorf("room %s: failed to query telemetry: %w", roomID, err)
	}
	if len(samples) == 0 {
		o.logger.Debug("No telemetry in window",
			zap.String("room_id", roomID),
			zap.Time("start", window.Start),
			zap.Time("end", window.End),
		)
		return nil, nil
	}

	events := detector.ClassifyAll(samples, lookup, o.now())

	o.logger.Debug("Room processed",
		zap.String("room_id", roomID),
		zap.Int("points", len(configs)),
		zap.Int("samples", len(samples)),
		zap.Int("changes", len(events)),
	)
	return events, nil
}

// ProcessRooms 处理缓存中的全部房间
// 每个房间写入自己的结果槽，全部完成后按房间顺序合并，房间错误与 panic 都在此边界内吸收
func (o *Orchestrator) ProcessRooms(ctx context.Context, cache *ConfigCache, window models.TimeWindow) RoomsOutcome {
	rooms := cache.Rooms()
	results := make([]RoomResult, len(rooms))

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, roomID := range rooms {
		i, roomID := i, roomID
		g.Go(func() error {
			events, err := o.safeProcessRoom(ctx, roomID, cache, window)
			results[i] = RoomResult{RoomID: roomID, Events: events, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	outcome := RoomsOutcome{
		Rooms:       results,
		RoomChanges: make(map[string]int, len(rooms)),
		ErrorRooms:  []string{},
	}
	for _, res := range results {
		if res.Err != nil {
			outcome.ErrorRooms = append(outcome.ErrorRooms, res.RoomID)
			o.logger.Error("Room processing failed",
				zap.String("room_id", res.RoomID),
				zap.Error(res.Err),
			)
			continue
		}
		outcome.SuccessfulRooms++
		outcome.RoomChanges[res.RoomID] = len(res.Events)
		outcome.Events = append(outcome.Events, res.Events...)
	}
	return outcome
}

func (o *Orchestrator) safeProcessRoom(ctx context.Context, roomID string, cache *ConfigCache, window models.TimeWindow) (events []models.ChangeEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			events = nil
			err = fmt.Errorf("room %s: panic: %v", roomID, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("room %s: %w", roomID, err)
	}
	return o.processRoom(ctx, roomID, cache.RoomConfigs(roomID), cache.Lookup(roomID), window)
}
