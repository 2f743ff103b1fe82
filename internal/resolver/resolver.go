// Package resolver 从版本化配置表推导每个测点的权威配置
package resolver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"wisefido-setpoint/internal/models"

	"go.uber.org/zap"
)

// ConfigStore 配置存储（只读）
type ConfigStore interface {
	ListActiveConfigs(ctx context.Context, limit int) ([]models.PointConfig, error)
}

// Resolver 权威配置解析器
type Resolver struct {
	store    ConfigStore
	pageSize int
	logger   *zap.Logger
}

// NewResolver 创建解析器
func NewResolver(store ConfigStore, pageSize int, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:    store,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Resolve 返回 now 时刻每个 (room_id, device_alias, point_alias) 唯一的权威配置
// 结果按 room_id, device_alias, point_alias 排序；配置存储出错时返回错误，由调用方走回退路径
func (r *Resolver) Resolve(ctx context.Context, now time.Time) ([]models.PointConfig, error) {
	rows, err := r.store.ListActiveConfigs(ctx, r.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list active configs: %w", err)
	}

	authoritative := make(map[models.IdentityKey]models.PointConfig, len(rows))
	pending, invalid := 0, 0
	for i := range rows {
		row := rows[i]
		if !row.IsActive {
			continue
		}
		if err := row.Validate(); err != nil {
			invalid++
			r.logger.Warn("Skipping invalid point config",
				zap.Int64("config_id", row.ID),
				zap.Error(err),
			)
			continue
		}
		if row.EffectiveTime != nil && row.EffectiveTime.After(now) {
			pending++
			continue
		}

		key := row.Identity()
		if current, ok := authoritative[key]; !ok || Supersedes(row, current) {
			authoritative[key] = row
		}
	}

	configs := make([]models.PointConfig, 0, len(authoritative))
	for _, cfg := range authoritative {
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool {
		a, b := configs[i], configs[j]
		if a.RoomID != b.RoomID {
			return a.RoomID < b.RoomID
		}
		if a.DeviceAlias != b.DeviceAlias {
			return a.DeviceAlias < b.DeviceAlias
		}
		return a.PointAlias < b.PointAlias
	})

	r.logger.Info("Resolved authoritative configs",
		zap.Int("rows", len(rows)),
		zap.Int("resolved", len(configs)),
		zap.Int("not_yet_effective", pending),
		zap.Int("invalid", invalid),
	)

	return configs, nil
}

// Supersedes a 是否比 b 更权威：
// config_version 高者优先；版本相同时 effective_time 晚者优先（非空优于空）；
// effective_time 仍无法区分时 created_at 晚者优先
func Supersedes(a, b models.PointConfig) bool {
	if a.ConfigVersion != b.ConfigVersion {
		return a.ConfigVersion > b.ConfigVersion
	}

	switch {
	case a.EffectiveTime != nil && b.EffectiveTime == nil:
		return true
	case a.EffectiveTime == nil && b.EffectiveTime != nil:
		return false
	case a.EffectiveTime != nil && b.EffectiveTime != nil && !a.EffectiveTime.Equal(*b.EffectiveTime):
		return a.EffectiveTime.After(*b.EffectiveTime)
	}

	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	// 完全相同时取 id 较大者，保证结果与读取顺序无关
	return a.ID > b.ID
}
