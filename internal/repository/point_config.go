package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"wisefido-setpoint/internal/errs"
	"wisefido-setpoint/internal/models"

	"go.uber.org/zap"
)

// PointConfigRepository 测点监控配置仓库（device_point_configs 表，只读）
type PointConfigRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPointConfigRepository 创建测点配置仓库
func NewPointConfigRepository(db *sql.DB, logger *zap.Logger) *PointConfigRepository {
	return &PointConfigRepository{
		db:     db,
		logger: logger,
	}
}

// ListActiveConfigs 读取全部 is_active = TRUE 的配置行（所有版本）
// limit 为单次读取上限，版本裁决由 resolver 完成
func (r *PointConfigRepository) ListActiveConfigs(ctx context.Context, limit int) ([]models.PointConfig, error) {
	if limit <= 0 {
		limit = 10000
	}

	query := `
		SELECT
			id,
			room_id,
			COALESCE(device_type, ''),
			COALESCE(device_name, ''),
			device_alias,
			point_alias,
			COALESCE(point_name, ''),
			COALESCE(remark, ''),
			change_type,
			threshold,
			enum_mapping,
			config_version,
			effective_time,
			is_active,
			created_at
		FROM device_point_configs
		WHERE is_active = TRUE
		ORDER BY room_id, device_alias, point_alias, config_version DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errs.FromDB("query device_point_configs", err)
	}
	defer rows.Close()

	var configs []models.PointConfig
	for rows.Next() {
		var cfg models.PointConfig
		var changeType string
		var threshold sql.NullFloat64
		var enumMapping []byte
		var effectiveTime sql.NullTime

		if err := rows.Scan(
			&cfg.ID,
			&cfg.RoomID,
			&cfg.DeviceType,
			&cfg.DeviceName,
			&cfg.DeviceAlias,
			&cfg.PointAlias,
			&cfg.PointName,
			&cfg.Remark,
			&changeType,
			&threshold,
			&enumMapping,
			&cfg.ConfigVersion,
			&effectiveTime,
			&cfg.IsActive,
			&cfg.CreatedAt,
		); err != nil {
			return nil, errs.Permanent("scan device_point_configs", err)
		}

		// 未知类型保留原值，由 resolver 校验后丢弃
		if ct, err := models.ParseChangeType(changeType); err == nil {
			cfg.ChangeType = ct
		} else {
			cfg.ChangeType = models.ChangeType(changeType)
		}
		if threshold.Valid {
			v := threshold.Float64
			cfg.Threshold = &v
		}
		if effectiveTime.Valid {
			t := effectiveTime.Time
			cfg.EffectiveTime = &t
		}
		if len(enumMapping) > 0 {
			mapping, err := decodeEnumMapping(enumMapping)
			if err != nil {
				// 映射损坏时退化为原始值显示，不影响检测
				r.logger.Warn("Invalid enum_mapping, falling back to raw values",
					zap.Int64("config_id", cfg.ID),
					zap.Error(err),
				)
			} else {
				cfg.EnumMapping = mapping
			}
		}

		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.FromDB("iterate device_point_configs", err)
	}

	if len(configs) >= limit {
		r.logger.Warn("Active config rows reached page limit, some rows may be ignored",
			zap.Int("limit", limit),
		)
	}

	return configs, nil
}

// decodeEnumMapping 解析 enum_mapping JSONB，值可以是字符串或数字
func decodeEnumMapping(raw []byte) (map[string]string, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to unmarshal enum_mapping: %w", err)
	}
	if generic == nil {
		return nil, nil
	}

	mapping := make(map[string]string, len(generic))
	for k, v := range generic {
		switch val := v.(type) {
		case string:
			mapping[k] = val
		case float64:
			mapping[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			mapping[k] = strconv.FormatBool(val)
		case nil:
			// 忽略空值
		default:
			b, _ := json.Marshal(val)
			mapping[k] = string(b)
		}
	}
	return mapping, nil
}
