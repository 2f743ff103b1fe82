package repository

import (
	"context"
	"database/sql"
	"math"

	"wisefido-setpoint/internal/errs"
	"wisefido-setpoint/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// LabelScheme 遥测数据的设备/测点标签方式
type LabelScheme string

const (
	LabelsByAlias LabelScheme = "alias" // device_alias / point_alias
	LabelsByName  LabelScheme = "name"  // device_name / point_name
)

// TelemetryRepository 遥测时序仓库（device_point_timeseries 表）
// 在此边界统一转换为 models.PointKey，下游只看到规范键
type TelemetryRepository struct {
	db     *sql.DB
	logger *zap.Logger
	labels LabelScheme
}

// NewTelemetryRepository 创建遥测时序仓库
func NewTelemetryRepository(db *sql.DB, logger *zap.Logger, labels LabelScheme) *TelemetryRepository {
	if labels != LabelsByName {
		labels = LabelsByAlias
	}
	return &TelemetryRepository{
		db:     db,
		logger: logger,
		labels: labels,
	}
}

type labelPair struct {
	device string
	point  string
}

// QuerySamples 查询 configs 中测点在窗口内的样本，按 (设备, 测点, 时间) 升序
// 无数据返回空切片（不是错误）；无法匹配任何配置的行直接丢弃
func (r *TelemetryRepository) QuerySamples(ctx context.Context, configs []models.PointConfig, window models.TimeWindow) ([]models.Sample, error) {
	if len(configs) == 0 {
		return []models.Sample{}, nil
	}
	if !window.Valid() {
		return nil, errs.Permanentf("query telemetry", "invalid window [%s, %s]", window.Start, window.End)
	}

	// 标签 -> 规范键
	index := make(map[labelPair]models.PointKey, len(configs))
	var devices, points []string
	seenDevice := make(map[string]bool)
	seenPoint := make(map[string]bool)
	for i := range configs {
		pair := r.labelOf(&configs[i])
		if pair.device == "" || pair.point == "" {
			r.logger.Debug("Config has no telemetry label, skipped",
				zap.String("room_id", configs[i].RoomID),
				zap.String("device_alias", configs[i].DeviceAlias),
				zap.String("point_alias", configs[i].PointAlias),
				zap.String("labels", string(r.labels)),
			)
			continue
		}
		key := configs[i].Key()
		if existing, ok := index[pair]; ok && existing != key {
			// 同一标签对应多个测点，只有第一个能收到样本
			r.logger.Warn("Telemetry label collision, later config gets no samples",
				zap.String("room_id", configs[i].RoomID),
				zap.String("device_label", pair.device),
				zap.String("point_label", pair.point),
				zap.String("kept", existing.String()),
				zap.String("ignored", key.String()),
			)
			continue
		}
		index[pair] = key
		if !seenDevice[pair.device] {
			seenDevice[pair.device] = true
			devices = append(devices, pair.device)
		}
		if !seenPoint[pair.point] {
			seenPoint[pair.point] = true
			points = append(points, pair.point)
		}
	}
	if len(index) == 0 {
		return []models.Sample{}, nil
	}

	deviceCol, pointCol := "device_alias", "point_alias"
	if r.labels == LabelsByName {
		deviceCol, pointCol = "device_name", "point_name"
	}

	query := `
		SELECT
			` + deviceCol + `,
			` + pointCol + `,
			timestamp,
			value
		FROM device_point_timeseries
		WHERE ` + deviceCol + ` = ANY($1)
		  AND ` + pointCol + ` = ANY($2)
		  AND timestamp >= $3
		  AND timestamp <= $4
		ORDER BY ` + deviceCol + `, ` + pointCol + `, timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(devices), pq.Array(points), window.Start, window.End)
	if err != nil {
		return nil, errs.FromDB("query device_point_timeseries", err)
	}
	defer rows.Close()

	samples := make([]models.Sample, 0)
	dropped := 0
	for rows.Next() {
		var pair labelPair
		var sample models.Sample
		var value sql.NullFloat64

		if err := rows.Scan(&pair.device, &pair.point, &sample.Time, &value); err != nil {
			return nil, errs.Permanent("scan device_point_timeseries", err)
		}

		key, ok := index[pair]
		if !ok {
			// ANY 组合查询会带出不在配置中的 (设备, 测点) 交叉组合
			dropped++
			continue
		}
		sample.Key = key
		if value.Valid {
			sample.Value = value.Float64
		} else {
			sample.Value = math.NaN()
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.FromDB("iterate device_point_timeseries", err)
	}

	if dropped > 0 {
		r.logger.Debug("Dropped unmatched telemetry rows",
			zap.Int("dropped", dropped),
		)
	}

	return samples, nil
}

func (r *TelemetryRepository) labelOf(cfg *models.PointConfig) labelPair {
	if r.labels == LabelsByName {
		return labelPair{device: cfg.DeviceName, point: cfg.PointName}
	}
	return labelPair{device: cfg.DeviceAlias, point: cfg.PointAlias}
}
