package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-setpoint/internal/errs"
	"wisefido-setpoint/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChangeEventsRepository 设定值变化事件仓库（setpoint_change_events 表，只追加）
type ChangeEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewChangeEventsRepository 创建变化事件仓库
func NewChangeEventsRepository(db *sql.DB, logger *zap.Logger) *ChangeEventsRepository {
	return &ChangeEventsRepository{
		db:     db,
		logger: logger,
	}
}

// AppendChangeEvents 在一个事务内批量追加事件，返回实际写入条数
// event_id 冲突的行被忽略（ON CONFLICT DO NOTHING），因此写入数可能小于提交数
func (r *ChangeEventsRepository) AppendChangeEvents(ctx context.Context, events []models.ChangeEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errs.FromDB("begin change events tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO setpoint_change_events (
			event_id,
			room_id,
			device_type,
			device_name,
			point_name,
			point_description,
			change_time,
			previous_value,
			current_value,
			change_type,
			change_detail,
			change_magnitude,
			detection_time
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		ON CONFLICT (event_id) DO NOTHING
	`)
	if err != nil {
		return 0, errs.FromDB("prepare change events insert", err)
	}
	defer stmt.Close()

	stored := 0
	for i := range events {
		event := &events[i]
		if event.EventID == "" {
			event.EventID = uuid.New().String()
		}

		res, err := stmt.ExecContext(ctx,
			event.EventID,
			event.RoomID,
			event.DeviceType,
			event.DeviceName,
			event.PointName,
			event.PointDescription,
			event.ChangeTime,
			event.PreviousValue,
			event.CurrentValue,
			string(event.ChangeType),
			event.ChangeDetail,
			event.ChangeMagnitude,
			event.DetectionTime,
		)
		if err != nil {
			return 0, errs.FromDB(fmt.Sprintf("insert change event %s", event.EventID), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			stored += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errs.FromDB("commit change events tx", err)
	}

	r.logger.Debug("Change events appended",
		zap.Int("submitted", len(events)),
		zap.Int("stored", stored),
	)

	return stored, nil
}
