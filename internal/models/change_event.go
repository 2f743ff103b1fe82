package models

import "time"

// ChangeEvent 设定值变化事件（对应 setpoint_change_events 表，只追加）
type ChangeEvent struct {
	EventID          string     `json:"event_id" db:"event_id"`
	RoomID           string     `json:"room_id" db:"room_id"`
	DeviceType       string     `json:"device_type" db:"device_type"`
	DeviceName       string     `json:"device_name" db:"device_name"`
	PointName        string     `json:"point_name" db:"point_name"`
	PointDescription string     `json:"point_description" db:"point_description"`
	ChangeTime       time.Time  `json:"change_time" db:"change_time"` // 新样本的时间戳
	PreviousValue    float64    `json:"previous_value" db:"previous_value"`
	CurrentValue     float64    `json:"current_value" db:"current_value"`
	ChangeType       ChangeType `json:"change_type" db:"change_type"`
	ChangeDetail     string     `json:"change_detail" db:"change_detail"` // "prev -> curr"
	ChangeMagnitude  float64    `json:"change_magnitude" db:"change_magnitude"`
	DetectionTime    time.Time  `json:"detection_time" db:"detection_time"` // 计算事件时的系统时间
}
