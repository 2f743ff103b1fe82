package models

import "time"

// RunStatus 一次监控运行的状态
type RunStatus string

const (
	RunStatusIdle     RunStatus = "idle"
	RunStatusRunning  RunStatus = "running"
	RunStatusSuccess  RunStatus = "success"
	RunStatusDegraded RunStatus = "degraded" // 部分房间失败
	RunStatusFailed   RunStatus = "failed"
)

// RunResult 一次监控运行的汇总
type RunResult struct {
	Status          RunStatus      `json:"status"`
	Fallback        bool           `json:"fallback"`
	TotalRooms      int            `json:"total_rooms"`
	SuccessfulRooms int            `json:"successful_rooms"`
	TotalChanges    int            `json:"total_changes"`
	RoomChanges     map[string]int `json:"room_changes"`
	ErrorRooms      []string       `json:"error_rooms"`
	StoredCount     int            `json:"stored_count"`
	PersistError    string         `json:"persist_error,omitempty"`
	Attempts        int            `json:"attempts"`
	Error           string         `json:"error,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	ProcessingTime  time.Duration  `json:"processing_time"`

	// 本次检测到的全部事件（不序列化，供补算导出使用）
	Events []ChangeEvent `json:"-"`
}

// NewRunResult 创建空的运行结果
func NewRunResult(startedAt time.Time) *RunResult {
	return &RunResult{
		Status:      RunStatusRunning,
		RoomChanges: make(map[string]int),
		ErrorRooms:  []string{},
		StartedAt:   startedAt,
	}
}
