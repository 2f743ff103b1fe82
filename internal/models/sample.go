package models

import (
	"math"
	"time"
)

// Sample 一条遥测读数（已在数据源边界规范化为 PointKey）
// Value 为 NaN 表示数据库中的 NULL
type Sample struct {
	Key   PointKey
	Time  time.Time
	Value float64
}

// HasValue 是否为有效读数
func (s Sample) HasValue() bool {
	return !math.IsNaN(s.Value) && !math.IsInf(s.Value, 0)
}

// TimeWindow 查询时间窗口 [Start, End]
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// TrailingWindow 以 end 结束、长度为 d 的时间窗口（默认监控窗口为 1 小时）
func TrailingWindow(end time.Time, d time.Duration) TimeWindow {
	return TimeWindow{Start: end.Add(-d), End: end}
}

// Valid 窗口是否有效
func (w TimeWindow) Valid() bool {
	return !w.Start.IsZero() && !w.End.IsZero() && !w.End.Before(w.Start)
}
