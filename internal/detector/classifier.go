// Package detector 将相邻遥测样本的变化按测点的变化类型判定为变化事件。
//
// 三种判定语义：
//   - DigitalOnOff：两值取整后不相等
//   - AnalogValue：|差值| >= 阈值（含边界），阈值缺省为 0，即任何非零变化
//   - EnumState：两值取整后不相等，显示文本按 enum_mapping 翻译，缺失时退化为原始整数
//
// 每一对满足条件的相邻样本各产生一个事件，不做合并。
package detector

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"wisefido-setpoint/internal/models"
)

// thresholdEpsilon 模拟量阈值比较容差，保证 0.1 这类十进制阈值在浮点误差下仍含边界
const thresholdEpsilon = 1e-9

// Classify 对单个测点的有序样本序列做变化判定
// series 需按时间升序；少于 2 个样本时不产生事件
func Classify(series []models.Sample, cfg models.PointConfig, detectedAt time.Time) []models.ChangeEvent {
	if len(series) < 2 {
		return nil
	}

	var events []models.ChangeEvent
	for i := 1; i < len(series); i++ {
		prev, curr := series[i-1], series[i]
		if !prev.HasValue() || !curr.HasValue() {
			continue
		}

		detail, changed := judge(cfg, prev.Value, curr.Value)
		if !changed {
			continue
		}

		events = append(events, models.ChangeEvent{
			RoomID:           cfg.RoomID,
			DeviceType:       cfg.DeviceType,
			DeviceName:       cfg.DeviceName,
			PointName:        cfg.PointName,
			PointDescription: cfg.Description(),
			ChangeTime:       curr.Time,
			PreviousValue:    prev.Value,
			CurrentValue:     curr.Value,
			ChangeType:       cfg.ChangeType,
			ChangeDetail:     detail,
			ChangeMagnitude:  math.Abs(curr.Value - prev.Value),
			DetectionTime:    detectedAt,
		})
	}
	return events
}

// judge 按变化类型判断一对相邻值，返回显示文本与是否为变化
func judge(cfg models.PointConfig, prev, curr float64) (string, bool) {
	switch cfg.ChangeType {
	case models.ChangeTypeDigitalOnOff:
		p, c := math.Trunc(prev), math.Trunc(curr)
		if p == c {
			return "", false
		}
		return intLabel(p) + " -> " + intLabel(c), true

	case models.ChangeTypeAnalogValue:
		delta := math.Abs(curr - prev)
		if delta == 0 || delta < effectiveThreshold(cfg)-thresholdEpsilon {
			return "", false
		}
		return fmt.Sprintf("%.2f -> %.2f", prev, curr), true

	case models.ChangeTypeEnumState:
		p, c := math.Trunc(prev), math.Trunc(curr)
		if p == c {
			return "", false
		}
		return enumLabel(cfg.EnumMapping, p) + " -> " + enumLabel(cfg.EnumMapping, c), true
	}
	return "", false
}

// effectiveThreshold 缺省或非法阈值按 0 处理
func effectiveThreshold(cfg models.PointConfig) float64 {
	if cfg.Threshold == nil || math.IsNaN(*cfg.Threshold) || *cfg.Threshold < 0 {
		return 0
	}
	return *cfg.Threshold
}

// intLabel 取整后的显示文本；超出 int64 范围时按浮点整数输出
func intLabel(v float64) string {
	if v >= math.MinInt64 && v < -math.MinInt64 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func enumLabel(mapping map[string]string, v float64) string {
	raw := intLabel(v)
	if label, ok := mapping[raw]; ok {
		return label
	}
	return raw
}

// ClassifyAll 按规范键分组、组内按时间排序后逐组判定
// lookup 中不存在的键对应的样本被静默丢弃
func ClassifyAll(samples []models.Sample, lookup map[models.PointKey]models.PointConfig, detectedAt time.Time) []models.ChangeEvent {
	groups := make(map[models.PointKey][]models.Sample)
	var order []models.PointKey
	for _, s := range samples {
		if _, ok := lookup[s.Key]; !ok {
			continue
		}
		if _, seen := groups[s.Key]; !seen {
			order = append(order, s.Key)
		}
		groups[s.Key] = append(groups[s.Key], s)
	}

	var events []models.ChangeEvent
	for _, key := range order {
		series := groups[key]
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Time.Before(series[j].Time)
		})
		events = append(events, Classify(series, lookup[key], detectedAt)...)
	}
	return events
}
