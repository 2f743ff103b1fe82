package detector

import (
	"math"
	"testing"
	"time"

	"wisefido-setpoint/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	base       = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	detectedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	acKey      = models.PointKey{DeviceAlias: "ac-1", PointAlias: "temp_sp"}
)

func series(key models.PointKey, values ...float64) []models.Sample {
	out := make([]models.Sample, len(values))
	for i, v := range values {
		out[i] = models.Sample{Key: key, Time: base.Add(time.Duration(i) * time.Minute), Value: v}
	}
	return out
}

func pointConfig(ct models.ChangeType) models.PointConfig {
	return models.PointConfig{
		RoomID:      "R101",
		DeviceType:  "AC",
		DeviceName:  "空调1",
		DeviceAlias: acKey.DeviceAlias,
		PointAlias:  acKey.PointAlias,
		PointName:   "温度设定",
		ChangeType:  ct,
	}
}

func threshold(v float64) *float64 {
	return &v
}

func TestClassify_NoChangeForConstantSeries(t *testing.T) {
	analog := pointConfig(models.ChangeTypeAnalogValue)
	analog.Threshold = threshold(0.5)

	cases := map[string]struct {
		cfg    models.PointConfig
		values []float64
	}{
		"digital":             {pointConfig(models.ChangeTypeDigitalOnOff), []float64{1, 1, 1}},
		"digital_after_cast":  {pointConfig(models.ChangeTypeDigitalOnOff), []float64{1.2, 1.7, 1.0}},
		"analog":              {analog, []float64{22.5, 22.5, 22.5}},
		"analog_no_threshold": {pointConfig(models.ChangeTypeAnalogValue), []float64{22.5, 22.5}},
		"enum":                {pointConfig(models.ChangeTypeEnumState), []float64{2, 2.4, 2}},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, Classify(series(acKey, tc.values...), tc.cfg, detectedAt))
		})
	}
}

func TestClassify_DigitalSinglePair(t *testing.T) {
	cfg := pointConfig(models.ChangeTypeDigitalOnOff)
	cfg.Remark = "新风开关"

	events := Classify(series(acKey, 0, 1), cfg, detectedAt)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, "0 -> 1", e.ChangeDetail)
	assert.Equal(t, 1.0, e.ChangeMagnitude)
	assert.Equal(t, base.Add(time.Minute), e.ChangeTime)
	assert.Equal(t, detectedAt, e.DetectionTime)
	assert.Equal(t, "R101", e.RoomID)
	assert.Equal(t, "新风开关", e.PointDescription)
	assert.Equal(t, models.ChangeTypeDigitalOnOff, e.ChangeType)
}

func TestClassify_AnalogThresholdBoundary(t *testing.T) {
	cfg := pointConfig(models.ChangeTypeAnalogValue)
	cfg.Threshold = threshold(0.5)

	events := Classify(series(acKey, 15.5, 16.0), cfg, detectedAt)
	require.Len(t, events, 1)
	assert.Equal(t, "15.50 -> 16.00", events[0].ChangeDetail)
	assert.InDelta(t, 0.5, events[0].ChangeMagnitude, 1e-12)

	assert.Empty(t, Classify(series(acKey, 15.5, 15.9), cfg, detectedAt))
}

func TestClassify_AnalogDecimalThresholdInclusive(t *testing.T) {
	cfg := pointConfig(models.ChangeTypeAnalogValue)
	cfg.Threshold = threshold(0.1)

	// 0.3 - 0.2 在浮点下略小于 0.1
	events := Classify(series(acKey, 0.2, 0.3), cfg, detectedAt)
	assert.Len(t, events, 1)
}

func TestClassify_AnalogMissingThresholdReportsAnyChange(t *testing.T) {
	cfg := pointConfig(models.ChangeTypeAnalogValue)

	events := Classify(series(acKey, 20, 20.01, 20.01, 19), cfg, detectedAt)
	require.Len(t, events, 2)
	assert.Equal(t, "20.00 -> 20.01", events[0].ChangeDetail)
	assert.Equal(t, "20.01 -> 19.00", events[1].ChangeDetail)
}

func TestClassify_EnumFallsBackToRawValue(t *testing.T) {
	cfg := pointConfig(models.ChangeTypeEnumState)
	cfg.EnumMapping = map[string]string{"0": "closed"}

	events := Classify(series(acKey, 0, 2), cfg, detectedAt)
	require.Len(t, events, 1)
	assert.Equal(t, "closed -> 2", events[0].ChangeDetail)
	assert.Equal(t, 2.0, events[0].ChangeMagnitude)
}

func TestClassify_EnumWithoutMapping(t *testing.T) {
	cfg := pointConfig(models.ChangeTypeEnumState)

	events := Classify(series(acKey, 1, 3), cfg, detectedAt)
	require.Len(t, events, 1)
	assert.Equal(t, "1 -> 3", events[0].ChangeDetail)
}

func TestClassify_EveryTransitionReported(t *testing.T) {
	cfg := pointConfig(models.ChangeTypeDigitalOnOff)

	events := Classify(series(acKey, 0, 1, 0, 1), cfg, detectedAt)
	require.Len(t, events, 3)
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].ChangeTime.Before(events[i-1].ChangeTime))
	}
}

func TestClassify_SkipsNullValues(t *testing.T) {
	cfg := pointConfig(models.ChangeTypeDigitalOnOff)

	// (0,NaN) 与 (NaN,1) 两对都被跳过
	assert.Empty(t, Classify(series(acKey, 0, math.NaN(), 1), cfg, detectedAt))

	events := Classify(series(acKey, 0, math.NaN(), 1, 0), cfg, detectedAt)
	require.Len(t, events, 1)
	assert.Equal(t, "1 -> 0", events[0].ChangeDetail)
}

func TestClassify_ShortSeries(t *testing.T) {
	cfg := pointConfig(models.ChangeTypeDigitalOnOff)
	assert.Empty(t, Classify(nil, cfg, detectedAt))
	assert.Empty(t, Classify(series(acKey, 1), cfg, detectedAt))
}

func TestClassifyAll_GroupsSortsAndDropsUnmatched(t *testing.T) {
	fanKey := models.PointKey{DeviceAlias: "fau-1", PointAlias: "onoff"}
	unknown := models.PointKey{DeviceAlias: "ghost", PointAlias: "x"}

	acCfg := pointConfig(models.ChangeTypeAnalogValue)
	acCfg.Threshold = threshold(1)
	fanCfg := pointConfig(models.ChangeTypeDigitalOnOff)
	fanCfg.DeviceAlias, fanCfg.PointAlias = fanKey.DeviceAlias, fanKey.PointAlias

	lookup := map[models.PointKey]models.PointConfig{
		acKey:  acCfg,
		fanKey: fanCfg,
	}

	// 乱序、交错的输入
	samples := []models.Sample{
		{Key: acKey, Time: base.Add(2 * time.Minute), Value: 26},
		{Key: fanKey, Time: base.Add(time.Minute), Value: 1},
		{Key: unknown, Time: base, Value: 0},
		{Key: acKey, Time: base, Value: 24},
		{Key: fanKey, Time: base, Value: 0},
		{Key: unknown, Time: base.Add(time.Minute), Value: 1},
	}

	events := ClassifyAll(samples, lookup, detectedAt)
	require.Len(t, events, 2)

	byDetail := map[string]models.ChangeEvent{}
	for _, e := range events {
		byDetail[e.ChangeDetail] = e
	}
	assert.Contains(t, byDetail, "24.00 -> 26.00")
	assert.Contains(t, byDetail, "0 -> 1")
}

func TestClassifyAll_Empty(t *testing.T) {
	assert.Empty(t, ClassifyAll(nil, map[models.PointKey]models.PointConfig{}, detectedAt))
}

func TestClassify_DigitalValuesBeyondInt64Range(t *testing.T) {
	cfg := pointConfig(models.ChangeTypeDigitalOnOff)

	events := Classify(series(acKey, 1e19, 2e19), cfg, detectedAt)
	require.Len(t, events, 1)
	assert.Equal(t, "10000000000000000000 -> 20000000000000000000", events[0].ChangeDetail)

	assert.Empty(t, Classify(series(acKey, -1e19, -1e19), cfg, detectedAt))
}

func TestClassify_EnumTruncatesTowardZero(t *testing.T) {
	cfg := pointConfig(models.ChangeTypeEnumState)
	cfg.EnumMapping = map[string]string{"0": "closed", "-1": "fault"}

	assert.Empty(t, Classify(series(acKey, -0.5, 0.7), cfg, detectedAt))

	events := Classify(series(acKey, 0.2, -1.9), cfg, detectedAt)
	require.Len(t, events, 1)
	assert.Equal(t, "closed -> fault", events[0].ChangeDetail)
}
