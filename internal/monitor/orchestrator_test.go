package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wisefido-setpoint/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockTelemetrySource 遥测数据源 mock，按房间返回预置结果
type MockTelemetrySource struct {
	mock.Mock
	mu sync.Mutex
}

func (m *MockTelemetrySource) QuerySamples(ctx context.Context, configs []models.PointConfig, window models.TimeWindow) ([]models.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(configs[0].RoomID, window)
	samples, _ := args.Get(0).([]models.Sample)
	return samples, args.Error(1)
}

var (
	windowEnd = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	window    = models.TrailingWindow(windowEnd, time.Hour)
)

func onOffConfig(room string) models.PointConfig {
	return models.PointConfig{
		RoomID:      room,
		DeviceType:  "FAU",
		DeviceName:  "新风",
		DeviceAlias: "fau-" + room,
		PointAlias:  "onoff",
		PointName:   "开关",
		ChangeType:  models.ChangeTypeDigitalOnOff,
		IsActive:    true,
	}
}

func toggles(cfg models.PointConfig, values ...float64) []models.Sample {
	out := make([]models.Sample, len(values))
	for i, v := range values {
		out[i] = models.Sample{Key: cfg.Key(), Time: window.Start.Add(time.Duration(i+1) * time.Minute), Value: v}
	}
	return out
}

func TestConfigCache_GroupsByRoom(t *testing.T) {
	a1, a2, b1 := onOffConfig("A"), onOffConfig("A"), onOffConfig("B")
	a2.PointAlias = "mode"

	cache := NewConfigCache([]models.PointConfig{a1, a2, b1})
	assert.Equal(t, []string{"A", "B"}, cache.Rooms())
	assert.Len(t, cache.RoomConfigs("A"), 2)
	assert.Len(t, cache.RoomConfigs("B"), 1)
	assert.Empty(t, cache.RoomConfigs("C"))
	assert.Equal(t, 3, cache.Len())
	assert.Contains(t, cache.Lookup("A"), a2.Key())

	only := cache.Only([]string{"B", "Z"})
	assert.Equal(t, []string{"B"}, only.Rooms())
	assert.Same(t, cache, cache.Only(nil))
}

func TestProcessRoom_EmptyTelemetry(t *testing.T) {
	src := new(MockTelemetrySource)
	cfg := onOffConfig("A")
	src.On("QuerySamples", "A", window).Return([]models.Sample{}, nil)

	o := NewOrchestrator(src, 1, zap.NewNop())
	events, err := o.ProcessRoom(context.Background(), "A", []models.PointConfig{cfg}, window)
	require.NoError(t, err)
	assert.Empty(t, events)
	src.AssertExpectations(t)
}

func TestProcessRoom_DetectsChanges(t *testing.T) {
	src := new(MockTelemetrySource)
	cfg := onOffConfig("A")
	src.On("QuerySamples", "A", window).Return(toggles(cfg, 0, 1, 1, 0), nil)

	o := NewOrchestrator(src, 1, zap.NewNop())
	o.now = func() time.Time { return windowEnd }

	events, err := o.ProcessRoom(context.Background(), "A", []models.PointConfig{cfg}, window)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "0 -> 1", events[0].ChangeDetail)
	assert.Equal(t, "1 -> 0", events[1].ChangeDetail)
	assert.Equal(t, windowEnd, events[0].DetectionTime)
}

func TestProcessRooms_IsolatesFailingRoom(t *testing.T) {
	for _, workers := range []int{1, 3} {
		src := new(MockTelemetrySource)
		a, b, c := onOffConfig("A"), onOffConfig("B"), onOffConfig("C")
		src.On("QuerySamples", "A", window).Return(toggles(a, 0, 1), nil)
		src.On("QuerySamples", "B", window).Return(nil, errors.New("connection reset by peer"))
		src.On("QuerySamples", "C", window).Return(toggles(c, 1, 0, 1), nil)

		o := NewOrchestrator(src, workers, zap.NewNop())
		outcome := o.ProcessRooms(context.Background(), NewConfigCache([]models.PointConfig{a, b, c}), window)

		assert.Equal(t, 2, outcome.SuccessfulRooms)
		assert.Equal(t, []string{"B"}, outcome.ErrorRooms)
		assert.Equal(t, map[string]int{"A": 1, "C": 2}, outcome.RoomChanges)
		require.Len(t, outcome.Events, 3)
		// 按房间顺序合并
		assert.Equal(t, "A", outcome.Events[0].RoomID)
		assert.Equal(t, "C", outcome.Events[1].RoomID)
		assert.Equal(t, "C", outcome.Events[2].RoomID)

		require.Len(t, outcome.Rooms, 3)
		assert.Error(t, outcome.Rooms[1].Err)
	}
}

type panickingSource struct{}

func (panickingSource) QuerySamples(ctx context.Context, configs []models.PointConfig, window models.TimeWindow) ([]models.Sample, error) {
	if configs[0].RoomID == "B" {
		panic("unexpected nil row")
	}
	return nil, nil
}

func TestProcessRooms_RecoversPanic(t *testing.T) {
	o := NewOrchestrator(panickingSource{}, 2, zap.NewNop())
	cache := NewConfigCache([]models.PointConfig{onOffConfig("A"), onOffConfig("B")})

	outcome := o.ProcessRooms(context.Background(), cache, window)
	assert.Equal(t, 1, outcome.SuccessfulRooms)
	assert.Equal(t, []string{"B"}, outcome.ErrorRooms)
	assert.Contains(t, outcome.Rooms[1].Err.Error(), "panic")
}

func TestProcessRooms_CancelledContext(t *testing.T) {
	src := new(MockTelemetrySource)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewOrchestrator(src, 1, zap.NewNop())
	outcome := o.ProcessRooms(ctx, NewConfigCache([]models.PointConfig{onOffConfig("A")}), window)
	assert.Equal(t, 0, outcome.SuccessfulRooms)
	assert.Equal(t, []string{"A"}, outcome.ErrorRooms)
	assert.ErrorIs(t, outcome.Rooms[0].Err, context.Canceled)
	src.AssertNotCalled(t, "QuerySamples", "A", window)
}

func TestProcessRooms_DropsSamplesOutsideRoomIndex(t *testing.T) {
	src := new(MockTelemetrySource)
	a, b := onOffConfig("A"), onOffConfig("B")
	// 房间 A 的查询结果混入了房间 B 的测点
	src.On("QuerySamples", "A", window).Return(append(toggles(a, 0, 1), toggles(b, 0, 1)...), nil)
	src.On("QuerySamples", "B", window).Return([]models.Sample{}, nil)

	o := NewOrchestrator(src, 1, zap.NewNop())
	outcome := o.ProcessRooms(context.Background(), NewConfigCache([]models.PointConfig{a, b}), window)

	require.Len(t, outcome.Events, 1)
	assert.Equal(t, "A", outcome.Events[0].RoomID)
	assert.Equal(t, map[string]int{"A": 1, "B": 0}, outcome.RoomChanges)
}
