package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"wisefido-setpoint/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	rows  []models.PointConfig
	err   error
	limit int
	calls int
}

func (f *fakeStore) ListActiveConfigs(ctx context.Context, limit int) ([]models.PointConfig, error) {
	f.calls++
	f.limit = limit
	return f.rows, f.err
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func config(id int64, room, device, point string, version int) models.PointConfig {
	return models.PointConfig{
		ID:            id,
		RoomID:        room,
		DeviceAlias:   device,
		PointAlias:    point,
		ChangeType:    models.ChangeTypeAnalogValue,
		ConfigVersion: version,
		IsActive:      true,
		CreatedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestResolve_HighestVersionWins(t *testing.T) {
	store := &fakeStore{rows: []models.PointConfig{
		config(1, "R1", "ac-1", "sp", 1),
		config(2, "R1", "ac-1", "sp", 3),
		config(3, "R1", "ac-1", "sp", 2),
	}}
	r := NewResolver(store, 500, zap.NewNop())

	configs, err := r.Resolve(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, int64(2), configs[0].ID)
	assert.Equal(t, 500, store.limit)
}

func TestResolve_TieBrokenByEffectiveTime(t *testing.T) {
	early := config(1, "R1", "ac-1", "sp", 3)
	early.EffectiveTime = ptrTime(now.Add(-2 * time.Hour))
	late := config(2, "R1", "ac-1", "sp", 3)
	late.EffectiveTime = ptrTime(now.Add(-1 * time.Hour))

	for _, rows := range [][]models.PointConfig{{early, late}, {late, early}} {
		r := NewResolver(&fakeStore{rows: rows}, 0, zap.NewNop())
		configs, err := r.Resolve(context.Background(), now)
		require.NoError(t, err)
		require.Len(t, configs, 1)
		assert.Equal(t, int64(2), configs[0].ID)
	}
}

func TestResolve_TieBrokenByCreatedAtWhenEffectiveTimeNull(t *testing.T) {
	older := config(1, "R1", "ac-1", "sp", 3)
	newer := config(2, "R1", "ac-1", "sp", 3)
	newer.CreatedAt = older.CreatedAt.Add(time.Minute)

	for _, rows := range [][]models.PointConfig{{older, newer}, {newer, older}} {
		r := NewResolver(&fakeStore{rows: rows}, 0, zap.NewNop())
		configs, err := r.Resolve(context.Background(), now)
		require.NoError(t, err)
		require.Len(t, configs, 1)
		assert.Equal(t, int64(2), configs[0].ID)
	}
}

func TestResolve_FutureEffectiveTimeDropped(t *testing.T) {
	current := config(1, "R1", "ac-1", "sp", 1)
	future := config(2, "R1", "ac-1", "sp", 2)
	future.EffectiveTime = ptrTime(now.Add(time.Hour))
	onlyFuture := config(3, "R2", "ac-2", "sp", 1)
	onlyFuture.EffectiveTime = ptrTime(now.Add(time.Minute))

	r := NewResolver(&fakeStore{rows: []models.PointConfig{current, future, onlyFuture}}, 0, zap.NewNop())
	configs, err := r.Resolve(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, int64(1), configs[0].ID)
}

func TestResolve_EffectiveAtNowIncluded(t *testing.T) {
	row := config(1, "R1", "ac-1", "sp", 1)
	row.EffectiveTime = ptrTime(now)

	r := NewResolver(&fakeStore{rows: []models.PointConfig{row}}, 0, zap.NewNop())
	configs, err := r.Resolve(context.Background(), now)
	require.NoError(t, err)
	assert.Len(t, configs, 1)
}

func TestResolve_SortedAndInvalidSkipped(t *testing.T) {
	bad := config(9, "R1", "ac-9", "sp", 1)
	bad.ChangeType = "Pulse"
	inactive := config(10, "R0", "x", "y", 1)
	inactive.IsActive = false

	store := &fakeStore{rows: []models.PointConfig{
		config(1, "R2", "ac-1", "sp", 1),
		config(2, "R1", "fau-1", "onoff", 1),
		config(3, "R1", "ac-1", "sp", 1),
		config(4, "R1", "ac-1", "mode", 1),
		bad,
		inactive,
	}}
	r := NewResolver(store, 0, zap.NewNop())

	configs, err := r.Resolve(context.Background(), now)
	require.NoError(t, err)

	var ids []int64
	for _, c := range configs {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []int64{4, 3, 2, 1}, ids)
}

func TestResolve_Empty(t *testing.T) {
	r := NewResolver(&fakeStore{}, 0, zap.NewNop())
	configs, err := r.Resolve(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, configs)
}

func TestResolve_StoreError(t *testing.T) {
	storeErr := errors.New("connection refused")
	r := NewResolver(&fakeStore{err: storeErr}, 0, zap.NewNop())

	configs, err := r.Resolve(context.Background(), now)
	assert.Nil(t, configs)
	assert.ErrorIs(t, err, storeErr)
}

func TestSupersedes_NonNullEffectiveTimeBeatsNull(t *testing.T) {
	withTime := config(1, "R1", "ac-1", "sp", 3)
	withTime.EffectiveTime = ptrTime(now.Add(-time.Hour))
	withoutTime := config(2, "R1", "ac-1", "sp", 3)
	withoutTime.CreatedAt = now

	assert.True(t, Supersedes(withTime, withoutTime))
	assert.False(t, Supersedes(withoutTime, withTime))
}
