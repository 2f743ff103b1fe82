package monitor

import (
	"wisefido-setpoint/internal/models"
)

// ConfigCache 单次运行内的权威配置缓存
// 由解析结果构建一次，此后只读，可在多个房间 worker 间共享
type ConfigCache struct {
	rooms  []string
	byRoom map[string][]models.PointConfig
	lookup map[string]map[models.PointKey]models.PointConfig
}

// NewConfigCache 按房间分组配置，房间顺序与输入中首次出现的顺序一致
func NewConfigCache(configs []models.PointConfig) *ConfigCache {
	c := &ConfigCache{
		byRoom: make(map[string][]models.PointConfig),
		lookup: make(map[string]map[models.PointKey]models.PointConfig),
	}
	for _, cfg := range configs {
		if _, ok := c.byRoom[cfg.RoomID]; !ok {
			c.rooms = append(c.rooms, cfg.RoomID)
			c.lookup[cfg.RoomID] = make(map[models.PointKey]models.PointConfig)
		}
		c.byRoom[cfg.RoomID] = append(c.byRoom[cfg.RoomID], cfg)
		c.lookup[cfg.RoomID][cfg.Key()] = cfg
	}
	return c
}

// Rooms 房间列表
func (c *ConfigCache) Rooms() []string {
	return c.rooms
}

// RoomConfigs 房间内的配置
func (c *ConfigCache) RoomConfigs(roomID string) []models.PointConfig {
	return c.byRoom[roomID]
}

// Lookup 房间内 PointKey -> 配置
func (c *ConfigCache) Lookup(roomID string) map[models.PointKey]models.PointConfig {
	return c.lookup[roomID]
}

// Len 配置总数
func (c *ConfigCache) Len() int {
	n := 0
	for _, configs := range c.byRoom {
		n += len(configs)
	}
	return n
}

// Only 返回仅包含指定房间的缓存（用于补算），rooms 为空时返回自身
func (c *ConfigCache) Only(rooms []string) *ConfigCache {
	if len(rooms) == 0 {
		return c
	}
	want := make(map[string]bool, len(rooms))
	for _, r := range rooms {
		want[r] = true
	}
	var configs []models.PointConfig
	for _, room := range c.rooms {
		if want[room] {
			configs = append(configs, c.byRoom[room]...)
		}
	}
	return NewConfigCache(configs)
}
