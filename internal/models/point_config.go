package models

import (
	"fmt"
	"strings"
	"time"
)

// ChangeType 变化类型（决定相邻样本的判定语义）
type ChangeType string

const (
	ChangeTypeDigitalOnOff ChangeType = "DigitalOnOff" // 开关量：整数化后不相等即为变化
	ChangeTypeAnalogValue  ChangeType = "AnalogValue"  // 模拟量：|差值| >= 阈值即为变化
	ChangeTypeEnumState    ChangeType = "EnumState"    // 枚举状态：整数化后不相等，按 enum_mapping 显示
)

// ParseChangeType 解析变化类型（大小写不敏感）
func ParseChangeType(s string) (ChangeType, error) {
	switch {
	case strings.EqualFold(s, string(ChangeTypeDigitalOnOff)):
		return ChangeTypeDigitalOnOff, nil
	case strings.EqualFold(s, string(ChangeTypeAnalogValue)):
		return ChangeTypeAnalogValue, nil
	case strings.EqualFold(s, string(ChangeTypeEnumState)):
		return ChangeTypeEnumState, nil
	}
	return "", fmt.Errorf("unknown change_type: %q", s)
}

// PointKey 测点规范键（设备别名 + 测点别名），遥测数据与配置的唯一连接键
type PointKey struct {
	DeviceAlias string
	PointAlias  string
}

func (k PointKey) String() string {
	return k.DeviceAlias + "/" + k.PointAlias
}

// IdentityKey 配置身份键（room_id, device_alias, point_alias）
type IdentityKey struct {
	RoomID      string
	DeviceAlias string
	PointAlias  string
}

// PointConfig 测点监控配置（对应 device_point_configs 表的一行）
// 只插入新版本，不原地修改；权威版本在读取时重新推导
type PointConfig struct {
	ID            int64             `json:"id" db:"id"`
	RoomID        string            `json:"room_id" db:"room_id"`
	DeviceType    string            `json:"device_type" db:"device_type"`
	DeviceName    string            `json:"device_name" db:"device_name"`
	DeviceAlias   string            `json:"device_alias" db:"device_alias"`
	PointAlias    string            `json:"point_alias" db:"point_alias"`
	PointName     string            `json:"point_name" db:"point_name"`
	Remark        string            `json:"remark" db:"remark"`
	ChangeType    ChangeType        `json:"change_type" db:"change_type"`
	Threshold     *float64          `json:"threshold,omitempty" db:"threshold"`       // 仅 AnalogValue 有意义
	EnumMapping   map[string]string `json:"enum_mapping,omitempty" db:"enum_mapping"` // 仅 EnumState 有意义
	ConfigVersion int               `json:"config_version" db:"config_version"`
	EffectiveTime *time.Time        `json:"effective_time,omitempty" db:"effective_time"`
	IsActive      bool              `json:"is_active" db:"is_active"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// Key 返回测点规范键
func (c *PointConfig) Key() PointKey {
	return PointKey{DeviceAlias: c.DeviceAlias, PointAlias: c.PointAlias}
}

// Identity 返回配置身份键
func (c *PointConfig) Identity() IdentityKey {
	return IdentityKey{RoomID: c.RoomID, DeviceAlias: c.DeviceAlias, PointAlias: c.PointAlias}
}

// Description 变化事件中的测点描述（remark 优先，否则使用 point_name）
func (c *PointConfig) Description() string {
	if c.Remark != "" {
		return c.Remark
	}
	return c.PointName
}

// Validate 检查身份键与变化类型
func (c *PointConfig) Validate() error {
	if c.RoomID == "" {
		return fmt.Errorf("point config %d: empty room_id", c.ID)
	}
	if c.DeviceAlias == "" || c.PointAlias == "" {
		return fmt.Errorf("point config %d: empty device_alias or point_alias", c.ID)
	}
	if _, err := ParseChangeType(string(c.ChangeType)); err != nil {
		return fmt.Errorf("point config %d: %w", c.ID, err)
	}
	return nil
}
