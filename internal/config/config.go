package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"wisefido-setpoint/internal/common/config"
)

// Config 设定值变化监测服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	Setpoint struct {
		// 调度节奏（默认每小时一次）
		Interval time.Duration
		// 默认监控窗口（截止到调用时刻的最近 1 小时）
		Window time.Duration
		// 单次运行的整体截止时间
		RunTimeout time.Duration

		// 重试策略
		Retry struct {
			MaxRetries int           // 最大尝试次数，默认 3
			Delay      time.Duration // 固定间隔，默认 5 秒
			Keywords   []string      // 未打标签错误的可重试关键字
		}

		// 配置读取
		ConfigPageSize int // 每次读取的最大配置行数，默认 10000

		// 遥测数据标签方式："alias" 或 "name"
		TelemetryLabels string

		// 房间并发处理数（1 表示顺序处理）
		RoomWorkers int

		// 旧版检测接口（无版本化配置时的回退路径），为空表示未部署
		LegacyURL     string
		LegacyTimeout time.Duration

		// 下游告警分发
		Notify struct {
			Stream          string // Redis Stream 名称
			StreamMaxLen    int64
			MQTTTopicPrefix string
			SummaryKey      string        // 最近一次运行汇总的缓存键
			SummaryTTL      time.Duration // 汇总缓存 TTL
		}
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置（带默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "owlrd"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 2
	cfg.Database.MaxLifetime = 30 * time.Minute
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.ClientID = "wisefido-setpoint"
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Setpoint.Interval = getDuration("SETPOINT_INTERVAL", time.Hour)
	cfg.Setpoint.Window = getDuration("SETPOINT_WINDOW", time.Hour)
	cfg.Setpoint.RunTimeout = getDuration("SETPOINT_RUN_TIMEOUT", 10*time.Minute)

	cfg.Setpoint.Retry.MaxRetries = getInt("SETPOINT_MAX_RETRIES", 3)
	cfg.Setpoint.Retry.Delay = getDuration("SETPOINT_RETRY_DELAY", 5*time.Second)
	cfg.Setpoint.Retry.Keywords = getList("SETPOINT_RETRY_KEYWORDS",
		[]string{"timeout", "connection", "connect", "database", "server"})

	cfg.Setpoint.ConfigPageSize = getInt("SETPOINT_CONFIG_PAGE_SIZE", 10000)
	cfg.Setpoint.TelemetryLabels = strings.ToLower(getEnv("SETPOINT_TELEMETRY_LABELS", "alias"))
	cfg.Setpoint.RoomWorkers = getInt("SETPOINT_ROOM_WORKERS", 1)

	cfg.Setpoint.LegacyURL = getEnv("SETPOINT_LEGACY_URL", "")
	cfg.Setpoint.LegacyTimeout = getDuration("SETPOINT_LEGACY_TIMEOUT", 2*time.Minute)

	cfg.Setpoint.Notify.Stream = getEnv("SETPOINT_CHANGE_STREAM", "setpoint:changes")
	cfg.Setpoint.Notify.StreamMaxLen = int64(getInt("SETPOINT_CHANGE_STREAM_MAXLEN", 100000))
	cfg.Setpoint.Notify.MQTTTopicPrefix = getEnv("SETPOINT_MQTT_TOPIC_PREFIX", "wisefido/setpoint/changes")
	cfg.Setpoint.Notify.SummaryKey = getEnv("SETPOINT_SUMMARY_KEY", "setpoint:run:last")
	cfg.Setpoint.Notify.SummaryTTL = getDuration("SETPOINT_SUMMARY_TTL", 24*time.Hour)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	normalize(cfg)
	return cfg, nil
}

// normalize 修正非法取值
func normalize(cfg *Config) {
	if cfg.Setpoint.Retry.MaxRetries < 1 {
		cfg.Setpoint.Retry.MaxRetries = 1
	}
	if cfg.Setpoint.Retry.Delay < 0 {
		cfg.Setpoint.Retry.Delay = 0
	}
	if cfg.Setpoint.RoomWorkers < 1 {
		cfg.Setpoint.RoomWorkers = 1
	}
	if cfg.Setpoint.ConfigPageSize <= 0 {
		cfg.Setpoint.ConfigPageSize = 10000
	}
	if cfg.Setpoint.TelemetryLabels != "name" {
		cfg.Setpoint.TelemetryLabels = "alias"
	}
	if cfg.Setpoint.Window <= 0 {
		cfg.Setpoint.Window = time.Hour
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

// getDuration 支持 "90s" / "1h" 形式，也支持纯数字（秒）
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
