// Package notifier 将检测到的变化事件分发给下游告警（Redis Streams / MQTT）
// 分发失败只记录日志，不影响运行结果
package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	rediscommon "wisefido-setpoint/internal/common/redis"
	"wisefido-setpoint/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Publisher 变化事件发布者
type Publisher interface {
	Publish(ctx context.Context, events []models.ChangeEvent) error
}

// StreamPublisher 发布到 Redis Stream，每个事件一条消息（data 字段为事件 JSON）
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher 创建 Redis Stream 发布者
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

func (p *StreamPublisher) Publish(ctx context.Context, events []models.ChangeEvent) error {
	for i := range events {
		if _, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, p.maxLen, &events[i]); err != nil {
			return fmt.Errorf("failed to publish to stream %s: %w", p.stream, err)
		}
	}
	return nil
}

// MessagePublisher MQTT 发布接口（common/mqtt.Client 实现）
type MessagePublisher interface {
	Publish(topic string, retained bool, payload []byte) error
}

// MQTTPublisher 发布到 <prefix>/<room_id>
type MQTTPublisher struct {
	client      MessagePublisher
	topicPrefix string
}

// NewMQTTPublisher 创建 MQTT 发布者
func NewMQTTPublisher(client MessagePublisher, topicPrefix string) *MQTTPublisher {
	return &MQTTPublisher{
		client:      client,
		topicPrefix: topicPrefix,
	}
}

// Topic 房间对应的主题
func (p *MQTTPublisher) Topic(roomID string) string {
	return p.topicPrefix + "/" + roomID
}

func (p *MQTTPublisher) Publish(ctx context.Context, events []models.ChangeEvent) error {
	for i := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := json.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("failed to marshal change event: %w", err)
		}
		if err := p.client.Publish(p.Topic(events[i].RoomID), false, payload); err != nil {
			return err
		}
	}
	return nil
}

// Notifier 依次调用全部发布者，单个发布者失败不影响其它发布者
type Notifier struct {
	publishers []Publisher
	logger     *zap.Logger
}

// NewNotifier 创建分发器，nil 发布者被忽略
func NewNotifier(logger *zap.Logger, publishers ...Publisher) *Notifier {
	n := &Notifier{logger: logger}
	for _, p := range publishers {
		if p != nil {
			n.publishers = append(n.publishers, p)
		}
	}
	return n
}

// Notify 分发事件，返回全部发布者的错误合集
func (n *Notifier) Notify(ctx context.Context, events []models.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}

	var errList []error
	for _, p := range n.publishers {
		if err := p.Publish(ctx, events); err != nil {
			n.logger.Warn("Failed to publish change events",
				zap.String("publisher", fmt.Sprintf("%T", p)),
				zap.Int("events", len(events)),
				zap.Error(err),
			)
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}
