package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"cotrack/logger"
	"cotrack/model"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel 多实例之间转发歌单事件的频道
const DefaultChannel = "cotrack:playlist-events"

// Sink 本地事件接收方，通常是 Hub
type Sink interface {
	Publish(evt model.Event)
}

// RedisBridge 通过 Redis Pub/Sub 在多个实例之间转发事件
// 本实例产生的事件也经由 Redis 回到本地 Hub
type RedisBridge struct {
	client   *redis.Client
	channel  string
	local    Sink
	outbound chan model.Event
	ready    chan struct{}
}

// NewRedisBridge 创建桥接
func NewRedisBridge(client *redis.Client, channel string, local Sink) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBridge{
		client:   client,
		channel:  channel,
		local:    local,
		outbound: make(chan model.Event, eventQueueSize),
		ready:    make(chan struct{}),
	}
}

// Publish 非阻塞投递，队列满时丢弃
func (b *RedisBridge) Publish(evt model.Event) {
	select {
	case b.outbound <- evt:
	default:
		logger.Warn("Redis 事件队列已满，丢弃事件",
			logger.PlaylistID(evt.PlaylistID),
			logger.String("type", string(evt.Type)))
	}
}

// Ready 订阅建立后关闭
func (b *RedisBridge) Ready() <-chan struct{} {
	return b.ready
}

// Run 订阅频道并转发事件，直到 ctx 取消
func (b *RedisBridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("订阅 Redis 频道 %s 失败: %w", b.channel, err)
	}
	close(b.ready)
	logger.Info("realtime redis bridge subscribed", logger.String("channel", b.channel))

	incoming := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-incoming:
			if !ok {
				return nil
			}
			var evt model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				logger.Warn("invalid event from redis", logger.ErrorField(err))
				continue
			}
			b.local.Publish(evt)

		case evt := <-b.outbound:
			b.forward(ctx, evt)
		}
	}
}

func (b *RedisBridge) forward(ctx context.Context, evt model.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		logger.Warn("序列化事件失败", logger.PlaylistID(evt.PlaylistID), logger.ErrorField(err))
		return
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		// Redis 不可用时至少保证本实例的订阅者收到
		logger.Warn("failed to publish event to redis",
			logger.PlaylistID(evt.PlaylistID),
			logger.ErrorField(err))
		b.local.Publish(evt)
	}
}
