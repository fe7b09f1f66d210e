package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dinehub/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// wireEvent Redis频道上的事件封包，Origin用于过滤本实例的回声
type wireEvent struct {
	Origin    string          `json:"origin"`
	Topic     string          `json:"topic"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// RedisBridge 跨实例事件转发
//
// 本实例发布的事件转发到 {prefix}:{topic} 频道，
// 同时订阅 {prefix}:* 把其他实例的事件注入本地广播器。
type RedisBridge struct {
	broker   *Broker
	client   *redis.Client
	prefix   string
	origin   string
	cancel   context.CancelFunc
}

// NewRedisBridge 创建跨实例事件转发器
func NewRedisBridge(b *Broker, client *redis.Client, prefix string) *RedisBridge {
	if prefix == "" {
		prefix = "dinehub:events"
	}
	return &RedisBridge{
		broker: b,
		client: client,
		prefix: prefix,
		origin: uuid.NewString(),
	}
}

// Start 启动转发
func (r *RedisBridge) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	if err := r.client.Ping(ctx).Err(); err != nil {
		cancel()
		return fmt.Errorf("Redis连接失败: %v", err)
	}

	r.broker.SetRelay(r.publish)

	pubsub := r.client.PSubscribe(ctx, r.prefix+":*")
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		return fmt.Errorf("订阅事件频道失败: %v", err)
	}

	go r.consume(ctx, pubsub)

	logger.GetLogger().Infof("跨实例事件转发已启动，频道前缀 %s", r.prefix)
	return nil
}

// Stop 停止转发
func (r *RedisBridge) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// publish 把本地事件推到Redis频道
func (r *RedisBridge) publish(evt Event) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		logger.GetLogger().WithError(err).Error("序列化事件负载失败")
		return
	}

	data, err := json.Marshal(wireEvent{
		Origin:    r.origin,
		Topic:     evt.Topic,
		Kind:      evt.Kind,
		Payload:   payload,
		Timestamp: evt.Timestamp,
	})
	if err != nil {
		logger.GetLogger().WithError(err).Error("序列化事件封包失败")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	channel := r.prefix + ":" + evt.Topic
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		// 转发失败不影响本地投递，记录后继续
		logger.GetLogger().WithError(err).Warnf("事件转发到 %s 失败", channel)
	}
}

// consume 接收其他实例的事件并注入本地广播器
func (r *RedisBridge) consume(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				return
			}

			var wire wireEvent
			if err := json.Unmarshal([]byte(msg.Payload), &wire); err != nil {
				logger.GetLogger().WithError(err).Warn("解析远端事件失败")
				continue
			}
			// 忽略本实例发出的回声
			if wire.Origin == r.origin {
				continue
			}

			topic := strings.TrimPrefix(msg.Channel, r.prefix+":")
			r.broker.deliver(Event{
				Topic:     topic,
				Kind:      wire.Kind,
				Payload:   wire.Payload,
				Timestamp: wire.Timestamp,
			})
		}
	}
}
