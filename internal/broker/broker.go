package broker

import (
	"fmt"
	"sync"
	"time"

	"dinehub/pkg/logger"
)

// 事件类型常量
const (
	KindOrderCreated   = "order_created"
	KindStatusChanged  = "status_changed"
	KindPaymentChanged = "payment_changed"
	KindTableReleased  = "table_released"
)

// Event 生命周期事件，只存在于投递过程中，不落盘
type Event struct {
	Topic     string      `json:"topic"`
	Kind      string      `json:"kind"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// RestaurantTopic 餐厅主题，后厨和收银看板订阅
func RestaurantTopic(ownerID uint) string {
	return fmt.Sprintf("restaurant:%d", ownerID)
}

// OrderTopic 单订单主题，顾客跟踪页订阅
func OrderTopic(orderID uint) string {
	return fmt.Sprintf("order:%d", orderID)
}

// Subscription 一个订阅者在某主题上的投递通道
//
// 每个订阅者持有独立缓冲通道，慢订阅者只会丢自己的事件，
// 不会阻塞发布方或其他订阅者。
type Subscription struct {
	Topic string
	C     <-chan Event

	id     uint64
	ch     chan Event
	broker *Broker
}

// Close 取消订阅并关闭投递通道
func (s *Subscription) Close() {
	s.broker.unsubscribe(s)
}

// Broker 进程内事件广播器
//
// 同一主题内按发布顺序投递（FIFO per topic per subscriber），
// 跨主题不保证顺序。投递是尽力而为，掉线期间的事件不补发。
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*Subscription
	nextID uint64
	buffer int
	relay  func(Event) // 跨实例转发钩子，由RedisBridge设置
}

// New 创建广播器
func New(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{
		subs:   make(map[string]map[uint64]*Subscription),
		buffer: buffer,
	}
}

// Subscribe 订阅主题
//
// 调用方负责在连接结束时Close，否则订阅泄漏。
func (b *Broker) Subscribe(topic string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		Topic:  topic,
		id:     b.nextID,
		ch:     make(chan Event, b.buffer),
		broker: b,
	}
	sub.C = sub.ch

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*Subscription)
	}
	b.subs[topic][sub.id] = sub
	return sub
}

func (b *Broker) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	topicSubs, ok := b.subs[sub.Topic]
	if !ok {
		return
	}
	if _, ok := topicSubs[sub.id]; !ok {
		return
	}
	delete(topicSubs, sub.id)
	if len(topicSubs) == 0 {
		delete(b.subs, sub.Topic)
	}
	close(sub.ch)
}

// Publish 发布事件到主题
//
// 与状态变更同步调用：变更先持久化，发布紧随其后。
// 对已连接的订阅者立即投递，通道满则对该订阅者丢弃本条。
func (b *Broker) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.deliver(evt)

	b.mu.RLock()
	relay := b.relay
	b.mu.RUnlock()
	if relay != nil {
		relay(evt)
	}
}

// deliver 本地投递，不经过跨实例转发
func (b *Broker) deliver(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[evt.Topic] {
		select {
		case sub.ch <- evt:
		default:
			// 慢订阅者：丢弃本条，交给客户端重连后的快照对齐
			logger.GetLogger().Warnf("订阅者缓冲区已满，丢弃事件 topic=%s kind=%s", evt.Topic, evt.Kind)
		}
	}
}

// SetRelay 设置跨实例转发钩子
func (b *Broker) SetRelay(relay func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.relay = relay
}

// SubscriberCount 主题当前订阅者数量
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
