package client

import (
	"testing"
	"time"

	"dinehub/internal/broker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderEvent(orderID uint, status string, at time.Time) broker.Event {
	return broker.Event{
		Topic: broker.OrderTopic(orderID),
		Kind:  broker.KindStatusChanged,
		Payload: map[string]interface{}{
			"order_id":           orderID,
			"order_no":           "ORD-AABBCCDD",
			"table_id":           1,
			"status":             status,
			"payment_status":     "unpaid",
			"total_amount":       62.0,
			"last_transition_at": at.Format(time.RFC3339Nano),
		},
		Timestamp: at,
	}
}

func TestTrackerAppliesNewerEvents(t *testing.T) {
	tracker := NewOrderTracker()
	base := time.Now()

	assert.True(t, tracker.Apply(orderEvent(7, "pending", base)))
	assert.True(t, tracker.Apply(orderEvent(7, "confirmed", base.Add(time.Second))))

	view, ok := tracker.Get(7)
	require.True(t, ok)
	assert.Equal(t, "confirmed", view.Status)
}

func TestTrackerDiscardsStaleAndDuplicateEvents(t *testing.T) {
	tracker := NewOrderTracker()
	base := time.Now()

	confirmed := orderEvent(7, "confirmed", base.Add(time.Second))
	require.True(t, tracker.Apply(confirmed))

	// 迟到的旧事件被丢弃
	assert.False(t, tracker.Apply(orderEvent(7, "pending", base)))

	// 重复投递同一事件不改变投影
	assert.False(t, tracker.Apply(confirmed))

	view, ok := tracker.Get(7)
	require.True(t, ok)
	assert.Equal(t, "confirmed", view.Status)
}

func TestTrackerIgnoresNonOrderPayloads(t *testing.T) {
	tracker := NewOrderTracker()

	// 餐桌释放事件没有order_id，不进投影
	released := broker.Event{
		Topic:     broker.RestaurantTopic(1),
		Kind:      broker.KindTableReleased,
		Payload:   map[string]interface{}{"table_id": 1, "label": "T1"},
		Timestamp: time.Now(),
	}
	assert.False(t, tracker.Apply(released))
	assert.Empty(t, tracker.Snapshot())
}

func TestTrackerTracksOrdersIndependently(t *testing.T) {
	tracker := NewOrderTracker()
	base := time.Now()

	require.True(t, tracker.Apply(orderEvent(1, "confirmed", base)))
	require.True(t, tracker.Apply(orderEvent(2, "pending", base)))

	first, _ := tracker.Get(1)
	second, _ := tracker.Get(2)
	assert.Equal(t, "confirmed", first.Status)
	assert.Equal(t, "pending", second.Status)
	assert.Len(t, tracker.Snapshot(), 2)
}
