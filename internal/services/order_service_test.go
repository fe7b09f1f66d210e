package services

import (
	"regexp"
	"testing"
	"time"

	"dinehub/internal/broker"
	"dinehub/internal/models"
	apperrors "dinehub/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrderFixture(t *testing.T) (*OrderService, *TableService, *broker.Broker, *models.Table, *models.User) {
	t.Helper()
	db := newTestDB(t)
	hub := broker.New(16)
	tables := NewTableService(db, hub)
	orders := NewOrderService(db, hub, tables, 10*time.Minute)

	owner := seedOwner(t, db, "o1")
	table := seedTable(t, db, owner.ID, "T1")
	customer := seedUser(t, db, "diner", models.RoleCustomer, nil)
	return orders, tables, hub, table, customer
}

func TestCreateOrderOccupiesTable(t *testing.T) {
	orders, tables, _, table, customer := newOrderFixture(t)

	order := placeOrder(t, orders, table.ID, customer.ID, "key-1")

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusUnpaid, order.PaymentStatus)
	assert.InDelta(t, 62.0, order.TotalAmount, 0.001)
	assert.Regexp(t, regexp.MustCompile(`^ORD-[0-9A-F]{8}$`), order.OrderNo)

	fresh, err := tables.GetByID(table.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.OccupyingOrderID)
	assert.Equal(t, order.ID, *fresh.OccupyingOrderID)
}

func TestCreateOrderOnOccupiedTableFails(t *testing.T) {
	orders, _, _, table, customer := newOrderFixture(t)

	placeOrder(t, orders, table.ID, customer.ID, "key-1")

	_, _, err := orders.Create(CreateOrderParams{
		TableID:        table.ID,
		PlacedByID:     customer.ID,
		IdempotencyKey: "key-2",
		Items:          []CreateOrderItem{{ProductRef: "tea", ProductName: "大麦茶", Quantity: 1, UnitPrice: 6}},
	})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeTableUnavailable))

	// 占桌失败时订单不应存在
	var count int64
	orders.db.Model(&models.Order{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCreateOrderIdempotencyKeyHit(t *testing.T) {
	orders, _, _, table, customer := newOrderFixture(t)

	first := placeOrder(t, orders, table.ID, customer.ID, "dup-key")

	second, duplicated, err := orders.Create(CreateOrderParams{
		TableID:        table.ID,
		PlacedByID:     customer.ID,
		IdempotencyKey: "dup-key",
		Items:          []CreateOrderItem{{ProductRef: "tea", ProductName: "大麦茶", Quantity: 1, UnitPrice: 6}},
	})
	require.NoError(t, err)
	assert.True(t, duplicated)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.OrderNo, second.OrderNo)
}

func TestCreateOrderIdempotencyKeyExpires(t *testing.T) {
	db := newTestDB(t)
	hub := broker.New(16)
	tables := NewTableService(db, hub)
	// 极短去重窗口，等窗口过去后同键视为新提交
	orders := NewOrderService(db, hub, tables, 50*time.Millisecond)

	owner := seedOwner(t, db, "o1")
	table := seedTable(t, db, owner.ID, "T1")
	customer := seedUser(t, db, "diner", models.RoleCustomer, nil)

	first := placeOrder(t, orders, table.ID, customer.ID, "dup-key")
	time.Sleep(100 * time.Millisecond)

	// 窗口外不再命中已有订单；该订单仍占桌，新提交按占桌冲突处理
	_, duplicated, err := orders.Create(CreateOrderParams{
		TableID:        table.ID,
		PlacedByID:     customer.ID,
		IdempotencyKey: "dup-key",
		Items:          []CreateOrderItem{{ProductRef: "tea", ProductName: "大麦茶", Quantity: 1, UnitPrice: 6}},
	})
	require.Error(t, err)
	assert.False(t, duplicated)
	assert.True(t, apperrors.Is(err, apperrors.CodeTableUnavailable))

	fresh, err := tables.GetByID(table.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.OccupyingOrderID)
	assert.Equal(t, first.ID, *fresh.OccupyingOrderID)
}

func TestFullLifecycleReleasesTableOnPayment(t *testing.T) {
	orders, tables, _, table, customer := newOrderFixture(t)
	staffID := uint(99)

	order := placeOrder(t, orders, table.ID, customer.ID, "key-1")

	for _, target := range []string{
		models.OrderStatusConfirmed,
		models.OrderStatusPreparing,
		models.OrderStatusReady,
		models.OrderStatusServed,
	} {
		updated, err := orders.Transition(order.ID, target, staffID)
		require.NoError(t, err)
		assert.Equal(t, target, updated.Status)

		// 未结清的活跃订单始终占桌
		fresh, err := tables.GetByID(table.ID)
		require.NoError(t, err)
		require.NotNil(t, fresh.OccupyingOrderID)
	}

	// 首次confirmed记录操作人
	confirmed, err := orders.GetByID(order.ID)
	require.NoError(t, err)
	require.NotNil(t, confirmed.ConfirmedByID)
	assert.Equal(t, staffID, *confirmed.ConfirmedByID)

	// 结清后立即释放餐桌
	_, err = orders.SetPaymentStatus(order.ID, models.PaymentStatusPaid, staffID)
	require.NoError(t, err)

	fresh, err := tables.GetByID(table.ID)
	require.NoError(t, err)
	assert.Nil(t, fresh.OccupyingOrderID)
}

func TestInvalidTransitionRejected(t *testing.T) {
	orders, _, _, table, customer := newOrderFixture(t)

	order := placeOrder(t, orders, table.ID, customer.ID, "key-1")

	// 跳步
	_, err := orders.Transition(order.ID, models.OrderStatusPreparing, 1)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidTransition))

	// 后退
	_, err = orders.Transition(order.ID, models.OrderStatusConfirmed, 1)
	require.NoError(t, err)
	_, err = orders.Transition(order.ID, models.OrderStatusPending, 1)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidTransition))
}

func TestCancelReleasesTableAndIsTerminal(t *testing.T) {
	orders, tables, _, table, customer := newOrderFixture(t)

	order := placeOrder(t, orders, table.ID, customer.ID, "key-1")

	cancelled, err := orders.Cancel(order.ID, models.OrderStatusKitchenError, "灶台故障", 1)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusKitchenError, cancelled.Status)
	assert.Equal(t, "灶台故障", cancelled.CancelReason)

	fresh, err := tables.GetByID(table.ID)
	require.NoError(t, err)
	assert.Nil(t, fresh.OccupyingOrderID)

	// 终态订单再取消是无操作上报
	_, err = orders.Cancel(order.ID, "", "重复取消", 1)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeAlreadyTerminal))

	// 终态订单不可再流转
	_, err = orders.Transition(order.ID, models.OrderStatusConfirmed, 1)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidTransition))

	// 释放后同桌立刻可以下新单
	next := placeOrder(t, orders, table.ID, customer.ID, "key-2")
	fresh, err = tables.GetByID(table.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.OccupyingOrderID)
	assert.Equal(t, next.ID, *fresh.OccupyingOrderID)
}

func TestCancelDefaultsToCancelled(t *testing.T) {
	orders, _, _, table, customer := newOrderFixture(t)

	order := placeOrder(t, orders, table.ID, customer.ID, "key-1")
	cancelled, err := orders.Cancel(order.ID, "", "顾客离店", 1)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
}

func TestPaymentAxisForwardOnly(t *testing.T) {
	orders, _, _, table, customer := newOrderFixture(t)

	order := placeOrder(t, orders, table.ID, customer.ID, "key-1")

	_, err := orders.SetPaymentStatus(order.ID, models.PaymentStatusPartial, 1)
	require.NoError(t, err)

	// 直接后退被拒绝
	_, err = orders.SetPaymentStatus(order.ID, models.PaymentStatusUnpaid, 1)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidPaymentMove))

	// 原地踏步同样被拒绝
	_, err = orders.SetPaymentStatus(order.ID, models.PaymentStatusPartial, 1)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidPaymentMove))
}

func TestVoidPaymentReoccupiesTable(t *testing.T) {
	orders, tables, _, table, customer := newOrderFixture(t)

	order := placeOrder(t, orders, table.ID, customer.ID, "key-1")

	_, err := orders.SetPaymentStatus(order.ID, models.PaymentStatusPaid, 1)
	require.NoError(t, err)
	fresh, err := tables.GetByID(table.ID)
	require.NoError(t, err)
	assert.Nil(t, fresh.OccupyingOrderID)

	// 作废回退，订单重新满足占用谓词并重新占桌
	voided, err := orders.VoidPayment(order.ID, models.PaymentStatusUnpaid, 1)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusUnpaid, voided.PaymentStatus)

	fresh, err = tables.GetByID(table.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.OccupyingOrderID)
	assert.Equal(t, order.ID, *fresh.OccupyingOrderID)
}

func TestVoidPaymentRejectsForwardMove(t *testing.T) {
	orders, _, _, table, customer := newOrderFixture(t)

	order := placeOrder(t, orders, table.ID, customer.ID, "key-1")

	_, err := orders.VoidPayment(order.ID, models.PaymentStatusPaid, 1)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidPaymentMove))
}

func TestVoidDoesNotStealOccupiedTable(t *testing.T) {
	orders, tables, _, table, customer := newOrderFixture(t)

	first := placeOrder(t, orders, table.ID, customer.ID, "key-1")
	_, err := orders.SetPaymentStatus(first.ID, models.PaymentStatusPaid, 1)
	require.NoError(t, err)

	// 第一单结清释放后，第二单占桌
	second := placeOrder(t, orders, table.ID, customer.ID, "key-2")

	// 第一单作废回退，但餐桌已被第二单占用，不抢占
	_, err = orders.VoidPayment(first.ID, models.PaymentStatusUnpaid, 1)
	require.NoError(t, err)

	fresh, err := tables.GetByID(table.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.OccupyingOrderID)
	assert.Equal(t, second.ID, *fresh.OccupyingOrderID)
}

func TestTerminalOrderPaymentFrozen(t *testing.T) {
	orders, _, _, table, customer := newOrderFixture(t)

	order := placeOrder(t, orders, table.ID, customer.ID, "key-1")
	_, err := orders.Cancel(order.ID, "", "顾客离店", 1)
	require.NoError(t, err)

	_, err = orders.SetPaymentStatus(order.ID, models.PaymentStatusPaid, 1)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeAlreadyTerminal))
}

func TestTerminalOrderVoidFrozen(t *testing.T) {
	orders, _, _, table, customer := newOrderFixture(t)

	order := placeOrder(t, orders, table.ID, customer.ID, "key-1")
	_, err := orders.SetPaymentStatus(order.ID, models.PaymentStatusPartial, 1)
	require.NoError(t, err)
	_, err = orders.Cancel(order.ID, models.OrderStatusCustomerRefused, "拒收", 1)
	require.NoError(t, err)

	// 终态冻结对作废回退同样生效
	_, err = orders.VoidPayment(order.ID, models.PaymentStatusUnpaid, 1)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeAlreadyTerminal))
}

func TestTransitionsEmitEvents(t *testing.T) {
	orders, _, hub, table, customer := newOrderFixture(t)

	ownerSub := hub.Subscribe(broker.RestaurantTopic(table.OwnerID))
	defer ownerSub.Close()

	order := placeOrder(t, orders, table.ID, customer.ID, "key-1")

	orderSub := hub.Subscribe(broker.OrderTopic(order.ID))
	defer orderSub.Close()

	_, err := orders.Transition(order.ID, models.OrderStatusConfirmed, 1)
	require.NoError(t, err)
	_, err = orders.SetPaymentStatus(order.ID, models.PaymentStatusPaid, 1)
	require.NoError(t, err)

	// 餐厅主题：创建、状态流转、释放、支付变更
	kinds := drainKinds(ownerSub.C)
	assert.Contains(t, kinds, broker.KindOrderCreated)
	assert.Contains(t, kinds, broker.KindStatusChanged)
	assert.Contains(t, kinds, broker.KindPaymentChanged)
	assert.Contains(t, kinds, broker.KindTableReleased)

	// 订单主题只收到该订单的变更
	orderKinds := drainKinds(orderSub.C)
	assert.Equal(t, []string{broker.KindStatusChanged, broker.KindPaymentChanged}, orderKinds)
}

func TestEventsAreAudited(t *testing.T) {
	orders, _, _, table, customer := newOrderFixture(t)

	order := placeOrder(t, orders, table.ID, customer.ID, "key-1")
	_, err := orders.Transition(order.ID, models.OrderStatusConfirmed, 1)
	require.NoError(t, err)

	var logs []models.OrderEventLog
	require.NoError(t, orders.db.Where("order_id = ?", order.ID).Order("id").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, broker.KindOrderCreated, logs[0].Kind)
	assert.Equal(t, broker.KindStatusChanged, logs[1].Kind)
	assert.Equal(t, table.OwnerID, logs[0].OwnerID)
}

// drainKinds 取出通道里已投递的事件类型
func drainKinds(c <-chan broker.Event) []string {
	var kinds []string
	for {
		select {
		case evt := <-c:
			kinds = append(kinds, evt.Kind)
		default:
			return kinds
		}
	}
}
