package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"dinehub/internal/broker"
	"dinehub/internal/models"
	apperrors "dinehub/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentPlacementSingleWinner(t *testing.T) {
	db := newTestDB(t)
	hub := broker.New(16)
	tables := NewTableService(db, hub)
	orders := NewOrderService(db, hub, tables, 10*time.Minute)

	owner := seedOwner(t, db, "o1")
	table := seedTable(t, db, owner.ID, "T1")
	customer := seedUser(t, db, "diner", models.RoleCustomer, nil)

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _, err := orders.Create(CreateOrderParams{
				TableID:        table.ID,
				PlacedByID:     customer.ID,
				IdempotencyKey: fmt.Sprintf("race-%d", n),
				Items:          []CreateOrderItem{{ProductRef: "tea", ProductName: "大麦茶", Quantity: 1, UnitPrice: 6}},
			})
			results[n] = err
		}(i)
	}
	wg.Wait()

	// 恰好一个赢家，其余都是餐桌占用错误
	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.True(t, apperrors.Is(err, apperrors.CodeTableUnavailable))
		}
	}
	assert.Equal(t, 1, winners)

	var count int64
	db.Model(&models.Order{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestReleaseIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	hub := broker.New(16)
	tables := NewTableService(db, hub)
	orders := NewOrderService(db, hub, tables, 10*time.Minute)

	owner := seedOwner(t, db, "o1")
	table := seedTable(t, db, owner.ID, "T1")
	customer := seedUser(t, db, "diner", models.RoleCustomer, nil)

	placeOrder(t, orders, table.ID, customer.ID, "key-1")

	sub := hub.Subscribe(broker.RestaurantTopic(owner.ID))
	defer sub.Close()

	require.NoError(t, tables.Release(table.ID))
	require.NoError(t, tables.Release(table.ID))
	require.NoError(t, tables.Release(table.ID))

	fresh, err := tables.GetByID(table.ID)
	require.NoError(t, err)
	assert.Nil(t, fresh.OccupyingOrderID)

	// 只有真正清除占用的那次广播释放事件
	released := 0
	for _, kind := range drainKinds(sub.C) {
		if kind == broker.KindTableReleased {
			released++
		}
	}
	assert.Equal(t, 1, released)
}

func TestReleaseForOnlyClearsOwnOccupancy(t *testing.T) {
	db := newTestDB(t)
	hub := broker.New(16)
	tables := NewTableService(db, hub)
	orders := NewOrderService(db, hub, tables, 10*time.Minute)

	owner := seedOwner(t, db, "o1")
	table := seedTable(t, db, owner.ID, "T1")
	customer := seedUser(t, db, "diner", models.RoleCustomer, nil)

	occupant := placeOrder(t, orders, table.ID, customer.ID, "key-1")

	// 另一笔订单（别的桌）不能释放这张桌
	other := &models.Order{
		OrderNo:          "ORD-FFFFFFFF",
		TableID:          table.ID,
		Status:           models.OrderStatusPending,
		PaymentStatus:    models.PaymentStatusUnpaid,
		PlacedByID:       customer.ID,
		LastTransitionAt: time.Now(),
	}
	require.NoError(t, db.Create(other).Error)

	require.NoError(t, tables.ReleaseFor(other))

	fresh, err := tables.GetByID(table.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.OccupyingOrderID)
	assert.Equal(t, occupant.ID, *fresh.OccupyingOrderID)
}

func TestReconcileRepairsStaleCache(t *testing.T) {
	db := newTestDB(t)
	hub := broker.New(16)
	tables := NewTableService(db, hub)
	orders := NewOrderService(db, hub, tables, 10*time.Minute)

	owner := seedOwner(t, db, "o1")
	table := seedTable(t, db, owner.ID, "T1")
	customer := seedUser(t, db, "diner", models.RoleCustomer, nil)

	order := placeOrder(t, orders, table.ID, customer.ID, "key-1")

	// 人为制造缓存漂移：订单已结清但缓存没清
	require.NoError(t, db.Model(&models.Order{}).Where("id = ?", order.ID).
		Update("payment_status", models.PaymentStatusPaid).Error)

	report, err := tables.Reconcile(table.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.True(t, report.Repaired)
	assert.Empty(t, report.LiveOrderIDs)

	fresh, err := tables.GetByID(table.ID)
	require.NoError(t, err)
	assert.Nil(t, fresh.OccupyingOrderID)
}

func TestReconcileRestoresMissingOccupancy(t *testing.T) {
	db := newTestDB(t)
	hub := broker.New(16)
	tables := NewTableService(db, hub)
	orders := NewOrderService(db, hub, tables, 10*time.Minute)

	owner := seedOwner(t, db, "o1")
	table := seedTable(t, db, owner.ID, "T1")
	customer := seedUser(t, db, "diner", models.RoleCustomer, nil)

	order := placeOrder(t, orders, table.ID, customer.ID, "key-1")

	// 缓存被误清，活跃订单还在
	require.NoError(t, db.Model(&models.Table{}).Where("id = ?", table.ID).
		Update("occupying_order_id", nil).Error)

	report, err := tables.Reconcile(table.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.True(t, report.Repaired)
	assert.Equal(t, []uint{order.ID}, report.LiveOrderIDs)

	fresh, err := tables.GetByID(table.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.OccupyingOrderID)
	assert.Equal(t, order.ID, *fresh.OccupyingOrderID)
}

func TestReconcileReportsMultiOccupancy(t *testing.T) {
	db := newTestDB(t)
	hub := broker.New(16)
	tables := NewTableService(db, hub)
	orders := NewOrderService(db, hub, tables, 10*time.Minute)

	owner := seedOwner(t, db, "o1")
	table := seedTable(t, db, owner.ID, "T1")
	customer := seedUser(t, db, "diner", models.RoleCustomer, nil)

	first := placeOrder(t, orders, table.ID, customer.ID, "key-1")

	// 绕过服务层直插第二笔活跃订单，模拟上游缺陷
	second := &models.Order{
		OrderNo:          "ORD-EEEEEEEE",
		TableID:          table.ID,
		Status:           models.OrderStatusConfirmed,
		PaymentStatus:    models.PaymentStatusUnpaid,
		PlacedByID:       customer.ID,
		LastTransitionAt: time.Now(),
	}
	require.NoError(t, db.Create(second).Error)

	report, err := tables.Reconcile(table.ID)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeDataInconsistency))

	// 绝不修复，原样上报两笔活跃订单
	require.NotNil(t, report)
	assert.False(t, report.Consistent)
	assert.False(t, report.Repaired)
	assert.ElementsMatch(t, []uint{first.ID, second.ID}, report.LiveOrderIDs)

	// 缓存保持原状
	fresh, err := tables.GetByID(table.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.OccupyingOrderID)
	assert.Equal(t, first.ID, *fresh.OccupyingOrderID)
}

func TestStaleOccupantRepairedOnAcquire(t *testing.T) {
	db := newTestDB(t)
	hub := broker.New(16)
	tables := NewTableService(db, hub)
	orders := NewOrderService(db, hub, tables, 10*time.Minute)

	owner := seedOwner(t, db, "o1")
	table := seedTable(t, db, owner.ID, "T1")
	customer := seedUser(t, db, "diner", models.RoleCustomer, nil)

	stale := placeOrder(t, orders, table.ID, customer.ID, "key-1")

	// 占用者已结清但缓存未清，下一笔下单应顺手修复并成功占桌
	require.NoError(t, db.Model(&models.Order{}).Where("id = ?", stale.ID).
		Update("payment_status", models.PaymentStatusPaid).Error)

	next := placeOrder(t, orders, table.ID, customer.ID, "key-2")

	fresh, err := tables.GetByID(table.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.OccupyingOrderID)
	assert.Equal(t, next.ID, *fresh.OccupyingOrderID)
}
