package services

import (
	"testing"
	"time"

	"dinehub/internal/broker"
	"dinehub/internal/models"
	apperrors "dinehub/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPaymentFixture(t *testing.T) (*PaymentService, *OrderService, *TableService, *models.Order, *models.Table) {
	t.Helper()
	db := newTestDB(t)
	hub := broker.New(16)
	tables := NewTableService(db, hub)
	orders := NewOrderService(db, hub, tables, 10*time.Minute)
	payments := NewPaymentService(db, orders)

	owner := seedOwner(t, db, "o1")
	table := seedTable(t, db, owner.ID, "T1")
	customer := seedUser(t, db, "diner", models.RoleCustomer, nil)
	order := placeOrder(t, orders, table.ID, customer.ID, "key-1") // 总额62
	return payments, orders, tables, order, table
}

func TestRecordPaymentAdvancesPaymentAxis(t *testing.T) {
	payments, orders, tables, order, table := newPaymentFixture(t)

	// 第一笔部分收款
	_, err := payments.RecordPayment(order.ID, 30, models.PaymentMethodCash, 5, "", "")
	require.NoError(t, err)
	fresh, err := orders.GetByID(order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPartial, fresh.PaymentStatus)

	// 第二笔仍不够，状态原地不动
	_, err = payments.RecordPayment(order.ID, 10, models.PaymentMethodCard, 5, "", "")
	require.NoError(t, err)
	fresh, err = orders.GetByID(order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPartial, fresh.PaymentStatus)

	// 补齐后结清并释放餐桌
	_, err = payments.RecordPayment(order.ID, 22, models.PaymentMethodDigital, 5, "", "")
	require.NoError(t, err)
	fresh, err = orders.GetByID(order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, fresh.PaymentStatus)

	freshTable, err := tables.GetByID(table.ID)
	require.NoError(t, err)
	assert.Nil(t, freshTable.OccupyingOrderID)

	// 已结清的订单不再接受收款
	_, err = payments.RecordPayment(order.ID, 1, models.PaymentMethodCash, 5, "", "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidPaymentMove))
}

func TestRecordPaymentValidation(t *testing.T) {
	payments, _, _, order, _ := newPaymentFixture(t)

	_, err := payments.RecordPayment(order.ID, 0, models.PaymentMethodCash, 5, "", "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidParam))

	_, err = payments.RecordPayment(order.ID, 10, "barter", 5, "", "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeInvalidParam))
}

func TestVoidPaymentRollsBackPaymentAxis(t *testing.T) {
	payments, orders, tables, order, table := newPaymentFixture(t)

	first, err := payments.RecordPayment(order.ID, 30, models.PaymentMethodCash, 5, "", "")
	require.NoError(t, err)
	second, err := payments.RecordPayment(order.ID, 32, models.PaymentMethodCard, 5, "", "")
	require.NoError(t, err)

	fresh, err := orders.GetByID(order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, fresh.PaymentStatus)

	// 作废第二笔：回到partial，重新占桌
	voided, err := payments.VoidPayment(second.ID, 6, "刷错卡")
	require.NoError(t, err)
	assert.True(t, voided.IsVoided)
	assert.Equal(t, "刷错卡", voided.VoidReason)

	fresh, err = orders.GetByID(order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPartial, fresh.PaymentStatus)

	freshTable, err := tables.GetByID(table.ID)
	require.NoError(t, err)
	require.NotNil(t, freshTable.OccupyingOrderID)
	assert.Equal(t, order.ID, *freshTable.OccupyingOrderID)

	// 作废第一笔：回到unpaid
	_, err = payments.VoidPayment(first.ID, 6, "现金清点有误")
	require.NoError(t, err)
	fresh, err = orders.GetByID(order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusUnpaid, fresh.PaymentStatus)

	// 重复作废被拒
	_, err = payments.VoidPayment(first.ID, 6, "再来一次")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeConflict))
}

func TestRecordPaymentRejectsTerminalOrder(t *testing.T) {
	payments, orders, _, order, _ := newPaymentFixture(t)

	_, err := orders.Cancel(order.ID, "", "顾客离店", 1)
	require.NoError(t, err)

	_, err = payments.RecordPayment(order.ID, 10, models.PaymentMethodCash, 5, "", "")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeAlreadyTerminal))
}
