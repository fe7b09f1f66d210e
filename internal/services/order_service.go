package services

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"dinehub/internal/broker"
	"dinehub/internal/models"
	"dinehub/pkg/errors"
	"dinehub/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// forwardTransitions 主路径状态图，只许前进不许跳步
var forwardTransitions = map[string]string{
	models.OrderStatusPending:   models.OrderStatusConfirmed,
	models.OrderStatusConfirmed: models.OrderStatusPreparing,
	models.OrderStatusPreparing: models.OrderStatusReady,
	models.OrderStatusReady:     models.OrderStatusServed,
}

// canTransition 校验状态流转
//
// 主路径逐级前进；任何非终态都可以进入取消类终态；终态不再流转。
func canTransition(from, to string) bool {
	if models.IsTerminalStatus(from) {
		return false
	}
	if models.IsTerminalStatus(to) {
		return true
	}
	return forwardTransitions[from] == to
}

// CreateOrderParams 下单参数
type CreateOrderParams struct {
	TableID             uint
	PlacedByID          uint
	IdempotencyKey      string
	SpecialInstructions string
	Items               []CreateOrderItem
}

// CreateOrderItem 下单明细，单价在此刻快照
type CreateOrderItem struct {
	ProductRef  string
	ProductName string
	Quantity    int
	UnitPrice   float64
	Notes       string
}

// OrderService 订单状态机
//
// 订单生命周期字段的唯一修改入口。同一订单的流转由单级互斥串行化，
// 不同订单互不影响；每次接受的流转先持久化、再写审计日志、最后广播。
type OrderService struct {
	db          *gorm.DB
	broker      *broker.Broker
	tables      *TableService
	dedupWindow time.Duration

	locksMu sync.Mutex
	locks   map[uint]*sync.Mutex
}

func NewOrderService(db *gorm.DB, b *broker.Broker, tables *TableService, dedupWindow time.Duration) *OrderService {
	if dedupWindow <= 0 {
		dedupWindow = 10 * time.Minute
	}
	return &OrderService{
		db:          db,
		broker:      b,
		tables:      tables,
		dedupWindow: dedupWindow,
		locks:       make(map[uint]*sync.Mutex),
	}
}

// lockFor 取订单级互斥锁
func (s *OrderService) lockFor(orderID uint) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if s.locks[orderID] == nil {
		s.locks[orderID] = &sync.Mutex{}
	}
	return s.locks[orderID]
}

// generateOrderNo 订单号：ORD-前缀加8位大写十六进制
func generateOrderNo() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Create 下单
//
// 占桌和建单在同一事务内完成：要么拿到餐桌并生成订单，要么两者都不发生。
// 幂等键在去重窗口内命中时返回已有订单，第二个返回值为true，不算失败。
func (s *OrderService) Create(params CreateOrderParams) (*models.Order, bool, error) {
	// 同桌下单串行化，先进桌级临界区再碰数据
	unlock := s.tables.LockTable(params.TableID)
	defer unlock()

	// 幂等命中：同桌同键且仍在窗口内，直接返回已有订单
	if params.IdempotencyKey != "" {
		var existing models.Order
		err := s.db.Preload("Items").
			Where("table_id = ? AND idempotency_key = ?", params.TableID, params.IdempotencyKey).
			Where("created_at > ?", time.Now().Add(-s.dedupWindow)).
			First(&existing).Error
		if err == nil {
			logger.GetLogger().Infof("幂等键命中，返回已有订单 %s", existing.OrderNo)
			return &existing, true, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, false, err
		}
	}

	var order *models.Order
	var table models.Table

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&table, params.TableID).Error; err != nil {
			return err
		}

		now := time.Now()
		order = &models.Order{
			OrderNo:             generateOrderNo(),
			TableID:             table.ID,
			Status:              models.OrderStatusPending,
			PaymentStatus:       models.PaymentStatusUnpaid,
			SpecialInstructions: params.SpecialInstructions,
			IdempotencyKey:      params.IdempotencyKey,
			PlacedByID:          params.PlacedByID,
			LastTransitionAt:    now,
		}
		for _, item := range params.Items {
			order.Items = append(order.Items, models.OrderItem{
				ProductRef:  item.ProductRef,
				ProductName: item.ProductName,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
				Notes:       item.Notes,
			})
		}
		order.TotalAmount = order.CalculateTotal()

		if err := tx.Create(order).Error; err != nil {
			return err
		}

		// 占桌失败则整个事务回滚，订单不会存在
		return s.tables.TryAcquire(tx, &table, order.ID)
	})
	if err != nil {
		return nil, false, err
	}

	s.logEvent(order, table.OwnerID, broker.KindOrderCreated)
	s.emit(order, table.OwnerID, broker.KindOrderCreated)
	logger.GetLogger().Infof("订单 %s 创建成功，餐桌 %s 已占用", order.OrderNo, table.Label)
	return order, false, nil
}

// GetByID 查询订单详情
func (s *OrderService) GetByID(orderID uint) (*models.Order, error) {
	var order models.Order
	if err := s.db.Preload("Items").Preload("Table").First(&order, orderID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByOrderNo 按订单号查询（顾客跟踪页入口）
func (s *OrderService) GetByOrderNo(orderNo string) (*models.Order, error) {
	var order models.Order
	if err := s.db.Preload("Items").Preload("Table").
		Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// ListByScope 范围内订单列表（后厨/收银看板）
func (s *OrderService) ListByScope(scope Scope, status string, page, pageSize int) ([]*models.Order, int64, error) {
	var orders []*models.Order
	var total int64

	query := s.db.Model(&models.Order{}).
		Joins("JOIN tables ON tables.id = orders.table_id")
	if !scope.All {
		if scope.IsNone() {
			return nil, 0, errors.NewScopeViolation("订单列表")
		}
		query = query.Where("tables.owner_id = ?", scope.OwnerID)
	}
	if status != "" {
		query = query.Where("orders.status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Preload("Items").Preload("Table").
		Order("orders.created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&orders).Error
	return orders, total, err
}

// Transition 订单状态流转
//
// 成功后重估占用谓词：订单不再占桌就立即释放餐桌。
func (s *OrderService) Transition(orderID uint, target string, actorID uint) (*models.Order, error) {
	mu := s.lockFor(orderID)
	mu.Lock()
	defer mu.Unlock()

	order, err := s.GetByID(orderID)
	if err != nil {
		return nil, err
	}

	if !canTransition(order.Status, target) {
		// 合规客户端不会发出非法流转，记下来便于排查客户端缺陷
		logger.GetLogger().Warnf("非法状态流转被拒绝 order=%s %s -> %s actor=%d",
			order.OrderNo, order.Status, target, actorID)
		return nil, errors.NewInvalidTransition(order.Status, target)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":             target,
		"last_transition_at": now,
	}
	if order.Status == models.OrderStatusPending && target == models.OrderStatusConfirmed && order.ConfirmedByID == nil {
		updates["confirmed_by_id"] = actorID
	}

	if err := s.db.Model(&models.Order{}).Where("id = ?", order.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	order.Status = target
	order.LastTransitionAt = now

	// 流转已持久化，重估占用
	if !order.IsOccupying() {
		if err := s.tables.ReleaseFor(order); err != nil {
			logger.GetLogger().WithError(err).Errorf("订单 %s 的餐桌释放失败", order.OrderNo)
		}
	}

	s.logEvent(order, order.Table.OwnerID, broker.KindStatusChanged)
	s.emit(order, order.Table.OwnerID, broker.KindStatusChanged)
	return order, nil
}

// Cancel 取消订单
//
// terminalStatus 指定进入哪个取消类终态，空值默认cancelled。
// 订单已在终态时返回 AlreadyTerminal，属于无操作上报而非致命错误。
func (s *OrderService) Cancel(orderID uint, terminalStatus, reason string, actorID uint) (*models.Order, error) {
	if terminalStatus == "" {
		terminalStatus = models.OrderStatusCancelled
	}
	if !models.IsTerminalStatus(terminalStatus) {
		return nil, errors.NewInvalidTransition("cancel", terminalStatus)
	}

	mu := s.lockFor(orderID)
	mu.Lock()
	defer mu.Unlock()

	order, err := s.GetByID(orderID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalStatus(order.Status) {
		return nil, errors.NewAlreadyTerminal(order.Status)
	}

	now := time.Now()
	if err := s.db.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
		"status":             terminalStatus,
		"cancel_reason":      reason,
		"last_transition_at": now,
	}).Error; err != nil {
		return nil, err
	}
	order.Status = terminalStatus
	order.CancelReason = reason
	order.LastTransitionAt = now

	// 终态订单不再占桌，立即释放
	if err := s.tables.ReleaseFor(order); err != nil {
		logger.GetLogger().WithError(err).Errorf("订单 %s 的餐桌释放失败", order.OrderNo)
	}

	s.logEvent(order, order.Table.OwnerID, broker.KindStatusChanged)
	s.emit(order, order.Table.OwnerID, broker.KindStatusChanged)
	logger.GetLogger().Infof("订单 %s 已进入终态 %s（%s）", order.OrderNo, terminalStatus, reason)
	return order, nil
}

// SetPaymentStatus 支付状态流转
//
// 只许前进：unpaid -> partial -> paid（允许unpaid直接到paid）。
// 回退必须走 VoidPayment 显式作废。取消类终态下不可再改支付状态。
func (s *OrderService) SetPaymentStatus(orderID uint, target string, actorID uint) (*models.Order, error) {
	mu := s.lockFor(orderID)
	mu.Lock()
	defer mu.Unlock()

	order, err := s.GetByID(orderID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalStatus(order.Status) {
		return nil, errors.NewAlreadyTerminal(order.Status)
	}
	if !paymentForward(order.PaymentStatus, target) {
		return nil, errors.NewInvalidPaymentMove(order.PaymentStatus, target)
	}

	return s.applyPaymentStatus(order, target)
}

// VoidPayment 显式作废回退，paid -> partial/unpaid 或 partial -> unpaid
//
// 这是支付轴唯一允许的后退路径。从paid回退后订单重新满足占用谓词，
// 会尝试重新占桌。
func (s *OrderService) VoidPayment(orderID uint, target string, actorID uint) (*models.Order, error) {
	mu := s.lockFor(orderID)
	mu.Lock()
	defer mu.Unlock()

	order, err := s.GetByID(orderID)
	if err != nil {
		return nil, err
	}
	// 取消类终态下支付轴冻结，作废也不例外
	if models.IsTerminalStatus(order.Status) {
		return nil, errors.NewAlreadyTerminal(order.Status)
	}
	// 作废只能后退
	if !paymentForward(target, order.PaymentStatus) {
		return nil, errors.NewInvalidPaymentMove(order.PaymentStatus, target)
	}

	logger.GetLogger().Infof("订单 %s 支付被作废 paid -> %s，操作人 %d", order.OrderNo, target, actorID)
	return s.applyPaymentStatus(order, target)
}

// paymentForward 支付轴只许前进
func paymentForward(from, to string) bool {
	rank := map[string]int{
		models.PaymentStatusUnpaid:  0,
		models.PaymentStatusPartial: 1,
		models.PaymentStatusPaid:    2,
	}
	fromRank, okFrom := rank[from]
	toRank, okTo := rank[to]
	return okFrom && okTo && toRank > fromRank
}

// applyPaymentStatus 持久化支付状态并重估占用，调用方已持订单锁
func (s *OrderService) applyPaymentStatus(order *models.Order, target string) (*models.Order, error) {
	now := time.Now()
	if err := s.db.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
		"payment_status":     target,
		"last_transition_at": now,
	}).Error; err != nil {
		return nil, err
	}
	order.PaymentStatus = target
	order.LastTransitionAt = now

	if order.IsOccupying() {
		if err := s.tables.Reoccupy(order); err != nil {
			logger.GetLogger().WithError(err).Errorf("订单 %s 重新占桌失败", order.OrderNo)
		}
	} else {
		if err := s.tables.ReleaseFor(order); err != nil {
			logger.GetLogger().WithError(err).Errorf("订单 %s 的餐桌释放失败", order.OrderNo)
		}
	}

	s.logEvent(order, order.Table.OwnerID, broker.KindPaymentChanged)
	s.emit(order, order.Table.OwnerID, broker.KindPaymentChanged)
	return order, nil
}

// snapshot 事件负载的订单快照
func (s *OrderService) snapshot(order *models.Order) map[string]interface{} {
	return map[string]interface{}{
		"order_id":           order.ID,
		"order_no":           order.OrderNo,
		"table_id":           order.TableID,
		"status":             order.Status,
		"payment_status":     order.PaymentStatus,
		"total_amount":       order.TotalAmount,
		"last_transition_at": order.LastTransitionAt,
	}
}

// emit 同步广播到餐厅主题和订单主题
func (s *OrderService) emit(order *models.Order, ownerID uint, kind string) {
	if s.broker == nil {
		return
	}
	payload := s.snapshot(order)
	now := time.Now()
	s.broker.Publish(broker.Event{
		Topic:     broker.RestaurantTopic(ownerID),
		Kind:      kind,
		Payload:   payload,
		Timestamp: now,
	})
	s.broker.Publish(broker.Event{
		Topic:     broker.OrderTopic(order.ID),
		Kind:      kind,
		Payload:   payload,
		Timestamp: now,
	})
}

// logEvent 已接受的变更写入审计日志
func (s *OrderService) logEvent(order *models.Order, ownerID uint, kind string) {
	payload, err := json.Marshal(s.snapshot(order))
	if err != nil {
		logger.GetLogger().WithError(err).Error("序列化审计负载失败")
		return
	}
	entry := &models.OrderEventLog{
		OrderID: order.ID,
		OwnerID: ownerID,
		Kind:    kind,
		Payload: payload,
	}
	if err := s.db.Create(entry).Error; err != nil {
		logger.GetLogger().WithError(err).Error("写入订单审计日志失败")
	}
}
