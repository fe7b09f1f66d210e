package services

import (
	"sync"
	"time"

	"dinehub/internal/broker"
	"dinehub/internal/models"
	"dinehub/pkg/errors"
	"dinehub/pkg/logger"

	"gorm.io/gorm"
)

// cancelTerminalStatuses 占用谓词SQL形态用到的终态集合
var cancelTerminalStatuses = []string{
	models.OrderStatusCancelled,
	models.OrderStatusCustomerRefused,
	models.OrderStatusKitchenError,
	models.OrderStatusQualityIssue,
	models.OrderStatusWasted,
}

// ReconcileReport 占用对账报告
type ReconcileReport struct {
	TableID        uint   `json:"table_id"`
	Label          string `json:"label"`
	LiveOrderIDs   []uint `json:"live_order_ids"`
	CachedOrderID  *uint  `json:"cached_order_id"`
	Repaired       bool   `json:"repaired"`
	Consistent     bool   `json:"consistent"`
}

// TableService 餐桌占用管理
//
// 不变量：任意时刻一张餐桌至多被一个满足占用谓词的订单占用。
// 写路径（TryAcquire/Release）由桌级互斥串行化，不同餐桌互不影响；
// OccupyingOrderID 只是派生缓存，Reconcile 随时可以从订单集合重新推导。
type TableService struct {
	db     *gorm.DB
	broker *broker.Broker

	locksMu sync.Mutex
	locks   map[uint]*sync.Mutex
}

func NewTableService(db *gorm.DB, b *broker.Broker) *TableService {
	return &TableService{
		db:     db,
		broker: b,
		locks:  make(map[uint]*sync.Mutex),
	}
}

// lockFor 取桌级互斥锁，懒创建
func (s *TableService) lockFor(tableID uint) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if s.locks[tableID] == nil {
		s.locks[tableID] = &sync.Mutex{}
	}
	return s.locks[tableID]
}

// LockTable 获取桌级临界区，返回解锁函数
//
// 下单路径必须先进临界区再开事务，保证同桌并发下单串行化。
func (s *TableService) LockTable(tableID uint) func() {
	mu := s.lockFor(tableID)
	mu.Lock()
	return mu.Unlock
}

// GetByID 查询餐桌
func (s *TableService) GetByID(tableID uint) (*models.Table, error) {
	var table models.Table
	if err := s.db.First(&table, tableID).Error; err != nil {
		return nil, err
	}
	return &table, nil
}

// ListByOwner 餐厅餐桌列表
func (s *TableService) ListByOwner(ownerID uint, page, pageSize int) ([]*models.Table, int64, error) {
	var tables []*models.Table
	var total int64

	query := s.db.Model(&models.Table{}).Where("owner_id = ?", ownerID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("label").Offset((page - 1) * pageSize).Limit(pageSize).Find(&tables).Error
	return tables, total, err
}

// Create 创建餐桌
func (s *TableService) Create(ownerID uint, label string, capacity int) (*models.Table, error) {
	if capacity <= 0 {
		capacity = 4
	}
	table := &models.Table{
		OwnerID:  ownerID,
		Label:    label,
		Capacity: capacity,
	}
	err := s.db.Create(table).Error
	return table, err
}

// TryAcquire 在下单事务内占用餐桌
//
// 调用方必须已持有该桌的临界区（LockTable）。缓存的占用订单如果已经
// 不满足占用谓词（如支付后未及时释放），这里顺手修复后继续占用。
func (s *TableService) TryAcquire(tx *gorm.DB, table *models.Table, orderID uint) error {
	if table.OccupyingOrderID != nil {
		var occupant models.Order
		if err := tx.First(&occupant, *table.OccupyingOrderID).Error; err != nil {
			return err
		}
		if occupant.IsOccupying() {
			return errors.NewTableUnavailable(table.Label)
		}
		// 缓存过期：占用者已不再满足谓词
		logger.GetLogger().Warnf("餐桌 %s 的占用缓存过期（订单 %d），修复后继续", table.Label, occupant.ID)
	}

	table.OccupyingOrderID = &orderID
	return tx.Model(&models.Table{}).Where("id = ?", table.ID).
		Update("occupying_order_id", orderID).Error
}

// Release 释放餐桌，幂等
//
// 已空闲的餐桌调用Release是无操作，不报错。
func (s *TableService) Release(tableID uint) error {
	unlock := s.LockTable(tableID)
	defer unlock()
	return s.releaseLocked(tableID)
}

// ReleaseFor 当指定订单不再占用时释放其餐桌
//
// 只有当前占用者是该订单时才清除，避免误放他人的占用。
func (s *TableService) ReleaseFor(order *models.Order) error {
	unlock := s.LockTable(order.TableID)
	defer unlock()

	var table models.Table
	if err := s.db.First(&table, order.TableID).Error; err != nil {
		return err
	}
	if table.OccupyingOrderID == nil || *table.OccupyingOrderID != order.ID {
		return nil
	}
	return s.releaseLocked(order.TableID)
}

// Reoccupy 作废支付后重新占桌
//
// 作废让订单重新满足占用谓词。餐桌若已被其他活跃订单占走则不抢占，
// 留给对账报告暴露，由运营人工处理。
func (s *TableService) Reoccupy(order *models.Order) error {
	unlock := s.LockTable(order.TableID)
	defer unlock()

	var table models.Table
	if err := s.db.First(&table, order.TableID).Error; err != nil {
		return err
	}
	if table.OccupyingOrderID != nil {
		if *table.OccupyingOrderID == order.ID {
			return nil
		}
		logger.GetLogger().Warnf("作废订单 %d 的餐桌 %s 已被订单 %d 占用，不抢占",
			order.ID, table.Label, *table.OccupyingOrderID)
		return nil
	}
	return s.db.Model(&models.Table{}).Where("id = ?", table.ID).
		Update("occupying_order_id", order.ID).Error
}

// releaseLocked 清除占用并广播，调用方已持锁
func (s *TableService) releaseLocked(tableID uint) error {
	var table models.Table
	if err := s.db.First(&table, tableID).Error; err != nil {
		return err
	}
	if table.OccupyingOrderID == nil {
		return nil
	}

	releasedOrderID := *table.OccupyingOrderID
	if err := s.db.Model(&models.Table{}).Where("id = ?", tableID).
		Update("occupying_order_id", nil).Error; err != nil {
		return err
	}

	if s.broker != nil {
		s.broker.Publish(broker.Event{
			Topic: broker.RestaurantTopic(table.OwnerID),
			Kind:  broker.KindTableReleased,
			Payload: map[string]interface{}{
				"table_id": table.ID,
				"label":    table.Label,
				"order_id": releasedOrderID,
			},
			Timestamp: time.Now(),
		})
	}
	return nil
}

// liveOrders 餐桌上满足占用谓词的订单集合
func (s *TableService) liveOrders(tableID uint) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.Where("table_id = ?", tableID).
		Where("status NOT IN ?", cancelTerminalStatuses).
		Where("payment_status <> ?", models.PaymentStatusPaid).
		Order("id").
		Find(&orders).Error
	return orders, err
}

// Reconcile 从订单集合重新推导餐桌占用
//
// 0或1个活跃订单时修复缓存；多于1个说明上游逻辑出了缺陷，
// 绝不猜测保留哪个订单，原样上报 DataInconsistency 交人工处理。
func (s *TableService) Reconcile(tableID uint) (*ReconcileReport, error) {
	unlock := s.LockTable(tableID)
	defer unlock()

	var table models.Table
	if err := s.db.First(&table, tableID).Error; err != nil {
		return nil, err
	}

	live, err := s.liveOrders(tableID)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{
		TableID:       table.ID,
		Label:         table.Label,
		CachedOrderID: table.OccupyingOrderID,
	}
	for _, o := range live {
		report.LiveOrderIDs = append(report.LiveOrderIDs, o.ID)
	}

	if len(live) > 1 {
		report.Consistent = false
		return report, errors.NewDataInconsistency(table.ID, len(live))
	}

	report.Consistent = true
	switch len(live) {
	case 0:
		if table.OccupyingOrderID != nil {
			report.Repaired = true
			if err := s.releaseLocked(tableID); err != nil {
				return report, err
			}
		}
	case 1:
		if table.OccupyingOrderID == nil || *table.OccupyingOrderID != live[0].ID {
			report.Repaired = true
			if err := s.db.Model(&models.Table{}).Where("id = ?", tableID).
				Update("occupying_order_id", live[0].ID).Error; err != nil {
				return report, err
			}
		}
	}
	return report, nil
}
