package services

import (
	"dinehub/internal/models"
	"dinehub/pkg/errors"
	"dinehub/pkg/jwt"
	"dinehub/pkg/logger"

	"gorm.io/gorm"
)

// Scope 主体可见的餐厅范围
//
// 三种形态：全平台（平台管理员）、单餐厅（员工）、无租户范围（顾客）。
// 顾客没有餐厅范围不是缺陷而是设计：顾客只能凭自己持有的
// 订单号/餐桌号直接访问，绝不按"顾客所属餐厅"过滤。
type Scope struct {
	All     bool
	OwnerID uint
}

// IsNone 是否无租户范围
func (s Scope) IsNone() bool {
	return !s.All && s.OwnerID == 0
}

// Allows 是否允许访问指定餐厅的数据
func (s Scope) Allows(ownerID uint) bool {
	if s.All {
		return true
	}
	return s.OwnerID != 0 && s.OwnerID == ownerID
}

// ScopeService 租户范围解析器
//
// 所有读取和订阅路径必须先经过这里再触碰餐桌/订单数据。
// 订单归属的唯一推导路径是 order -> table -> owner。
type ScopeService struct {
	db *gorm.DB
}

func NewScopeService(db *gorm.DB) *ScopeService {
	return &ScopeService{db: db}
}

// Resolve 根据登录主体解析可见范围
func (s *ScopeService) Resolve(claims *jwt.JWTClaims) Scope {
	if claims == nil {
		return Scope{}
	}
	if claims.IsPlatformAdmin || claims.Role == models.RoleAdministrator {
		return Scope{All: true}
	}
	switch claims.Role {
	case models.RoleOwner, models.RoleKitchen, models.RoleCashier:
		return Scope{OwnerID: claims.OwnerID}
	}
	// 顾客及未知角色：无租户范围
	return Scope{}
}

// OwnerOfOrder 通过 order -> table -> owner 推导订单归属餐厅
func (s *ScopeService) OwnerOfOrder(orderID uint) (uint, error) {
	var order models.Order
	if err := s.db.Preload("Table").First(&order, orderID).Error; err != nil {
		return 0, err
	}
	return order.Table.OwnerID, nil
}

// AuthorizeOwnerAccess 校验主体是否可访问指定餐厅
func (s *ScopeService) AuthorizeOwnerAccess(claims *jwt.JWTClaims, ownerID uint) error {
	scope := s.Resolve(claims)
	if scope.Allows(ownerID) {
		return nil
	}
	s.logViolation(claims, "restaurant", ownerID)
	return errors.NewScopeViolation("餐厅数据")
}

// AuthorizeOrderAccess 校验主体是否可访问指定订单
//
// 员工走餐厅范围；顾客只能访问自己下的订单。
func (s *ScopeService) AuthorizeOrderAccess(claims *jwt.JWTClaims, order *models.Order) error {
	scope := s.Resolve(claims)
	if !scope.IsNone() {
		var table models.Table
		if err := s.db.First(&table, order.TableID).Error; err != nil {
			return err
		}
		if scope.Allows(table.OwnerID) {
			return nil
		}
		s.logViolation(claims, "order", order.ID)
		return errors.NewScopeViolation("订单")
	}

	if claims != nil && claims.Role == models.RoleCustomer && order.PlacedByID == claims.UserID {
		return nil
	}
	s.logViolation(claims, "order", order.ID)
	return errors.NewScopeViolation("订单")
}

// ScopedOrders 返回按范围过滤后的订单查询
//
// 过滤条件经由餐桌归属（orders JOIN tables ON owner_id），
// 永远不要用下单人字段做租户过滤。
func (s *ScopeService) ScopedOrders(scope Scope) *gorm.DB {
	query := s.db.Model(&models.Order{}).
		Joins("JOIN tables ON tables.id = orders.table_id")
	if scope.All {
		return query
	}
	if scope.IsNone() {
		// 顾客没有列表权限，返回空集
		return query.Where("1 = 0")
	}
	return query.Where("tables.owner_id = ?", scope.OwnerID)
}

// logViolation 越权访问是安全相关事件，必须留痕
func (s *ScopeService) logViolation(claims *jwt.JWTClaims, resource string, id uint) {
	userID := uint(0)
	role := "anonymous"
	if claims != nil {
		userID = claims.UserID
		role = claims.Role
	}
	logger.GetLogger().Warnf("越权访问被拒绝 user=%d role=%s resource=%s id=%d", userID, role, resource, id)
}
