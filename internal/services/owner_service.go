package services

import (
	"dinehub/internal/models"

	"gorm.io/gorm"
)

// OwnerService 餐厅租户服务
type OwnerService struct {
	db *gorm.DB
}

func NewOwnerService(db *gorm.DB) *OwnerService {
	return &OwnerService{db: db}
}

// Create 创建餐厅
func (s *OwnerService) Create(name, code string) (*models.Owner, error) {
	var count int64
	s.db.Model(&models.Owner{}).Where("code = ?", code).Count(&count)
	if count > 0 {
		return nil, gorm.ErrDuplicatedKey
	}

	owner := &models.Owner{
		Name:   name,
		Code:   code,
		Status: models.OwnerStatusActive,
	}
	err := s.db.Create(owner).Error
	return owner, err
}

// GetByID 根据ID获取餐厅
func (s *OwnerService) GetByID(id uint) (*models.Owner, error) {
	var owner models.Owner
	err := s.db.First(&owner, id).Error
	return &owner, err
}

// GetAllWithPage 餐厅列表（分页）
func (s *OwnerService) GetAllWithPage(page, pageSize int) ([]*models.Owner, int64, error) {
	var owners []*models.Owner
	var total int64

	if err := s.db.Model(&models.Owner{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := s.db.Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&owners).Error
	if err != nil {
		return nil, 0, err
	}

	// 统计每个餐厅的餐桌数量
	for i := range owners {
		var tableCount int64
		s.db.Model(&models.Table{}).Where("owner_id = ?", owners[i].ID).Count(&tableCount)
		owners[i].TableCount = int(tableCount)
	}
	return owners, total, nil
}

// Deactivate 停用餐厅
//
// 餐厅创建后不可修改，停用是唯一允许的生命周期变更。
func (s *OwnerService) Deactivate(id uint) error {
	return s.db.Model(&models.Owner{}).Where("id = ?", id).
		Update("status", models.OwnerStatusInactive).Error
}
