package main

import (
	"fmt"

	"dinehub/internal/database"
	"dinehub/internal/models"
	"dinehub/pkg/logger"

	"gorm.io/gorm"
)

// seedData 初始化种子数据
func seedData() error {
	appLogger := logger.GetLogger()
	appLogger.Info("Starting seed data initialization...")

	db := database.GetDB()

	// 1. 创建默认门店
	if err := createDefaultOwner(db); err != nil {
		return fmt.Errorf("创建默认门店失败: %v", err)
	}

	// 2. 创建平台管理员
	if err := createDefaultAdmin(db); err != nil {
		return fmt.Errorf("创建平台管理员失败: %v", err)
	}

	// 3. 创建示例餐桌
	if err := createDefaultTables(db); err != nil {
		return fmt.Errorf("创建示例餐桌失败: %v", err)
	}

	appLogger.Info("Seed data initialization completed successfully")
	return nil
}

// createDefaultOwner 创建默认门店
func createDefaultOwner(db *gorm.DB) error {
	var count int64
	db.Model(&models.Owner{}).Where("code = ?", "default").Count(&count)
	if count > 0 {
		logger.GetLogger().Info("默认门店已存在，跳过创建")
		return nil
	}

	owner := &models.Owner{
		Name:   "默认门店",
		Code:   "default",
		Status: models.OwnerStatusActive,
	}
	if err := db.Create(owner).Error; err != nil {
		return err
	}

	logger.GetLogger().Infof("默认门店创建成功: %s", owner.Code)
	return nil
}

// createDefaultAdmin 创建平台管理员
func createDefaultAdmin(db *gorm.DB) error {
	var count int64
	db.Model(&models.User{}).Where("username = ?", "admin").Count(&count)
	if count > 0 {
		logger.GetLogger().Info("平台管理员已存在，跳过创建")
		return nil
	}

	admin := &models.User{
		Username:        "admin",
		Name:            "平台管理员",
		Role:            models.RoleAdministrator,
		Status:          models.UserStatusActive,
		IsPlatformAdmin: true,
	}
	if err := admin.SetPassword("Admin@123"); err != nil {
		return err
	}
	if err := db.Create(admin).Error; err != nil {
		return err
	}

	logger.GetLogger().Warn("平台管理员创建成功，请尽快修改默认密码: admin / Admin@123")
	return nil
}

// createDefaultTables 为默认门店创建示例餐桌
func createDefaultTables(db *gorm.DB) error {
	var owner models.Owner
	if err := db.Where("code = ?", "default").First(&owner).Error; err != nil {
		return err
	}

	var count int64
	db.Model(&models.Table{}).Where("owner_id = ?", owner.ID).Count(&count)
	if count > 0 {
		return nil
	}

	for i := 1; i <= 4; i++ {
		table := &models.Table{
			OwnerID:  owner.ID,
			Label:    fmt.Sprintf("T%d", i),
			Capacity: 4,
		}
		if err := db.Create(table).Error; err != nil {
			return err
		}
	}

	logger.GetLogger().Info("示例餐桌创建成功")
	return nil
}
