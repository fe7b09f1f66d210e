package services

import (
	"fmt"
	"sync/atomic"
	"testing"

	"dinehub/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testDBSeq int64

// newTestDB 每个测试独立的SQLite内存库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:svc_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Owner{},
		&models.User{},
		&models.Table{},
		&models.Order{},
		&models.OrderItem{},
		&models.Payment{},
		&models.OrderEventLog{},
	)
	require.NoError(t, err)
	return db
}

func seedOwner(t *testing.T, db *gorm.DB, code string) *models.Owner {
	t.Helper()
	owner := &models.Owner{Name: "测试门店" + code, Code: code, Status: models.OwnerStatusActive}
	require.NoError(t, db.Create(owner).Error)
	return owner
}

func seedTable(t *testing.T, db *gorm.DB, ownerID uint, label string) *models.Table {
	t.Helper()
	table := &models.Table{OwnerID: ownerID, Label: label, Capacity: 4}
	require.NoError(t, db.Create(table).Error)
	return table
}

func seedUser(t *testing.T, db *gorm.DB, username, role string, ownerID *uint) *models.User {
	t.Helper()
	user := &models.User{
		Username: username,
		Name:     username,
		Role:     role,
		OwnerID:  ownerID,
		Status:   models.UserStatusActive,
	}
	require.NoError(t, user.SetPassword("Secret@123"))
	require.NoError(t, db.Create(user).Error)
	return user
}

// placeOrder 走正式下单路径建一笔单
func placeOrder(t *testing.T, orders *OrderService, tableID, userID uint, key string) *models.Order {
	t.Helper()
	order, duplicated, err := orders.Create(CreateOrderParams{
		TableID:        tableID,
		PlacedByID:     userID,
		IdempotencyKey: key,
		Items: []CreateOrderItem{
			{ProductRef: "noodles", ProductName: "牛肉面", Quantity: 2, UnitPrice: 28},
			{ProductRef: "tea", ProductName: "大麦茶", Quantity: 1, UnitPrice: 6},
		},
	})
	require.NoError(t, err)
	require.False(t, duplicated)
	return order
}
