package services

import (
	"time"

	"dinehub/internal/models"
	"dinehub/pkg/errors"

	"gorm.io/gorm"
)

// UserService 用户服务
type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// GetByID 根据ID获取用户
func (s *UserService) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := s.db.Preload("Owner").First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByUsername 根据用户名获取用户
func (s *UserService) GetByUsername(username string) (*models.User, error) {
	var user models.User
	err := s.db.Preload("Owner").Where("username = ?", username).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// IsActive 用户是否可用
func (s *UserService) IsActive(user *models.User) bool {
	return user.Status == models.UserStatusActive
}

// Authenticate 校验用户名密码
func (s *UserService) Authenticate(username, password string) (*models.User, error) {
	user, err := s.GetByUsername(username)
	if err != nil {
		return nil, errors.New(errors.CodeUnauthorized, "用户名或密码错误")
	}
	if !s.IsActive(user) {
		return nil, errors.New(errors.CodeUnauthorized, "用户已被禁用")
	}
	if !user.CheckPassword(password) {
		return nil, errors.New(errors.CodeUnauthorized, "用户名或密码错误")
	}

	now := time.Now()
	s.db.Model(user).Update("last_login_at", now)
	return user, nil
}

// CreateStaff 创建餐厅员工
func (s *UserService) CreateStaff(ownerID uint, username, password, name, role string) (*models.User, error) {
	switch role {
	case models.RoleOwner, models.RoleKitchen, models.RoleCashier:
	default:
		return nil, errors.Newf(errors.CodeInvalidParam, "非法的员工角色: %s", role)
	}

	user := &models.User{
		Username: username,
		Name:     name,
		Role:     role,
		OwnerID:  &ownerID,
		Status:   models.UserStatusActive,
	}
	if err := user.SetPassword(password); err != nil {
		return nil, err
	}
	err := s.db.Create(user).Error
	return user, err
}

// CreateCustomer 创建顾客账号
//
// 顾客是平台级身份，OwnerID 保持 nil。
func (s *UserService) CreateCustomer(username, password, name string) (*models.User, error) {
	user := &models.User{
		Username: username,
		Name:     name,
		Role:     models.RoleCustomer,
		Status:   models.UserStatusActive,
	}
	if err := user.SetPassword(password); err != nil {
		return nil, err
	}
	err := s.db.Create(user).Error
	return user, err
}
