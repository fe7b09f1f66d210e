package handlers

import (
	"errors"
	"strconv"

	"dinehub/internal/services"
	"dinehub/pkg/pagination"
	"dinehub/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CreateOwnerRequest 创建餐厅请求
type CreateOwnerRequest struct {
	Name string `json:"name" binding:"required"`
	Code string `json:"code" binding:"required"`
}

// CreateStaffRequest 创建员工请求
type CreateStaffRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name"`
	Role     string `json:"role" binding:"required"`
}

type OwnerHandler struct {
	service     *services.OwnerService
	userService *services.UserService
}

func NewOwnerHandler(service *services.OwnerService, userService *services.UserService) *OwnerHandler {
	return &OwnerHandler{service: service, userService: userService}
}

// Create 创建餐厅（平台管理员）
func (h *OwnerHandler) Create(c *gin.Context) {
	var req CreateOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	owner, err := h.service.Create(req.Name, req.Code)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			response.BadRequest(c, "餐厅代码已存在")
			return
		}
		response.ServerError(c, "创建失败")
		return
	}

	response.Success(c, owner)
}

// GetAll 餐厅列表（平台管理员）
func (h *OwnerHandler) GetAll(c *gin.Context) {
	params := pagination.ParsePageParams(c)

	owners, total, err := h.service.GetAllWithPage(params.Page, params.PageSize)
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	response.SuccessWithPage(c, owners, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Deactivate 停用餐厅（平台管理员）
func (h *OwnerHandler) Deactivate(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	if err := h.service.Deactivate(uint(id)); err != nil {
		response.ServerError(c, "停用失败")
		return
	}
	response.SuccessWithMessage(c, "餐厅已停用", nil)
}

// CreateStaff 为餐厅创建员工（平台管理员）
func (h *OwnerHandler) CreateStaff(c *gin.Context) {
	ownerID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	var req CreateStaffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	if _, err := h.service.GetByID(uint(ownerID)); err != nil {
		response.NotFound(c, "餐厅不存在")
		return
	}

	user, err := h.userService.CreateStaff(uint(ownerID), req.Username, req.Password, req.Name, req.Role)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, user)
}
