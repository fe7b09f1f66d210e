package handlers

import (
	"errors"
	"strconv"

	"dinehub/internal/services"
	apperrors "dinehub/pkg/errors"
	"dinehub/pkg/pagination"
	"dinehub/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// CreateTableRequest 创建餐桌请求
type CreateTableRequest struct {
	Label    string `json:"label" binding:"required"`
	Capacity int    `json:"capacity"`
}

type TableHandler struct {
	service *services.TableService
	scopes  *services.ScopeService
}

func NewTableHandler(service *services.TableService, scopes *services.ScopeService) *TableHandler {
	return &TableHandler{service: service, scopes: scopes}
}

// resolveOwnerID 员工取自身餐厅，平台管理员从查询参数指定
func (h *TableHandler) resolveOwnerID(c *gin.Context) (uint, bool) {
	scope := h.scopes.Resolve(claims(c))
	if scope.All {
		ownerID, err := strconv.ParseUint(c.Query("owner_id"), 10, 32)
		if err != nil || ownerID == 0 {
			response.BadRequest(c, "平台管理员需指定owner_id参数")
			return 0, false
		}
		return uint(ownerID), true
	}
	if scope.IsNone() {
		response.Forbidden(c, "无权访问餐桌数据")
		return 0, false
	}
	return scope.OwnerID, true
}

// Create 创建餐桌
func (h *TableHandler) Create(c *gin.Context) {
	ownerID, ok := h.resolveOwnerID(c)
	if !ok {
		return
	}

	var req CreateTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	table, err := h.service.Create(ownerID, req.Label, req.Capacity)
	if err != nil {
		response.ServerError(c, "创建失败")
		return
	}
	response.Success(c, table)
}

// GetAll 餐桌列表
func (h *TableHandler) GetAll(c *gin.Context) {
	ownerID, ok := h.resolveOwnerID(c)
	if !ok {
		return
	}

	params := pagination.ParsePageParams(c)
	tables, total, err := h.service.ListByOwner(ownerID, params.Page, params.PageSize)
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}
	response.SuccessWithPage(c, tables, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Reconcile 占用对账触发（事故响应入口，不在常规流程上）
func (h *TableHandler) Reconcile(c *gin.Context) {
	tableID, err := strconv.ParseUint(c.Param("table_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	table, err := h.service.GetByID(uint(tableID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "餐桌不存在")
			return
		}
		response.ServerError(c, "查询失败")
		return
	}

	if err := h.scopes.AuthorizeOwnerAccess(claims(c), table.OwnerID); err != nil {
		response.Forbidden(c, err.Error())
		return
	}

	report, err := h.service.Reconcile(table.ID)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeDataInconsistency) {
			// 多占用不自动修复，返回错误让运营介入
			response.Error(c, apperrors.CodeDataInconsistency, err.Error())
			return
		}
		response.ServerError(c, "对账失败")
		return
	}
	response.Success(c, report)
}
