package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"dinehub/internal/services"
	apperrors "dinehub/pkg/errors"
	"dinehub/pkg/pagination"
	"dinehub/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// PlaceOrderRequest 下单请求
type PlaceOrderRequest struct {
	TableID             uint                    `json:"table_id" binding:"required"`
	IdempotencyKey      string                  `json:"idempotency_key" binding:"required,max=64"`
	SpecialInstructions string                  `json:"special_instructions"`
	Items               []PlaceOrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

// PlaceOrderItemRequest 下单明细
type PlaceOrderItemRequest struct {
	ProductRef  string  `json:"product_ref" binding:"required"`
	ProductName string  `json:"product_name" binding:"required"`
	Quantity    int     `json:"quantity" binding:"required,min=1"`
	UnitPrice   float64 `json:"unit_price" binding:"required,gt=0"`
	Notes       string  `json:"notes"`
}

// TransitionRequest 状态流转请求
type TransitionRequest struct {
	Status string `json:"status" binding:"required"`
}

// CancelOrderRequest 取消订单请求
type CancelOrderRequest struct {
	TerminalStatus string `json:"terminal_status"`
	Reason         string `json:"reason" binding:"required"`
}

type OrderHandler struct {
	service *services.OrderService
	scopes  *services.ScopeService
}

func NewOrderHandler(service *services.OrderService, scopes *services.ScopeService) *OrderHandler {
	return &OrderHandler{service: service, scopes: scopes}
}

// Place 下单
//
// 幂等：同桌同幂等键在窗口内重复提交返回已有订单，不产生重复订单。
func (h *OrderHandler) Place(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// 解析验证错误，提供更友好的提示
		if validationErr, ok := err.(validator.ValidationErrors); ok {
			errorMsg := "参数验证失败"
			for _, fieldErr := range validationErr {
				switch fieldErr.Field() {
				case "TableID":
					errorMsg = "必须指定餐桌"
				case "IdempotencyKey":
					errorMsg = "幂等键不能为空，且长度不超过64个字符"
				case "Items":
					errorMsg = "订单至少包含一个菜品"
				case "Quantity":
					errorMsg = "菜品数量必须大于0"
				case "UnitPrice":
					errorMsg = "菜品单价必须大于0"
				default:
					errorMsg = fmt.Sprintf("字段 %s 验证失败", fieldErr.Field())
				}
				break // 只返回第一个错误
			}
			response.BadRequest(c, errorMsg)
			return
		}
		response.BadRequest(c, "请求参数格式错误")
		return
	}

	cl := claims(c)
	params := services.CreateOrderParams{
		TableID:             req.TableID,
		PlacedByID:          cl.UserID,
		IdempotencyKey:      req.IdempotencyKey,
		SpecialInstructions: req.SpecialInstructions,
	}
	for _, item := range req.Items {
		params.Items = append(params.Items, services.CreateOrderItem{
			ProductRef:  item.ProductRef,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Notes:       item.Notes,
		})
	}

	order, duplicated, err := h.service.Create(params)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "餐桌不存在")
			return
		}
		if apperrors.Is(err, apperrors.CodeTableUnavailable) {
			response.AppError(c, err)
			return
		}
		response.ServerError(c, "下单失败")
		return
	}

	message := "下单成功"
	if duplicated {
		message = "重复提交，返回已有订单"
	}
	response.SuccessWithMessage(c, message, order)
}

// GetByID 订单详情
func (h *OrderHandler) GetByID(c *gin.Context) {
	orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	order, err := h.service.GetByID(uint(orderID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "订单不存在")
			return
		}
		response.ServerError(c, "查询失败")
		return
	}

	if err := h.scopes.AuthorizeOrderAccess(claims(c), order); err != nil {
		response.Forbidden(c, err.Error())
		return
	}
	response.Success(c, order)
}

// Track 按订单号跟踪（顾客入口）
func (h *OrderHandler) Track(c *gin.Context) {
	orderNo := c.Param("order_no")

	order, err := h.service.GetByOrderNo(orderNo)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "订单不存在")
			return
		}
		response.ServerError(c, "查询失败")
		return
	}

	if err := h.scopes.AuthorizeOrderAccess(claims(c), order); err != nil {
		response.Forbidden(c, err.Error())
		return
	}
	response.Success(c, order)
}

// GetAll 订单列表（后厨/收银看板）
func (h *OrderHandler) GetAll(c *gin.Context) {
	scope := h.scopes.Resolve(claims(c))
	params := pagination.ParsePageParams(c)
	status := c.Query("status")

	orders, total, err := h.service.ListByScope(scope, status, params.Page, params.PageSize)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeScopeViolation) {
			response.Forbidden(c, err.Error())
			return
		}
		response.ServerError(c, "查询失败")
		return
	}
	response.SuccessWithPage(c, orders, pagination.NewPageInfo(params.Page, params.PageSize, total))
}

// Transition 状态流转（员工操作）
func (h *OrderHandler) Transition(c *gin.Context) {
	orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	order, err := h.service.GetByID(uint(orderID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "订单不存在")
			return
		}
		response.ServerError(c, "查询失败")
		return
	}
	if err := h.scopes.AuthorizeOrderAccess(claims(c), order); err != nil {
		response.Forbidden(c, err.Error())
		return
	}

	updated, err := h.service.Transition(order.ID, req.Status, claims(c).UserID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, updated)
}

// Cancel 取消订单
func (h *OrderHandler) Cancel(c *gin.Context) {
	orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	var req CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	order, err := h.service.GetByID(uint(orderID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "订单不存在")
			return
		}
		response.ServerError(c, "查询失败")
		return
	}
	if err := h.scopes.AuthorizeOrderAccess(claims(c), order); err != nil {
		response.Forbidden(c, err.Error())
		return
	}

	updated, err := h.service.Cancel(order.ID, req.TerminalStatus, req.Reason, claims(c).UserID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, updated)
}
