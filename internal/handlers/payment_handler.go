package handlers

import (
	"errors"
	"strconv"

	"dinehub/internal/models"
	"dinehub/internal/services"
	"dinehub/pkg/response"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RecordPaymentRequest 收款请求
type RecordPaymentRequest struct {
	Amount    float64 `json:"amount" binding:"required,gt=0"`
	Method    string  `json:"method" binding:"required,oneof=cash card digital voucher"`
	Reference string  `json:"reference"`
	Notes     string  `json:"notes"`
}

// VoidPaymentRequest 作废收款请求
type VoidPaymentRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// PaymentStatusRequest 支付状态信号
//
// Void 为 true 时表示回退（需显式声明），否则仅允许正向推进。
type PaymentStatusRequest struct {
	PaymentStatus string `json:"payment_status" binding:"required,oneof=unpaid partial paid"`
	Void          bool   `json:"void"`
}

type PaymentHandler struct {
	service *services.PaymentService
	orders  *services.OrderService
	scopes  *services.ScopeService
}

func NewPaymentHandler(service *services.PaymentService, orders *services.OrderService, scopes *services.ScopeService) *PaymentHandler {
	return &PaymentHandler{service: service, orders: orders, scopes: scopes}
}

func (h *PaymentHandler) authorizeOrder(c *gin.Context, orderID uint) bool {
	order, err := h.orders.GetByID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "订单不存在")
			return false
		}
		response.ServerError(c, "查询失败")
		return false
	}
	if err := h.scopes.AuthorizeOrderAccess(claims(c), order); err != nil {
		response.Forbidden(c, err.Error())
		return false
	}
	return true
}

// Record 收款
func (h *PaymentHandler) Record(c *gin.Context) {
	orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	var req RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	if !h.authorizeOrder(c, uint(orderID)) {
		return
	}

	payment, err := h.service.RecordPayment(uint(orderID), req.Amount, req.Method, claims(c).UserID, req.Reference, req.Notes)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.SuccessWithMessage(c, "收款成功", payment)
}

// Void 作废收款记录并回退订单支付状态
func (h *PaymentHandler) Void(c *gin.Context) {
	paymentID, err := strconv.ParseUint(c.Param("payment_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	var req VoidPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	payment, err := h.service.VoidPayment(uint(paymentID), claims(c).UserID, req.Reason)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "收款记录不存在")
			return
		}
		response.AppError(c, err)
		return
	}
	response.SuccessWithMessage(c, "作废成功", payment)
}

// UpdateStatus 支付状态信号（外部收款系统对接入口）
func (h *PaymentHandler) UpdateStatus(c *gin.Context) {
	orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	var req PaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	if !h.authorizeOrder(c, uint(orderID)) {
		return
	}

	var order *models.Order
	if req.Void {
		order, err = h.orders.VoidPayment(uint(orderID), req.PaymentStatus, claims(c).UserID)
	} else {
		order, err = h.orders.SetPaymentStatus(uint(orderID), req.PaymentStatus, claims(c).UserID)
	}
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, order)
}

// ListByOrder 订单收款记录
func (h *PaymentHandler) ListByOrder(c *gin.Context) {
	orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "ID格式错误")
		return
	}

	if !h.authorizeOrder(c, uint(orderID)) {
		return
	}

	payments, err := h.service.ListByOrder(uint(orderID))
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}
	response.Success(c, payments)
}
