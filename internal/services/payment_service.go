package services

import (
	"time"

	"dinehub/internal/models"
	"dinehub/pkg/errors"
	"dinehub/pkg/logger"

	"gorm.io/gorm"
)

// PaymentService 收银服务
//
// 支付网关在边界之外，这里只记录收款流水并据此推进订单的支付状态轴。
type PaymentService struct {
	db     *gorm.DB
	orders *OrderService
}

func NewPaymentService(db *gorm.DB, orders *OrderService) *PaymentService {
	return &PaymentService{db: db, orders: orders}
}

// RecordPayment 记录收款并推进支付状态
//
// 有效收款合计达到订单金额则paid，否则partial。
func (s *PaymentService) RecordPayment(orderID uint, amount float64, method string, processedByID uint, reference, notes string) (*models.Payment, error) {
	if amount <= 0 {
		return nil, errors.New(errors.CodeInvalidParam, "收款金额必须大于0")
	}
	switch method {
	case models.PaymentMethodCash, models.PaymentMethodCard, models.PaymentMethodDigital, models.PaymentMethodVoucher:
	default:
		return nil, errors.Newf(errors.CodeInvalidParam, "不支持的支付方式: %s", method)
	}

	order, err := s.orders.GetByID(orderID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalStatus(order.Status) {
		return nil, errors.NewAlreadyTerminal(order.Status)
	}
	if order.PaymentStatus == models.PaymentStatusPaid {
		return nil, errors.NewInvalidPaymentMove(models.PaymentStatusPaid, models.PaymentStatusPaid)
	}

	payment := &models.Payment{
		OrderID:       orderID,
		Amount:        amount,
		Method:        method,
		ProcessedByID: processedByID,
		Reference:     reference,
		Notes:         notes,
	}
	if err := s.db.Create(payment).Error; err != nil {
		return nil, err
	}

	total, err := s.paidTotal(orderID)
	if err != nil {
		return nil, err
	}

	target := models.PaymentStatusPartial
	if total >= order.TotalAmount {
		target = models.PaymentStatusPaid
	}
	// 多笔部分收款时状态原地不动，不走状态机
	if target != order.PaymentStatus {
		if _, err := s.orders.SetPaymentStatus(orderID, target, processedByID); err != nil {
			return nil, err
		}
	}

	logger.GetLogger().Infof("订单 %s 收款 %.2f（%s），累计 %.2f/%.2f",
		order.OrderNo, amount, method, total, order.TotalAmount)
	return payment, nil
}

// VoidPayment 作废收款流水并回退支付状态
func (s *PaymentService) VoidPayment(paymentID uint, voidedByID uint, reason string) (*models.Payment, error) {
	var payment models.Payment
	if err := s.db.First(&payment, paymentID).Error; err != nil {
		return nil, err
	}
	if payment.IsVoided {
		return nil, errors.New(errors.CodeConflict, "该笔收款已作废")
	}

	now := time.Now()
	if err := s.db.Model(&payment).Updates(map[string]interface{}{
		"is_voided":    true,
		"voided_by_id": voidedByID,
		"void_reason":  reason,
		"voided_at":    now,
	}).Error; err != nil {
		return nil, err
	}
	payment.IsVoided = true
	payment.VoidedByID = &voidedByID
	payment.VoidReason = reason
	payment.VoidedAt = &now

	// 按剩余有效流水重算支付状态
	order, err := s.orders.GetByID(payment.OrderID)
	if err != nil {
		return nil, err
	}
	total, err := s.paidTotal(payment.OrderID)
	if err != nil {
		return nil, err
	}

	target := models.PaymentStatusUnpaid
	if total > 0 {
		target = models.PaymentStatusPartial
	}
	if order.PaymentStatus != target {
		if _, err := s.orders.VoidPayment(payment.OrderID, target, voidedByID); err != nil {
			return nil, err
		}
	}

	logger.GetLogger().Infof("收款 %d 已作废：%s", payment.ID, reason)
	return &payment, nil
}

// ListByOrder 订单的收款流水
func (s *PaymentService) ListByOrder(orderID uint) ([]*models.Payment, error) {
	var payments []*models.Payment
	err := s.db.Where("order_id = ?", orderID).Order("id").Find(&payments).Error
	return payments, err
}

// paidTotal 订单的有效收款合计
func (s *PaymentService) paidTotal(orderID uint) (float64, error) {
	var total float64
	err := s.db.Model(&models.Payment{}).
		Where("order_id = ? AND is_voided = ?", orderID, false).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}
