package errors

import "fmt"

// ========== 错误码常量定义 ==========

// CodeSuccess 成功码
const (
	CodeSuccess = 200
)

// HTTP层错误码 (400-599)
const (
	CodeInvalidParam = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeServerError  = 500
)

// 订单引擎业务错误码 (1000+)
const (
	CodeTableUnavailable   = 1001 // 餐桌已被占用
	CodeInvalidTransition  = 1002 // 非法的订单状态流转
	CodeDuplicateSubmit    = 1003 // 重复下单（幂等命中，非失败）
	CodeAlreadyTerminal    = 1004 // 订单已处于终态
	CodeDataInconsistency  = 1005 // 占用数据不一致，需人工处理
	CodeScopeViolation     = 1006 // 越权访问其他餐厅数据
	CodeInvalidPaymentMove = 1007 // 非法的支付状态流转
)

// AppError 业务错误，携带错误码
type AppError struct {
	Code    int
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

// New 创建业务错误
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf 创建带格式化消息的业务错误
func Newf(code int, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf 提取错误码，非AppError返回服务器错误码
func CodeOf(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return CodeServerError
}

// Is 判断错误是否为指定业务错误码
func Is(err error, code int) bool {
	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}

// ========== 订单引擎错误构造 ==========

// NewTableUnavailable 餐桌被占用
func NewTableUnavailable(tableLabel string) *AppError {
	return Newf(CodeTableUnavailable, "餐桌 %s 已被占用，请稍后重试", tableLabel)
}

// NewInvalidTransition 非法状态流转
func NewInvalidTransition(from, to string) *AppError {
	return Newf(CodeInvalidTransition, "订单状态不允许从 %s 流转到 %s", from, to)
}

// NewAlreadyTerminal 订单已终态
func NewAlreadyTerminal(status string) *AppError {
	return Newf(CodeAlreadyTerminal, "订单已处于终态 %s，不可再变更", status)
}

// NewDataInconsistency 占用数据不一致
func NewDataInconsistency(tableID uint, count int) *AppError {
	return Newf(CodeDataInconsistency, "餐桌 %d 存在 %d 个同时占用的活跃订单，需要人工排查", tableID, count)
}

// NewScopeViolation 越权访问
func NewScopeViolation(resource string) *AppError {
	return Newf(CodeScopeViolation, "无权访问该%s", resource)
}

// NewInvalidPaymentMove 非法支付状态流转
func NewInvalidPaymentMove(from, to string) *AppError {
	return Newf(CodeInvalidPaymentMove, "支付状态不允许从 %s 流转到 %s", from, to)
}
