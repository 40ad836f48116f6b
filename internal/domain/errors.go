package domain

import (
	"errors"
	"fmt"
)

// RetriableError 可重试错误判别接口
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable 判断错误是否可由调用方重试
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// ValidationError 入参/地址非法（用户需修正输入，HTTP 400）
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func (e *ValidationError) IsRetriable() bool { return false }

// NewValidationError 创建校验错误
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

// InsufficientMarginError 抵押不足，携带缺口信息（have/need）
type InsufficientMarginError struct {
	Have float64
	Need float64
}

func (e *InsufficientMarginError) Error() string {
	return fmt.Sprintf("insufficient margin: have %.2f, need %.2f", e.Have, e.Need)
}

func (e *InsufficientMarginError) IsRetriable() bool { return false }

// Shortfall 缺口金额
func (e *InsufficientMarginError) Shortfall() float64 {
	return e.Need - e.Have
}

// NotFoundError 市场/账户不存在
type NotFoundError struct {
	Kind string // "market" / "collateral account" / "signature"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) IsRetriable() bool { return false }

// UpstreamError RPC 重试耗尽后对外暴露的上游错误（调用方可稍后重试）
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream unavailable (%s): %v", e.Op, e.Err)
}

func (e *UpstreamError) IsRetriable() bool { return true }

func (e *UpstreamError) Unwrap() error { return e.Err }

var (
	// ErrMarketNotFound 市场符号不存在
	ErrMarketNotFound = errors.New("market not found")

	// ErrNoCollateralAccount 钱包下找不到抵押资产的 token account（终态，不重试）
	ErrNoCollateralAccount = errors.New("no collateral token account")
)
