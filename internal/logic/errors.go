package logic

import (
	"errors"
	"fmt"

	"github.com/blues/tgs/internal/logger"
)

// 错误分类，所有操作返回的错误都包装其中之一，调用方使用 errors.Is 判断
var (
	ErrValidation        = errors.New("validation error")
	ErrAuthorization     = errors.New("authorization error")
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrDuplicate         = errors.New("duplicate")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrReentrancy        = errors.New("reentrancy")

	// ErrOutcomeUnknown 转账已发出但结果未知，记账保持待定直到确认
	ErrOutcomeUnknown = errors.New("transfer outcome unknown")
)

// classified 错误是否已包装账本错误分类
func classified(err error) bool {
	for _, kind := range []error{
		ErrValidation, ErrAuthorization, ErrNotFound, ErrInvalidState,
		ErrDuplicate, ErrInsufficientFunds, ErrReentrancy, ErrOutcomeUnknown,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

func validationf(format string, args ...interface{}) error {
	return wrapf(ErrValidation, format, args...)
}

func authorizationf(format string, args ...interface{}) error {
	return wrapf(ErrAuthorization, format, args...)
}

func notFoundf(format string, args ...interface{}) error {
	return wrapf(ErrNotFound, format, args...)
}

func invalidStatef(format string, args ...interface{}) error {
	return wrapf(ErrInvalidState, format, args...)
}

func duplicatef(format string, args ...interface{}) error {
	return wrapf(ErrDuplicate, format, args...)
}

func wrapf(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// corrupted 账本不变量被破坏时终止进程
// 测试中可以替换
var corrupted = func(format string, args ...interface{}) {
	logger.Fatal("ledger corruption: "+format, args...)
}
