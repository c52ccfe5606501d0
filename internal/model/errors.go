package model

import (
	"errors"

	"savingsvault/internal/fixedpoint"
)

// Error 业务错误，Code 对外稳定，取值 1..16
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrAlreadyInitialized = &Error{Code: 1, Message: "合约已初始化"}
	ErrNotInitialized     = &Error{Code: 2, Message: "合约未初始化"}
	ErrInvalidAmount      = &Error{Code: 3, Message: "金额必须大于0"}
	ErrInvalidDuration    = &Error{Code: 4, Message: "锁定时长超出范围"}
	ErrRateTooHigh        = &Error{Code: 5, Message: "利率超过上限"}
	ErrPenaltyTooHigh     = &Error{Code: 6, Message: "罚金比例超过上限"}
	ErrOverflow           = &Error{Code: 7, Message: "数值溢出"}
	ErrGoalNotFound       = &Error{Code: 8, Message: "储蓄目标不存在"}
	ErrGoalInactive       = &Error{Code: 9, Message: "储蓄目标已结束"}
	ErrStillLocked        = &Error{Code: 10, Message: "尚未到解锁时间"}
	ErrAlreadyWithdrawn   = &Error{Code: 11, Message: "储蓄目标已提取"}
	ErrUnauthorized       = &Error{Code: 12, Message: "无权限"}
	ErrTimeError          = &Error{Code: 13, Message: "时钟回退"}
	ErrDivisionError      = &Error{Code: 14, Message: "除法错误"}
	ErrUnderflow          = &Error{Code: 15, Message: "数值下溢"}
	ErrGoalOverflow       = &Error{Code: 16, Message: "目标编号耗尽"}
)

// AllErrors 按错误码顺序排列
var AllErrors = []*Error{
	ErrAlreadyInitialized,
	ErrNotInitialized,
	ErrInvalidAmount,
	ErrInvalidDuration,
	ErrRateTooHigh,
	ErrPenaltyTooHigh,
	ErrOverflow,
	ErrGoalNotFound,
	ErrGoalInactive,
	ErrStillLocked,
	ErrAlreadyWithdrawn,
	ErrUnauthorized,
	ErrTimeError,
	ErrDivisionError,
	ErrUnderflow,
	ErrGoalOverflow,
}

// CodeOf 非业务错误返回 0
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// ArithmeticError 把定点运算错误映射为业务错误，其它错误原样返回
func ArithmeticError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fixedpoint.ErrOverflow):
		return ErrOverflow
	case errors.Is(err, fixedpoint.ErrUnderflow):
		return ErrUnderflow
	case errors.Is(err, fixedpoint.ErrDivision):
		return ErrDivisionError
	}
	return err
}
