package model

import (
	"savingsvault/internal/fixedpoint"
)

const (
	MinLockDuration uint64 = 86400     // 1 天
	MaxLockDuration uint64 = 315360000 // 10 年
	MaxInterestRate uint32 = 5000      // 50%
	MaxPenaltyRate  uint32 = 5000      // 50%

	// 未设置罚金比例时的兜底值（10%），初始化后不会触发
	DefaultEmergencyPenalty uint32 = 1000
)

// 目标状态：Uninitialized 表示记录不存在
const (
	GoalStatusUninitialized = "UNINITIALIZED"
	GoalStatusActive        = "ACTIVE"
	GoalStatusTerminated    = "TERMINATED"
)

var ValidGoalTransitions = map[string][]string{
	GoalStatusUninitialized: {GoalStatusActive},
	GoalStatusActive:        {GoalStatusTerminated},
}

func CanGoalTransitionTo(currentStatus, targetStatus string) bool {
	for _, s := range ValidGoalTransitions[currentStatus] {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// SavingsGoal 一笔定期锁仓存款
//
// 创建后 Owner / Principal / InterestRate / StartTime / LockDuration / UnlockTime 不再变化；
// IsActive 只会从 true 变为 false 一次。
type SavingsGoal struct {
	Owner            string            `json:"owner"`
	Principal        fixedpoint.Int128 `json:"principal"`
	InterestRate     uint32            `json:"interest_rate"`
	StartTime        uint64            `json:"start_time"`
	LockDuration     uint64            `json:"lock_duration"`
	UnlockTime       uint64            `json:"unlock_time"`
	AccruedInterest  fixedpoint.Int128 `json:"accrued_interest"`
	LastCompoundTime uint64            `json:"last_compound_time"`
	IsActive         bool              `json:"is_active"`
}

func (g *SavingsGoal) Status() string {
	if g == nil {
		return GoalStatusUninitialized
	}
	if g.IsActive {
		return GoalStatusActive
	}
	return GoalStatusTerminated
}

// Balance 本金 + 已计利息，仅在 IsActive 时有意义
func (g *SavingsGoal) Balance() (fixedpoint.Int128, error) {
	total, err := g.Principal.Add(g.AccruedInterest)
	if err != nil {
		return fixedpoint.Zero, ErrOverflow
	}
	return total, nil
}

// GoalRef 目标的全局定位 (owner, goal_id)
type GoalRef struct {
	Owner  string `json:"owner"`
	GoalID uint64 `json:"goal_id"`
}
