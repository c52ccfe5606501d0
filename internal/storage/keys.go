package storage

import (
	"fmt"
	"strconv"
)

// ============================================================================
// 存储键
// ============================================================================
//
// 键分三类：
//   - 单例配置键：Token / Admin / GoalCounter / EmergencyPenalty
//   - 按身份的键：UserGoalCount(owner) / Balance(identity)
//   - 按 (身份, 编号) 的键：Goal(owner, id) / UserGoal(owner, n)，以及 GoalOwner(id)
//
// 编码后的字符串带命名空间前缀，不同类别之间不会冲突；身份总在编号之前，
// 编号是最后一段，从右侧解析无歧义。
// ============================================================================

type Kind uint8

const (
	KindToken Kind = iota + 1
	KindAdmin
	KindGoalCounter
	KindEmergencyPenalty
	KindGoal
	KindUserGoalCount
	KindUserGoal
	KindGoalOwner
	KindBalance
)

var kindPrefixes = map[Kind]string{
	KindToken:            "config:token",
	KindAdmin:            "config:admin",
	KindGoalCounter:      "config:goal_counter",
	KindEmergencyPenalty: "config:emergency_penalty",
	KindGoal:             "goal",
	KindUserGoalCount:    "user_goal_count",
	KindUserGoal:         "user_goal",
	KindGoalOwner:        "goal_owner",
	KindBalance:          "balance",
}

// Key 带标签的存储键
type Key struct {
	Kind     Kind
	Identity string
	ID       uint64
}

func TokenKey() Key            { return Key{Kind: KindToken} }
func AdminKey() Key            { return Key{Kind: KindAdmin} }
func GoalCounterKey() Key      { return Key{Kind: KindGoalCounter} }
func EmergencyPenaltyKey() Key { return Key{Kind: KindEmergencyPenalty} }

func GoalKey(owner string, goalID uint64) Key {
	return Key{Kind: KindGoal, Identity: owner, ID: goalID}
}

func UserGoalCountKey(owner string) Key {
	return Key{Kind: KindUserGoalCount, Identity: owner}
}

// UserGoalKey 第 n 个（从 0 开始）属于 owner 的目标编号
func UserGoalKey(owner string, n uint64) Key {
	return Key{Kind: KindUserGoal, Identity: owner, ID: n}
}

func GoalOwnerKey(goalID uint64) Key {
	return Key{Kind: KindGoalOwner, ID: goalID}
}

func BalanceKey(identity string) Key {
	return Key{Kind: KindBalance, Identity: identity}
}

func (k Key) String() string {
	prefix, ok := kindPrefixes[k.Kind]
	if !ok {
		return fmt.Sprintf("unknown:%d", k.Kind)
	}
	switch k.Kind {
	case KindGoal, KindUserGoal:
		return prefix + ":" + k.Identity + ":" + strconv.FormatUint(k.ID, 10)
	case KindUserGoalCount, KindBalance:
		return prefix + ":" + k.Identity
	case KindGoalOwner:
		return prefix + ":" + strconv.FormatUint(k.ID, 10)
	}
	return prefix
}
