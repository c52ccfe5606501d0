package repository

import (
	"fmt"
	"math"

	"savingsvault/internal/model"
	"savingsvault/internal/storage"
)

// GoalRepository 储蓄目标的读写，所有调用直接落到 tx 上，不做缓存。
// 读-改-写的顺序由调用方（SavingsService）负责。
type GoalRepository struct{}

func NewGoalRepository() *GoalRepository {
	return &GoalRepository{}
}

// Get 目标不存在返回 model.ErrGoalNotFound
func (r *GoalRepository) Get(tx *storage.Tx, owner string, goalID uint64) (*model.SavingsGoal, error) {
	var goal model.SavingsGoal
	found, err := tx.Get(storage.GoalKey(owner, goalID), &goal)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, model.ErrGoalNotFound
	}
	return &goal, nil
}

func (r *GoalRepository) Put(tx *storage.Tx, owner string, goalID uint64, goal *model.SavingsGoal) error {
	return tx.Set(storage.GoalKey(owner, goalID), goal)
}

// GoalCount 已分配的目标数，即下一个 goal_id
func (r *GoalRepository) GoalCount(tx *storage.Tx) (uint64, error) {
	var counter uint64
	if _, err := tx.Get(storage.GoalCounterKey(), &counter); err != nil {
		return 0, err
	}
	return counter, nil
}

// NextGoalID 返回当前计数并把全局计数器加一
func (r *GoalRepository) NextGoalID(tx *storage.Tx) (uint64, error) {
	id, err := r.GoalCount(tx)
	if err != nil {
		return 0, err
	}
	if id == math.MaxUint64 {
		return 0, model.ErrGoalOverflow
	}
	if err := tx.Set(storage.GoalCounterKey(), id+1); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *GoalRepository) UserGoalCount(tx *storage.Tx, owner string) (uint64, error) {
	var count uint64
	if _, err := tx.Get(storage.UserGoalCountKey(owner), &count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GoalRepository) IncrementUserGoalCount(tx *storage.Tx, owner string) error {
	count, err := r.UserGoalCount(tx, owner)
	if err != nil {
		return err
	}
	if count == math.MaxUint64 {
		return model.ErrOverflow
	}
	return tx.Set(storage.UserGoalCountKey(owner), count+1)
}

// Create 分配编号并写入新目标，同时维护两个索引：
//   - UserGoal(owner, n) -> goal_id，按用户枚举
//   - GoalOwner(goal_id) -> owner，定时复利任务按编号遍历
func (r *GoalRepository) Create(tx *storage.Tx, owner string, goal *model.SavingsGoal) (uint64, error) {
	goalID, err := r.NextGoalID(tx)
	if err != nil {
		return 0, err
	}
	if err := r.Put(tx, owner, goalID, goal); err != nil {
		return 0, fmt.Errorf("写入目标失败: %w", err)
	}

	n, err := r.UserGoalCount(tx, owner)
	if err != nil {
		return 0, err
	}
	if err := tx.Set(storage.UserGoalKey(owner, n), goalID); err != nil {
		return 0, err
	}
	if err := tx.Set(storage.GoalOwnerKey(goalID), owner); err != nil {
		return 0, err
	}
	if err := r.IncrementUserGoalCount(tx, owner); err != nil {
		return 0, err
	}
	return goalID, nil
}

// GoalIDAt owner 的第 n 个目标
func (r *GoalRepository) GoalIDAt(tx *storage.Tx, owner string, n uint64) (uint64, bool, error) {
	var goalID uint64
	found, err := tx.Get(storage.UserGoalKey(owner, n), &goalID)
	return goalID, found, err
}

func (r *GoalRepository) OwnerOf(tx *storage.Tx, goalID uint64) (string, bool, error) {
	var owner string
	found, err := tx.Get(storage.GoalOwnerKey(goalID), &owner)
	return owner, found, err
}
