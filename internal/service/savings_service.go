package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"savingsvault/internal/fixedpoint"
	"savingsvault/internal/infrastructure/lock"
	"savingsvault/internal/infrastructure/metrics"
	"savingsvault/internal/interest"
	"savingsvault/internal/model"
	"savingsvault/internal/repository"
	"savingsvault/internal/storage"
)

const (
	OpInitialize        = "initialize"
	OpCreateGoal        = "create_goal"
	OpCompoundInterest  = "compound_interest"
	OpWithdraw          = "withdraw"
	OpEmergencyWithdraw = "emergency_withdraw"
	OpSetPenalty        = "set_emergency_penalty"
	OpMint              = "mint"
)

// Ledger 资金划转。和目标状态共用同一个 tx，失败时整体回滚。
type Ledger interface {
	Balance(tx *storage.Tx, identity string) (fixedpoint.Int128, error)
	Transfer(tx *storage.Tx, transferType, from, to string, amount fixedpoint.Int128) (*model.LedgerTransfer, error)
	Mint(tx *storage.Tx, to string, amount fixedpoint.Int128) (*model.LedgerTransfer, error)
}

type Options struct {
	Clock      Clock
	Authorizer Authorizer
	Serializer *lock.Serializer
	Metrics    *metrics.Metrics

	// CustodyAccount 托管账户，存入的本金和待付利息都在这里
	CustodyAccount string
	// GoalTopic 为空时不写目标事件
	GoalTopic string
}

// SavingsService 目标生命周期的唯一入口，所有目标状态的修改都在这里完成
//
// 写操作：经 Serializer 串行化，在一个 storage 工作单元内执行，
// 返回 nil 才提交；任何一步失败都不会留下部分写入。
// 读操作：直接走只读视图。
type SavingsService struct {
	store      *storage.Store
	goals      *repository.GoalRepository
	configs    *repository.ConfigRepository
	ledger     Ledger
	clock      Clock
	auth       Authorizer
	serializer *lock.Serializer
	metrics    *metrics.Metrics
	custody    string
	goalTopic  string
}

func NewSavingsService(store *storage.Store, ledger Ledger, opts Options) *SavingsService {
	s := &SavingsService{
		store:      store,
		goals:      repository.NewGoalRepository(),
		configs:    repository.NewConfigRepository(),
		ledger:     ledger,
		clock:      opts.Clock,
		auth:       opts.Authorizer,
		serializer: opts.Serializer,
		metrics:    opts.Metrics,
		custody:    opts.CustodyAccount,
		goalTopic:  opts.GoalTopic,
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	if s.auth == nil {
		s.auth = CallerAuthorizer{}
	}
	if s.serializer == nil {
		s.serializer = lock.NewSerializer(nil)
	}
	if s.custody == "" {
		s.custody = "vault"
	}
	return s
}

// CustodyAccount 托管账户身份
func (s *SavingsService) CustodyAccount() string {
	return s.custody
}

// ============================================================================
// 写操作
// ============================================================================

// Initialize 一次性写入 token / admin / 罚金比例
func (s *SavingsService) Initialize(ctx context.Context, token, admin string, penaltyBps uint32) error {
	fields := logrus.Fields{"token": token, "admin": admin, "penalty_bps": penaltyBps}
	return s.mutate(ctx, OpInitialize, fields, func(tx *storage.Tx) error {
		if err := s.configs.Initialize(tx, token, admin, penaltyBps); err != nil {
			return err
		}
		// 罚金从托管账户划给管理员，两者相同会变成自我划转
		if admin == s.custody {
			return model.ErrUnauthorized
		}
		return s.emitGoalEvent(tx, model.GoalEvent{
			Type:       model.EventConfigInitialized,
			Owner:      admin,
			PenaltyBps: penaltyBps,
			OccurredAt: s.clock.Now(),
		})
	})
}

// CreateGoal 把 amount 从 owner 转入托管账户并创建一个锁定目标，返回 goal_id
func (s *SavingsService) CreateGoal(ctx context.Context, owner string, amount fixedpoint.Int128, lockDuration uint64, rateBps uint32) (uint64, error) {
	var goalID uint64
	fields := logrus.Fields{"owner": owner, "amount": amount.String(), "lock_duration": lockDuration, "rate_bps": rateBps}
	err := s.mutate(ctx, OpCreateGoal, fields, func(tx *storage.Tx) error {
		id, err := s.createGoalTx(tx, owner, amount, lockDuration, rateBps)
		if err != nil {
			return err
		}
		goalID = id
		fields["goal_id"] = id
		return nil
	})
	return goalID, err
}

func (s *SavingsService) createGoalTx(tx *storage.Tx, owner string, amount fixedpoint.Int128, lockDuration uint64, rateBps uint32) (uint64, error) {
	if err := s.auth.RequireAuth(tx.Context(), owner); err != nil {
		return 0, err
	}
	if owner == s.custody {
		return 0, model.ErrUnauthorized
	}
	if !amount.IsPositive() {
		return 0, model.ErrInvalidAmount
	}
	if lockDuration < model.MinLockDuration || lockDuration > model.MaxLockDuration {
		return 0, model.ErrInvalidDuration
	}
	if rateBps > model.MaxInterestRate {
		return 0, model.ErrRateTooHigh
	}

	now := s.clock.Now()
	if lockDuration > math.MaxUint64-now {
		return 0, model.ErrOverflow
	}
	unlockTime := now + lockDuration

	if _, err := s.configs.Token(tx); err != nil {
		return 0, err
	}

	// 先转账再落库：转账失败时不会留下目标记录
	if _, err := s.ledger.Transfer(tx, model.TransferTypeDeposit, owner, s.custody, amount); err != nil {
		return 0, fmt.Errorf("转入托管账户失败: %w", err)
	}

	goal := &model.SavingsGoal{
		Owner:            owner,
		Principal:        amount,
		InterestRate:     rateBps,
		StartTime:        now,
		LockDuration:     lockDuration,
		UnlockTime:       unlockTime,
		AccruedInterest:  fixedpoint.Zero,
		LastCompoundTime: now,
		IsActive:         true,
	}
	goalID, err := s.goals.Create(tx, owner, goal)
	if err != nil {
		return 0, err
	}

	principal := amount
	if err := s.emitGoalEvent(tx, model.GoalEvent{
		Type:       model.EventGoalCreated,
		Owner:      owner,
		GoalID:     goalID,
		Amount:     &principal,
		UnlockTime: unlockTime,
		OccurredAt: now,
	}); err != nil {
		return 0, err
	}
	return goalID, nil
}

// CompoundInterest 把利息记到 now。任何人都可以调用，不涉及转账。
func (s *SavingsService) CompoundInterest(ctx context.Context, owner string, goalID uint64) error {
	fields := logrus.Fields{"owner": owner, "goal_id": goalID}
	return s.mutate(ctx, OpCompoundInterest, fields, func(tx *storage.Tx) error {
		return s.compoundTx(tx, owner, goalID)
	})
}

func (s *SavingsService) compoundTx(tx *storage.Tx, owner string, goalID uint64) error {
	goal, err := s.goals.Get(tx, owner, goalID)
	if err != nil {
		return err
	}
	if !goal.IsActive {
		return model.ErrGoalInactive
	}
	return s.bringCurrent(tx, owner, goalID, goal, s.clock.Now())
}

// bringCurrent 对活跃目标结息到 now 并写回；同一秒内重复调用不写任何东西
func (s *SavingsService) bringCurrent(tx *storage.Tx, owner string, goalID uint64, goal *model.SavingsGoal, now uint64) error {
	changed, err := accrueTo(goal, now)
	if err != nil || !changed {
		return err
	}
	return s.goals.Put(tx, owner, goalID, goal)
}

// accrueTo 在内存中把 goal 结息到 now，返回是否有变化
func accrueTo(goal *model.SavingsGoal, now uint64) (bool, error) {
	if now < goal.LastCompoundTime {
		return false, model.ErrTimeError
	}
	elapsed := now - goal.LastCompoundTime
	if elapsed == 0 {
		return false, nil
	}

	balance, err := goal.Balance()
	if err != nil {
		return false, err
	}
	earned, err := interest.Accrue(balance, goal.InterestRate, elapsed)
	if err != nil {
		return false, model.ArithmeticError(err)
	}
	accrued, err := goal.AccruedInterest.Add(earned)
	if err != nil {
		return false, model.ErrOverflow
	}

	goal.AccruedInterest = accrued
	goal.LastCompoundTime = now
	return true, nil
}

// Withdraw 到期全额提取（本金 + 利息），返回提取金额
func (s *SavingsService) Withdraw(ctx context.Context, owner string, goalID uint64) (fixedpoint.Int128, error) {
	var total fixedpoint.Int128
	fields := logrus.Fields{"owner": owner, "goal_id": goalID}
	err := s.mutate(ctx, OpWithdraw, fields, func(tx *storage.Tx) error {
		amount, err := s.withdrawTx(tx, owner, goalID)
		if err != nil {
			return err
		}
		total = amount
		fields["amount"] = amount.String()
		return nil
	})
	return total, err
}

func (s *SavingsService) withdrawTx(tx *storage.Tx, owner string, goalID uint64) (fixedpoint.Int128, error) {
	if err := s.auth.RequireAuth(tx.Context(), owner); err != nil {
		return fixedpoint.Zero, err
	}
	// 整个提取只读一次时钟：结息、解锁判断和事件都用同一个 now
	now := s.clock.Now()
	goal, err := s.settle(tx, owner, goalID, now)
	if err != nil {
		return fixedpoint.Zero, err
	}

	if now < goal.UnlockTime {
		return fixedpoint.Zero, model.ErrStillLocked
	}
	total, err := goal.Balance()
	if err != nil {
		return fixedpoint.Zero, err
	}

	if err := s.terminate(tx, owner, goalID, goal); err != nil {
		return fixedpoint.Zero, err
	}
	if _, err := s.configs.Token(tx); err != nil {
		return fixedpoint.Zero, err
	}
	if _, err := s.ledger.Transfer(tx, model.TransferTypePayout, s.custody, owner, total); err != nil {
		return fixedpoint.Zero, fmt.Errorf("支付本息失败: %w", err)
	}

	if err := s.emitGoalEvent(tx, model.GoalEvent{
		Type:       model.EventGoalWithdrawn,
		Owner:      owner,
		GoalID:     goalID,
		Amount:     &total,
		OccurredAt: now,
	}); err != nil {
		return fixedpoint.Zero, err
	}
	return total, nil
}

// EmergencyWithdraw 提前支取：扣除罚金后支付给 owner，罚金划给管理员。返回实付金额。
func (s *SavingsService) EmergencyWithdraw(ctx context.Context, owner string, goalID uint64) (fixedpoint.Int128, error) {
	var paid fixedpoint.Int128
	fields := logrus.Fields{"owner": owner, "goal_id": goalID}
	err := s.mutate(ctx, OpEmergencyWithdraw, fields, func(tx *storage.Tx) error {
		amount, penalty, err := s.emergencyWithdrawTx(tx, owner, goalID)
		if err != nil {
			return err
		}
		paid = amount
		fields["amount"] = amount.String()
		fields["penalty"] = penalty.String()
		return nil
	})
	return paid, err
}

func (s *SavingsService) emergencyWithdrawTx(tx *storage.Tx, owner string, goalID uint64) (fixedpoint.Int128, fixedpoint.Int128, error) {
	zero := fixedpoint.Zero
	if err := s.auth.RequireAuth(tx.Context(), owner); err != nil {
		return zero, zero, err
	}
	now := s.clock.Now()
	goal, err := s.settle(tx, owner, goalID, now)
	if err != nil {
		return zero, zero, err
	}

	total, err := goal.Balance()
	if err != nil {
		return zero, zero, err
	}
	penaltyBps, err := s.configs.Penalty(tx)
	if err != nil {
		return zero, zero, err
	}
	penalty, err := interest.Penalty(total, penaltyBps)
	if err != nil {
		return zero, zero, model.ArithmeticError(err)
	}
	withdrawal, err := total.Sub(penalty)
	if err != nil || withdrawal.IsNegative() {
		return zero, zero, model.ErrUnderflow
	}

	if err := s.terminate(tx, owner, goalID, goal); err != nil {
		return zero, zero, err
	}
	if _, err := s.configs.Token(tx); err != nil {
		return zero, zero, err
	}
	if withdrawal.IsPositive() {
		if _, err := s.ledger.Transfer(tx, model.TransferTypePayout, s.custody, owner, withdrawal); err != nil {
			return zero, zero, fmt.Errorf("支付提前支取金额失败: %w", err)
		}
	}
	admin, err := s.configs.Admin(tx)
	if err != nil {
		return zero, zero, err
	}
	if penalty.IsPositive() {
		if _, err := s.ledger.Transfer(tx, model.TransferTypePenalty, s.custody, admin, penalty); err != nil {
			return zero, zero, fmt.Errorf("划转罚金失败: %w", err)
		}
	}

	if err := s.emitGoalEvent(tx, model.GoalEvent{
		Type:       model.EventGoalEmergencyWithdrawn,
		Owner:      owner,
		GoalID:     goalID,
		Amount:     &withdrawal,
		Penalty:    &penalty,
		PenaltyBps: penaltyBps,
		OccurredAt: now,
	}); err != nil {
		return zero, zero, err
	}
	return withdrawal, penalty, nil
}

// settle 提取前先结息，再重新读取目标。已结束的目标跳过结息，统一报 ErrAlreadyWithdrawn。
func (s *SavingsService) settle(tx *storage.Tx, owner string, goalID uint64, now uint64) (*model.SavingsGoal, error) {
	goal, err := s.goals.Get(tx, owner, goalID)
	if err != nil {
		return nil, err
	}
	if goal.IsActive {
		if err := s.bringCurrent(tx, owner, goalID, goal, now); err != nil {
			return nil, err
		}
	}

	goal, err = s.goals.Get(tx, owner, goalID)
	if err != nil {
		return nil, err
	}
	if !goal.IsActive {
		return nil, model.ErrAlreadyWithdrawn
	}
	return goal, nil
}

// terminate 在任何转账之前把目标标记为结束并写回。
// 转账过程中如果重入同一个目标，读到的已经是结束状态。
func (s *SavingsService) terminate(tx *storage.Tx, owner string, goalID uint64, goal *model.SavingsGoal) error {
	if !model.CanGoalTransitionTo(goal.Status(), model.GoalStatusTerminated) {
		return model.ErrAlreadyWithdrawn
	}
	goal.IsActive = false
	return s.goals.Put(tx, owner, goalID, goal)
}

// SetEmergencyPenalty 管理员修改提前支取罚金比例
func (s *SavingsService) SetEmergencyPenalty(ctx context.Context, caller string, penaltyBps uint32) error {
	fields := logrus.Fields{"caller": caller, "penalty_bps": penaltyBps}
	return s.mutate(ctx, OpSetPenalty, fields, func(tx *storage.Tx) error {
		if err := s.auth.RequireAuth(tx.Context(), caller); err != nil {
			return err
		}
		if err := s.configs.SetPenalty(tx, caller, penaltyBps); err != nil {
			return err
		}
		return s.emitGoalEvent(tx, model.GoalEvent{
			Type:       model.EventPenaltyUpdated,
			Owner:      caller,
			PenaltyBps: penaltyBps,
			OccurredAt: s.clock.Now(),
		})
	})
}

// Mint 管理员给某个身份注资，开发环境充值和给托管账户补充利息储备都走这里
func (s *SavingsService) Mint(ctx context.Context, caller, to string, amount fixedpoint.Int128) (*model.LedgerTransfer, error) {
	var record *model.LedgerTransfer
	fields := logrus.Fields{"caller": caller, "to": to, "amount": amount.String()}
	err := s.mutate(ctx, OpMint, fields, func(tx *storage.Tx) error {
		if err := s.auth.RequireAuth(tx.Context(), caller); err != nil {
			return err
		}
		admin, err := s.configs.Admin(tx)
		if err != nil {
			return err
		}
		if caller != admin {
			return model.ErrUnauthorized
		}
		if !amount.IsPositive() {
			return model.ErrInvalidAmount
		}
		record, err = s.ledger.Mint(tx, to, amount)
		return err
	})
	return record, err
}

// CompoundActiveGoals 从 cursor 开始按 goal_id 顺序给最多 limit 个目标结息，
// 每个目标单独提交。返回下一轮的起点（扫到末尾时回到 0）和本轮结息的目标数。
func (s *SavingsService) CompoundActiveGoals(ctx context.Context, cursor uint64, limit int) (uint64, int, error) {
	var total uint64
	err := s.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		total, err = s.goals.GoalCount(tx)
		return err
	})
	if err != nil {
		return cursor, 0, err
	}
	if cursor >= total {
		cursor = 0
	}
	if limit <= 0 {
		limit = math.MaxInt
	}

	compounded := 0
	next := cursor
	for ; next < total && int(next-cursor) < limit; next++ {
		if err := ctx.Err(); err != nil {
			return next, compounded, err
		}

		var owner string
		var found bool
		err := s.store.View(ctx, func(tx *storage.Tx) error {
			var err error
			owner, found, err = s.goals.OwnerOf(tx, next)
			return err
		})
		if err != nil {
			return next, compounded, err
		}
		if !found {
			continue
		}

		err = s.CompoundInterest(ctx, owner, next)
		switch {
		case err == nil:
			compounded++
		case errors.Is(err, model.ErrGoalInactive), errors.Is(err, model.ErrGoalNotFound):
		case errors.Is(err, model.ErrTimeError):
			logrus.WithFields(logrus.Fields{"owner": owner, "goal_id": next}).Warn("时钟早于上次结息时间，跳过该目标")
		default:
			return next, compounded, err
		}
	}
	if next >= total {
		next = 0
	}
	return next, compounded, nil
}

// ============================================================================
// 读操作
// ============================================================================

func (s *SavingsService) GetGoal(ctx context.Context, owner string, goalID uint64) (*model.SavingsGoal, error) {
	var goal *model.SavingsGoal
	err := s.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		goal, err = s.goals.Get(tx, owner, goalID)
		return err
	})
	return goal, err
}

func (s *SavingsService) GetUserGoalCount(ctx context.Context, owner string) (uint64, error) {
	var count uint64
	err := s.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		count, err = s.goals.UserGoalCount(tx, owner)
		return err
	})
	return count, err
}

// GetCurrentBalance 按当前时间计算本息，不修改存储；已结束的目标返回 0
func (s *SavingsService) GetCurrentBalance(ctx context.Context, owner string, goalID uint64) (fixedpoint.Int128, error) {
	goal, err := s.GetGoal(ctx, owner, goalID)
	if err != nil {
		return fixedpoint.Zero, err
	}
	if !goal.IsActive {
		return fixedpoint.Zero, nil
	}
	if _, err := accrueTo(goal, s.clock.Now()); err != nil {
		return fixedpoint.Zero, err
	}
	return goal.Balance()
}

// GoalEntry 带编号的目标，用于列表
type GoalEntry struct {
	GoalID uint64 `json:"goal_id"`
	*model.SavingsGoal
}

// ListUserGoals 按创建顺序列出 owner 的全部目标
func (s *SavingsService) ListUserGoals(ctx context.Context, owner string) ([]GoalEntry, error) {
	var entries []GoalEntry
	err := s.store.View(ctx, func(tx *storage.Tx) error {
		count, err := s.goals.UserGoalCount(tx, owner)
		if err != nil {
			return err
		}
		for n := uint64(0); n < count; n++ {
			goalID, found, err := s.goals.GoalIDAt(tx, owner, n)
			if err != nil {
				return err
			}
			if !found {
				continue
			}
			goal, err := s.goals.Get(tx, owner, goalID)
			if err != nil {
				return err
			}
			entries = append(entries, GoalEntry{GoalID: goalID, SavingsGoal: goal})
		}
		return nil
	})
	return entries, err
}

func (s *SavingsService) GetConfig(ctx context.Context) (*model.AdminConfig, error) {
	var cfg *model.AdminConfig
	err := s.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		cfg, err = s.configs.Config(tx)
		return err
	})
	return cfg, err
}

func (s *SavingsService) GetBalance(ctx context.Context, identity string) (fixedpoint.Int128, error) {
	var balance fixedpoint.Int128
	err := s.store.View(ctx, func(tx *storage.Tx) error {
		var err error
		balance, err = s.ledger.Balance(tx, identity)
		return err
	})
	return balance, err
}

// ============================================================================
// 内部
// ============================================================================

// mutate 串行化 + 工作单元 + 日志和指标
func (s *SavingsService) mutate(ctx context.Context, op string, fields logrus.Fields, fn func(tx *storage.Tx) error) error {
	start := time.Now()
	var messages []*model.OutboxMessage

	err := s.serializer.Do(ctx, func(ctx context.Context) error {
		return s.store.Update(ctx, func(tx *storage.Tx) error {
			if err := fn(tx); err != nil {
				return err
			}
			messages = tx.Messages()
			return nil
		})
	})

	code := model.CodeOf(err)
	if err != nil && code == 0 {
		code = -1
	}
	s.metrics.ObserveOperation(op, code, time.Since(start))

	entry := logrus.WithFields(fields).WithField("op", op)
	if err != nil {
		entry.WithError(err).WithField("code", code).Warn("储蓄操作失败")
		return err
	}
	for _, msg := range messages {
		if msg.EventType == model.EventLedgerTransfer || msg.EventType == model.EventLedgerMint {
			s.metrics.ObserveTransfer(msg.EventType)
		}
	}
	entry.Info("储蓄操作成功")
	return nil
}

func (s *SavingsService) emitGoalEvent(tx *storage.Tx, event model.GoalEvent) error {
	if s.goalTopic == "" {
		return nil
	}
	msg, err := repository.NewOutboxMessage(s.goalTopic, event.Type, "", event)
	if err != nil {
		return err
	}
	return tx.Emit(msg)
}
