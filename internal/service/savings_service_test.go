package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"savingsvault/internal/fixedpoint"
	"savingsvault/internal/infrastructure/metrics"
	"savingsvault/internal/interest"
	"savingsvault/internal/model"
	"savingsvault/internal/repository"
	"savingsvault/internal/storage"
)

const (
	custody = "vault"
	admin   = "admin"
	user    = "alice"
)

var (
	userFunds    = fixedpoint.FromInt64(1_000_000)
	vaultReserve = fixedpoint.FromInt64(1_000_000)
)

type fixture struct {
	t       *testing.T
	ctx     context.Context
	backend *storage.MemoryBackend
	store   *storage.Store
	clock   *ManualClock
	ledger  *repository.LedgerRepository
	svc     *SavingsService
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	backend := storage.NewMemoryBackend()
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		backend: backend,
		store:   storage.NewStore(backend),
		clock:   NewManualClock(0),
		ledger:  repository.NewLedgerRepository("savings.ledger"),
	}
	o := Options{
		Clock:          f.clock,
		Authorizer:     AllowAll{},
		Metrics:        metrics.New(),
		CustodyAccount: custody,
		GoalTopic:      "savings.goal",
	}
	for _, opt := range opts {
		opt(&o)
	}
	f.svc = NewSavingsService(f.store, f.ledger, o)
	return f
}

// initialized 初始化并给用户和托管账户注资
func initialized(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	f := newFixture(t, opts...)
	require.NoError(t, f.svc.Initialize(f.ctx, "USDC", admin, 1000))
	f.mint(user, userFunds)
	f.mint(custody, vaultReserve)
	return f
}

func (f *fixture) mint(to string, amount fixedpoint.Int128) {
	f.t.Helper()
	_, err := f.svc.Mint(WithCaller(f.ctx, admin), admin, to, amount)
	require.NoError(f.t, err)
}

func (f *fixture) balance(identity string) fixedpoint.Int128 {
	f.t.Helper()
	b, err := f.svc.GetBalance(f.ctx, identity)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) goal(owner string, goalID uint64) *model.SavingsGoal {
	f.t.Helper()
	g, err := f.svc.GetGoal(f.ctx, owner, goalID)
	require.NoError(f.t, err)
	return g
}

func (f *fixture) create(amount int64, lockDuration uint64, rate uint32) uint64 {
	f.t.Helper()
	id, err := f.svc.CreateGoal(f.ctx, user, fixedpoint.FromInt64(amount), lockDuration, rate)
	require.NoError(f.t, err)
	return id
}

func sub(t *testing.T, a, b fixedpoint.Int128) fixedpoint.Int128 {
	t.Helper()
	r, err := a.Sub(b)
	require.NoError(t, err)
	return r
}

func add(t *testing.T, a, b fixedpoint.Int128) fixedpoint.Int128 {
	t.Helper()
	r, err := a.Add(b)
	require.NoError(t, err)
	return r
}

// ============================================================================
// 场景
// ============================================================================

func TestScenario_WithdrawAfterUnlock(t *testing.T) {
	f := initialized(t)

	goalID := f.create(10000, 2592000, 500)
	assert.Equal(t, uint64(0), goalID)

	g := f.goal(user, goalID)
	assert.Equal(t, fixedpoint.FromInt64(10000), g.Principal)
	assert.Equal(t, uint64(0)+2592000, g.UnlockTime)
	assert.Equal(t, g.StartTime+g.LockDuration, g.UnlockTime)
	assert.True(t, g.IsActive)

	f.clock.Set(2592001)
	amount, err := f.svc.Withdraw(f.ctx, user, goalID)
	require.NoError(t, err)

	// 10000 * 500 * 2592001 / (31536000 * 10000) = 41
	assert.Equal(t, fixedpoint.FromInt64(10041), amount)
	assert.Equal(t, 1, amount.Cmp(fixedpoint.FromInt64(10000)))

	g = f.goal(user, goalID)
	assert.False(t, g.IsActive)
	assert.Equal(t, fixedpoint.FromInt64(41), g.AccruedInterest)
	assert.Equal(t, uint64(2592001), g.LastCompoundTime)

	assert.Equal(t, add(t, userFunds, fixedpoint.FromInt64(41)), f.balance(user))
	assert.Equal(t, sub(t, vaultReserve, fixedpoint.FromInt64(41)), f.balance(custody))
}

func TestScenario_ZeroRate(t *testing.T) {
	f := initialized(t)

	goalID := f.create(5000, 86400, 0)
	f.clock.Set(86400 * 30)

	amount, err := f.svc.Withdraw(f.ctx, user, goalID)
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.FromInt64(5000), amount)
	assert.Equal(t, userFunds, f.balance(user))
}

func TestScenario_EmergencyWithdrawFreshGoal(t *testing.T) {
	f := initialized(t)

	goalID := f.create(10000, 31536000, 500)
	amount, err := f.svc.EmergencyWithdraw(f.ctx, user, goalID)
	require.NoError(t, err)

	assert.Equal(t, fixedpoint.FromInt64(9000), amount)
	assert.Equal(t, fixedpoint.FromInt64(1000), f.balance(admin))
	assert.Equal(t, sub(t, userFunds, fixedpoint.FromInt64(1000)), f.balance(user))
	assert.False(t, f.goal(user, goalID).IsActive)
}

func TestScenario_InactiveGoalHasNoBalance(t *testing.T) {
	f := initialized(t)

	goalID := f.create(10000, 86400, 500)
	f.clock.Set(86400)
	_, err := f.svc.Withdraw(f.ctx, user, goalID)
	require.NoError(t, err)

	for _, at := range []uint64{86400, 86401, 86400 * 365} {
		f.clock.Set(at)
		balance, err := f.svc.GetCurrentBalance(f.ctx, user, goalID)
		require.NoError(t, err)
		assert.True(t, balance.IsZero())
	}
}

// ============================================================================
// 创建校验
// ============================================================================

func TestCreateGoal_InvalidAmountTouchesNothing(t *testing.T) {
	f := initialized(t)
	keys := f.backend.Len()
	msgs := len(f.backend.Messages())

	for _, amount := range []int64{0, -1, -10000} {
		_, err := f.svc.CreateGoal(f.ctx, user, fixedpoint.FromInt64(amount), 86400, 500)
		assert.ErrorIs(t, err, model.ErrInvalidAmount)
	}

	assert.Equal(t, keys, f.backend.Len())
	assert.Len(t, f.backend.Messages(), msgs)
	assert.Equal(t, userFunds, f.balance(user))
}

func TestCreateGoal_DurationBounds(t *testing.T) {
	f := initialized(t)

	_, err := f.svc.CreateGoal(f.ctx, user, fixedpoint.FromInt64(10), 86400, 0)
	assert.NoError(t, err)
	_, err = f.svc.CreateGoal(f.ctx, user, fixedpoint.FromInt64(10), 315360000, 0)
	assert.NoError(t, err)

	_, err = f.svc.CreateGoal(f.ctx, user, fixedpoint.FromInt64(10), 86399, 0)
	assert.ErrorIs(t, err, model.ErrInvalidDuration)
	_, err = f.svc.CreateGoal(f.ctx, user, fixedpoint.FromInt64(10), 315360001, 0)
	assert.ErrorIs(t, err, model.ErrInvalidDuration)
}

func TestCreateGoal_RateBound(t *testing.T) {
	f := initialized(t)

	_, err := f.svc.CreateGoal(f.ctx, user, fixedpoint.FromInt64(10), 86400, 5000)
	assert.NoError(t, err)
	_, err = f.svc.CreateGoal(f.ctx, user, fixedpoint.FromInt64(10), 86400, 5001)
	assert.ErrorIs(t, err, model.ErrRateTooHigh)
}

func TestCreateGoal_ValidationOrder(t *testing.T) {
	f := initialized(t)

	// 金额先于时长，时长先于利率
	_, err := f.svc.CreateGoal(f.ctx, user, fixedpoint.Zero, 1, 9999)
	assert.ErrorIs(t, err, model.ErrInvalidAmount)
	_, err = f.svc.CreateGoal(f.ctx, user, fixedpoint.FromInt64(1), 1, 9999)
	assert.ErrorIs(t, err, model.ErrInvalidDuration)
}

func TestCreateGoal_UnlockTimeOverflow(t *testing.T) {
	f := initialized(t)
	f.clock.Set(math.MaxUint64 - 100)

	_, err := f.svc.CreateGoal(f.ctx, user, fixedpoint.FromInt64(10), 86400, 0)
	assert.ErrorIs(t, err, model.ErrOverflow)
}

func TestCreateGoal_NotInitialized(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateGoal(f.ctx, user, fixedpoint.FromInt64(10), 86400, 0)
	assert.ErrorIs(t, err, model.ErrNotInitialized)
	assert.Equal(t, 0, f.backend.Len())
}

func TestCreateGoal_InsufficientFunds(t *testing.T) {
	f := initialized(t)

	_, err := f.svc.CreateGoal(f.ctx, user, add(t, userFunds, fixedpoint.FromInt64(1)), 86400, 0)
	assert.ErrorIs(t, err, repository.ErrBalanceNotEnough)

	count, err := f.svc.GetUserGoalCount(f.ctx, user)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)

	_, err = f.svc.GetGoal(f.ctx, user, 0)
	assert.ErrorIs(t, err, model.ErrGoalNotFound)

	// 失败的创建不消耗编号
	assert.Equal(t, uint64(0), f.create(10, 86400, 0))
}

func TestCreateGoal_CountersAndEvents(t *testing.T) {
	f := initialized(t)
	before := len(f.backend.Messages())

	assert.Equal(t, uint64(0), f.create(100, 86400, 100))
	assert.Equal(t, uint64(1), f.create(200, 86400, 100))

	count, err := f.svc.GetUserGoalCount(f.ctx, user)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	entries, err := f.svc.ListUserGoals(f.ctx, user)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[1].GoalID)
	assert.Equal(t, fixedpoint.FromInt64(200), entries[1].Principal)

	var types []string
	for _, msg := range f.backend.Messages()[before:] {
		types = append(types, msg.EventType)
	}
	assert.Equal(t, []string{
		model.EventLedgerTransfer, model.EventGoalCreated,
		model.EventLedgerTransfer, model.EventGoalCreated,
	}, types)
	assert.Equal(t, fixedpoint.FromInt64(300), sub(t, userFunds, f.balance(user)))
}

// ============================================================================
// 结息
// ============================================================================

func TestCompoundInterest_IdempotentAtSameInstant(t *testing.T) {
	f := initialized(t)
	goalID := f.create(10000, 86400, 500)

	f.clock.Set(1_000_000)
	require.NoError(t, f.svc.CompoundInterest(f.ctx, user, goalID))
	first := f.goal(user, goalID)

	require.NoError(t, f.svc.CompoundInterest(f.ctx, user, goalID))
	assert.Equal(t, first, f.goal(user, goalID))
	assert.Equal(t, fixedpoint.FromInt64(15), first.AccruedInterest)
}

func TestCompoundInterest_NoElapsedWritesNothing(t *testing.T) {
	f := initialized(t)
	goalID := f.create(10000, 86400, 500)
	msgs := len(f.backend.Messages())

	require.NoError(t, f.svc.CompoundInterest(f.ctx, user, goalID))
	assert.Len(t, f.backend.Messages(), msgs)
	assert.True(t, f.goal(user, goalID).AccruedInterest.IsZero())
}

func TestCompoundInterest_Errors(t *testing.T) {
	f := initialized(t)

	err := f.svc.CompoundInterest(f.ctx, user, 42)
	assert.ErrorIs(t, err, model.ErrGoalNotFound)

	goalID := f.create(10000, 86400, 500)
	f.clock.Set(86400)
	_, err = f.svc.Withdraw(f.ctx, user, goalID)
	require.NoError(t, err)

	err = f.svc.CompoundInterest(f.ctx, user, goalID)
	assert.ErrorIs(t, err, model.ErrGoalInactive)
}

func TestCompoundInterest_ClockMovedBack(t *testing.T) {
	f := initialized(t)
	f.clock.Set(500_000)
	goalID := f.create(10000, 86400, 500)

	f.clock.Set(499_999)
	err := f.svc.CompoundInterest(f.ctx, user, goalID)
	assert.ErrorIs(t, err, model.ErrTimeError)

	_, err = f.svc.GetCurrentBalance(f.ctx, user, goalID)
	assert.ErrorIs(t, err, model.ErrTimeError)
}

func TestCompoundInterest_Compounds(t *testing.T) {
	f := initialized(t)
	goalID := f.create(1_000_000, 315360000, 5000)

	// 两次半年结息后的余额高于一次一年结息
	half := uint64(31536000 / 2)
	f.clock.Set(half)
	require.NoError(t, f.svc.CompoundInterest(f.ctx, user, goalID))
	f.clock.Set(2 * half)
	require.NoError(t, f.svc.CompoundInterest(f.ctx, user, goalID))

	g := f.goal(user, goalID)
	assert.Equal(t, fixedpoint.FromInt64(562_500), g.AccruedInterest)
	assert.Equal(t, 2*half, g.LastCompoundTime)
}

func TestGetCurrentBalance_MatchesCompound(t *testing.T) {
	f := initialized(t)
	goalID := f.create(10000, 86400, 500)

	f.clock.Set(1_000_000)
	preview, err := f.svc.GetCurrentBalance(f.ctx, user, goalID)
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.FromInt64(10015), preview)

	// 预览不改存储
	assert.Equal(t, uint64(0), f.goal(user, goalID).LastCompoundTime)

	require.NoError(t, f.svc.CompoundInterest(f.ctx, user, goalID))
	total, err := f.goal(user, goalID).Balance()
	require.NoError(t, err)
	assert.Equal(t, preview, total)

	_, err = f.svc.GetCurrentBalance(f.ctx, user, 99)
	assert.ErrorIs(t, err, model.ErrGoalNotFound)
}

// ============================================================================
// 提取
// ============================================================================

func TestWithdraw_StillLockedLeavesGoalUntouched(t *testing.T) {
	f := initialized(t)
	goalID := f.create(10000, 86400, 500)

	f.clock.Set(86399)
	_, err := f.svc.Withdraw(f.ctx, user, goalID)
	assert.ErrorIs(t, err, model.ErrStillLocked)

	// 提取前的结息随失败一起回滚
	g := f.goal(user, goalID)
	assert.True(t, g.IsActive)
	assert.Equal(t, uint64(0), g.LastCompoundTime)
	assert.True(t, g.AccruedInterest.IsZero())
}

func TestWithdraw_SingleTerminalTransition(t *testing.T) {
	f := initialized(t)
	matured := f.create(10000, 86400, 500)
	early := f.create(10000, 315360000, 500)

	f.clock.Set(86400)
	_, err := f.svc.Withdraw(f.ctx, user, matured)
	require.NoError(t, err)
	_, err = f.svc.EmergencyWithdraw(f.ctx, user, early)
	require.NoError(t, err)

	for _, goalID := range []uint64{matured, early} {
		_, err = f.svc.Withdraw(f.ctx, user, goalID)
		assert.ErrorIs(t, err, model.ErrAlreadyWithdrawn)
		_, err = f.svc.EmergencyWithdraw(f.ctx, user, goalID)
		assert.ErrorIs(t, err, model.ErrAlreadyWithdrawn)
	}

	// 结束的目标不会再报 StillLocked
	f.clock.Set(10)
	_, err = f.svc.Withdraw(f.ctx, user, early)
	assert.ErrorIs(t, err, model.ErrAlreadyWithdrawn)
}

func TestWithdraw_UnknownGoal(t *testing.T) {
	f := initialized(t)

	_, err := f.svc.Withdraw(f.ctx, user, 7)
	assert.ErrorIs(t, err, model.ErrGoalNotFound)
	_, err = f.svc.EmergencyWithdraw(f.ctx, "bob", 0)
	assert.ErrorIs(t, err, model.ErrGoalNotFound)
}

func TestWithdraw_CustodyShortRollsBack(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Initialize(f.ctx, "USDC", admin, 1000))
	f.mint(user, userFunds)

	goalID := f.create(10000, 86400, 5000)
	f.clock.Set(86400 * 10)
	msgs := len(f.backend.Messages())

	// 托管账户只有本金，付不出利息
	_, err := f.svc.Withdraw(f.ctx, user, goalID)
	assert.ErrorIs(t, err, repository.ErrBalanceNotEnough)

	g := f.goal(user, goalID)
	assert.True(t, g.IsActive)
	assert.True(t, g.AccruedInterest.IsZero())
	assert.Len(t, f.backend.Messages(), msgs)
	assert.Equal(t, fixedpoint.FromInt64(10000), f.balance(custody))

	// 补充储备后可以正常提取
	f.mint(custody, vaultReserve)
	_, err = f.svc.Withdraw(f.ctx, user, goalID)
	require.NoError(t, err)
}

func TestEmergencyWithdraw_AfterInterest(t *testing.T) {
	f := initialized(t)
	goalID := f.create(10000, 31536000, 500)

	f.clock.Set(31536000)
	amount, err := f.svc.EmergencyWithdraw(f.ctx, user, goalID)
	require.NoError(t, err)

	// 总额 10500，罚金 1050
	assert.Equal(t, fixedpoint.FromInt64(9450), amount)
	assert.Equal(t, fixedpoint.FromInt64(1050), f.balance(admin))
}

func TestEmergencyWithdraw_ZeroPenalty(t *testing.T) {
	f := initialized(t)
	require.NoError(t, f.svc.SetEmergencyPenalty(f.ctx, admin, 0))

	goalID := f.create(10000, 31536000, 0)
	amount, err := f.svc.EmergencyWithdraw(f.ctx, user, goalID)
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.FromInt64(10000), amount)
	assert.True(t, f.balance(admin).IsZero())
}

func TestEmergencyWithdraw_MaxPenalty(t *testing.T) {
	f := initialized(t)
	require.NoError(t, f.svc.SetEmergencyPenalty(f.ctx, admin, 5000))

	goalID := f.create(10001, 31536000, 0)
	amount, err := f.svc.EmergencyWithdraw(f.ctx, user, goalID)
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.FromInt64(5001), amount)
	assert.Equal(t, fixedpoint.FromInt64(5000), f.balance(admin))
}

// reentrantLedger 在付款时重入同一个目标的提取
type reentrantLedger struct {
	*repository.LedgerRepository
	svc       *SavingsService
	owner     string
	goalID    uint64
	emergency bool
	nested    []error
}

func (l *reentrantLedger) Transfer(tx *storage.Tx, transferType, from, to string, amount fixedpoint.Int128) (*model.LedgerTransfer, error) {
	if transferType == model.TransferTypePayout {
		var err error
		if l.emergency {
			_, _, err = l.svc.emergencyWithdrawTx(tx, l.owner, l.goalID)
		} else {
			_, err = l.svc.withdrawTx(tx, l.owner, l.goalID)
		}
		l.nested = append(l.nested, err)
	}
	return l.LedgerRepository.Transfer(tx, transferType, from, to, amount)
}

func TestWithdraw_ReentrantCallSeesTerminalGoal(t *testing.T) {
	for _, emergency := range []bool{false, true} {
		f := initialized(t)
		ledger := &reentrantLedger{LedgerRepository: f.ledger, emergency: emergency}
		f.svc.ledger = ledger
		ledger.svc = f.svc

		goalID := f.create(10000, 86400, 0)
		ledger.goalID = goalID
		ledger.owner = user
		f.clock.Set(86400)

		var err error
		if emergency {
			_, err = f.svc.EmergencyWithdraw(f.ctx, user, goalID)
		} else {
			_, err = f.svc.Withdraw(f.ctx, user, goalID)
		}
		require.NoError(t, err)

		require.Len(t, ledger.nested, 1)
		assert.ErrorIs(t, ledger.nested[0], model.ErrAlreadyWithdrawn)

		// 只付了一次
		paid := sub(t, f.balance(user), sub(t, userFunds, fixedpoint.FromInt64(10000)))
		if emergency {
			assert.Equal(t, fixedpoint.FromInt64(9000), paid)
		} else {
			assert.Equal(t, fixedpoint.FromInt64(10000), paid)
		}
	}
}

// failingLedger 划转到 failOn 类型时失败
type failingLedger struct {
	*repository.LedgerRepository
	failOn string
}

func (l *failingLedger) Transfer(tx *storage.Tx, transferType, from, to string, amount fixedpoint.Int128) (*model.LedgerTransfer, error) {
	if transferType == l.failOn {
		return nil, errors.New("ledger offline")
	}
	return l.LedgerRepository.Transfer(tx, transferType, from, to, amount)
}

func TestEmergencyWithdraw_PenaltyTransferFailureRollsBack(t *testing.T) {
	f := initialized(t)
	goalID := f.create(10000, 31536000, 500)
	f.svc.ledger = &failingLedger{LedgerRepository: f.ledger, failOn: model.TransferTypePenalty}

	_, err := f.svc.EmergencyWithdraw(f.ctx, user, goalID)
	require.Error(t, err)

	// 第一笔付款和结束标记都没有提交
	assert.True(t, f.goal(user, goalID).IsActive)
	assert.Equal(t, sub(t, userFunds, fixedpoint.FromInt64(10000)), f.balance(user))
}

// ============================================================================
// 配置与权限
// ============================================================================

func TestInitialize(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.svc.Initialize(f.ctx, "USDC", admin, 5001), model.ErrPenaltyTooHigh)
	require.NoError(t, f.svc.Initialize(f.ctx, "USDC", admin, 5000))
	assert.ErrorIs(t, f.svc.Initialize(f.ctx, "USDC", admin, 1000), model.ErrAlreadyInitialized)
	assert.ErrorIs(t, f.svc.Initialize(f.ctx, "DAI", "other", 9999), model.ErrAlreadyInitialized)

	cfg, err := f.svc.GetConfig(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "USDC", cfg.Token)
	assert.Equal(t, admin, cfg.Admin)
	assert.Equal(t, uint32(5000), cfg.EmergencyPenalty)
}

func TestGetConfig_NotInitialized(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetConfig(f.ctx)
	assert.ErrorIs(t, err, model.ErrNotInitialized)
}

func withCallerAuth(o *Options) { o.Authorizer = CallerAuthorizer{} }

func TestSetEmergencyPenalty_Authorization(t *testing.T) {
	f := initialized(t, withCallerAuth)
	asAdmin := WithCaller(f.ctx, admin)
	asMallory := WithCaller(f.ctx, "mallory")

	// 冒充管理员：认证失败
	assert.ErrorIs(t, f.svc.SetEmergencyPenalty(asMallory, admin, 10), model.ErrUnauthorized)
	// 认证通过但不是管理员
	assert.ErrorIs(t, f.svc.SetEmergencyPenalty(asMallory, "mallory", 10), model.ErrUnauthorized)
	assert.ErrorIs(t, f.svc.SetEmergencyPenalty(asAdmin, admin, 5001), model.ErrPenaltyTooHigh)

	require.NoError(t, f.svc.SetEmergencyPenalty(asAdmin, admin, 2500))

	asUser := WithCaller(f.ctx, user)
	goalID, err := f.svc.CreateGoal(asUser, user, fixedpoint.FromInt64(10000), 86400, 0)
	require.NoError(t, err)
	amount, err := f.svc.EmergencyWithdraw(asUser, user, goalID)
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.FromInt64(7500), amount)
}

func TestSetEmergencyPenalty_NotInitialized(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.SetEmergencyPenalty(f.ctx, admin, 10), model.ErrNotInitialized)
}

func TestOwnerAuthorizationRequired(t *testing.T) {
	f := initialized(t, withCallerAuth)
	asUser := WithCaller(f.ctx, user)
	asBob := WithCaller(f.ctx, "bob")

	_, err := f.svc.CreateGoal(f.ctx, user, fixedpoint.FromInt64(10), 86400, 0)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = f.svc.CreateGoal(asBob, user, fixedpoint.FromInt64(10), 86400, 0)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	goalID, err := f.svc.CreateGoal(asUser, user, fixedpoint.FromInt64(10), 86400, 0)
	require.NoError(t, err)
	f.clock.Set(86400)

	_, err = f.svc.Withdraw(asBob, user, goalID)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = f.svc.EmergencyWithdraw(asBob, user, goalID)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	// 结息不需要授权
	f.clock.Set(86401)
	require.NoError(t, f.svc.CompoundInterest(asBob, user, goalID))

	_, err = f.svc.Withdraw(asUser, user, goalID)
	require.NoError(t, err)
}

func TestCreateGoal_CustodyCannotOwnGoals(t *testing.T) {
	f := initialized(t)
	_, err := f.svc.CreateGoal(f.ctx, custody, fixedpoint.FromInt64(10), 86400, 0)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestMint(t *testing.T) {
	f := initialized(t, withCallerAuth)

	_, err := f.svc.Mint(WithCaller(f.ctx, user), user, user, fixedpoint.FromInt64(1))
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = f.svc.Mint(WithCaller(f.ctx, admin), admin, "bob", fixedpoint.Zero)
	assert.ErrorIs(t, err, model.ErrInvalidAmount)

	record, err := f.svc.Mint(WithCaller(f.ctx, admin), admin, "bob", fixedpoint.FromInt64(7))
	require.NoError(t, err)
	assert.Equal(t, model.TransferTypeMint, record.Type)
	assert.Equal(t, fixedpoint.FromInt64(7), f.balance("bob"))
}

// ============================================================================
// 定时结息
// ============================================================================

func TestCompoundActiveGoals(t *testing.T) {
	f := initialized(t)
	a := f.create(10000, 86400, 500)
	b := f.create(10000, 86400, 500)
	c := f.create(10000, 86400, 500)

	f.clock.Set(86400)
	_, err := f.svc.Withdraw(f.ctx, user, b)
	require.NoError(t, err)

	f.clock.Set(1_000_000)
	next, n, err := f.svc.CompoundActiveGoals(f.ctx, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)
	assert.Equal(t, 1, n)

	next, n, err = f.svc.CompoundActiveGoals(f.ctx, next, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), next)
	assert.Equal(t, 1, n)

	assert.Equal(t, uint64(1_000_000), f.goal(user, a).LastCompoundTime)
	assert.Equal(t, uint64(1_000_000), f.goal(user, c).LastCompoundTime)
	assert.Equal(t, uint64(86400), f.goal(user, b).LastCompoundTime)

	// 游标越界时从头开始
	_, n, err = f.svc.CompoundActiveGoals(f.ctx, 99, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// steppingClock 每读一次前进 step 秒
type steppingClock struct {
	base  *ManualClock
	step  uint64
	reads int
}

func (c *steppingClock) Now() uint64 {
	now := c.base.Now()
	c.reads++
	c.base.Advance(c.step)
	return now
}

func lastEvent(t *testing.T, f *fixture, eventType string) model.GoalEvent {
	t.Helper()
	msgs := f.backend.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].EventType == eventType {
			var ev model.GoalEvent
			require.NoError(t, json.Unmarshal([]byte(msgs[i].Payload), &ev))
			return ev
		}
	}
	t.Fatalf("没有 %s 事件", eventType)
	return model.GoalEvent{}
}

func TestWithdraw_ReadsClockOnce(t *testing.T) {
	clock := &steppingClock{base: NewManualClock(0)}
	f := initialized(t, func(o *Options) { o.Clock = clock })
	principal := fixedpoint.FromInt64(100_000)
	goalID, err := f.svc.CreateGoal(f.ctx, user, principal, 86400, 5000)
	require.NoError(t, err)

	clock.base.Set(86410)
	clock.step = 1
	clock.reads = 0

	amount, err := f.svc.Withdraw(f.ctx, user, goalID)
	require.NoError(t, err)
	assert.Equal(t, 1, clock.reads)

	g := f.goal(user, goalID)
	assert.Equal(t, uint64(86410), g.LastCompoundTime)
	assert.Equal(t, uint64(86410), lastEvent(t, f, model.EventGoalWithdrawn).OccurredAt)

	earned, err := interest.Accrue(principal, 5000, 86410)
	require.NoError(t, err)
	assert.Equal(t, add(t, principal, earned), amount)
}

func TestEmergencyWithdraw_ReadsClockOnce(t *testing.T) {
	clock := &steppingClock{base: NewManualClock(0)}
	f := initialized(t, func(o *Options) { o.Clock = clock })
	goalID, err := f.svc.CreateGoal(f.ctx, user, fixedpoint.FromInt64(100_000), 31536000, 5000)
	require.NoError(t, err)

	clock.base.Set(1000)
	clock.step = 1
	clock.reads = 0

	_, err = f.svc.EmergencyWithdraw(f.ctx, user, goalID)
	require.NoError(t, err)
	assert.Equal(t, 1, clock.reads)

	g := f.goal(user, goalID)
	assert.Equal(t, uint64(1000), g.LastCompoundTime)
	assert.Equal(t, uint64(1000), lastEvent(t, f, model.EventGoalEmergencyWithdrawn).OccurredAt)
}

func TestInitialize_AdminCannotBeCustody(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Initialize(f.ctx, "USDC", custody, 1000)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = f.svc.GetConfig(f.ctx)
	assert.ErrorIs(t, err, model.ErrNotInitialized)

	require.NoError(t, f.svc.Initialize(f.ctx, "USDC", admin, 1000))
}

func TestCompoundActiveGoals_SkipsGoalWithClockAhead(t *testing.T) {
	f := initialized(t)
	f.clock.Set(500_000)
	ahead := f.create(10000, 86400, 500)
	f.clock.Set(100)
	behind := f.create(10000, 86400, 500)

	f.clock.Set(200_000)
	next, n, err := f.svc.CompoundActiveGoals(f.ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), next)
	assert.Equal(t, 1, n)

	assert.Equal(t, uint64(500_000), f.goal(user, ahead).LastCompoundTime)
	assert.Equal(t, uint64(200_000), f.goal(user, behind).LastCompoundTime)
}

func TestEmptyTopics_WriteNoOutbox(t *testing.T) {
	backend := storage.NewMemoryBackend()
	clock := NewManualClock(0)
	svc := NewSavingsService(storage.NewStore(backend), repository.NewLedgerRepository(""),
		Options{Clock: clock, Authorizer: AllowAll{}, CustodyAccount: custody})
	ctx := context.Background()

	require.NoError(t, svc.Initialize(ctx, "USDC", admin, 1000))
	for _, to := range []string{user, custody} {
		_, err := svc.Mint(WithCaller(ctx, admin), admin, to, userFunds)
		require.NoError(t, err)
	}
	goalID, err := svc.CreateGoal(ctx, user, fixedpoint.FromInt64(10000), 86400, 500)
	require.NoError(t, err)
	clock.Set(86400)
	_, err = svc.Withdraw(ctx, user, goalID)
	require.NoError(t, err)

	assert.Empty(t, backend.Messages())
}
