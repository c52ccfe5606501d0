package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"savingsvault/internal/fixedpoint"
	"savingsvault/internal/model"
	"savingsvault/internal/repository"
	"savingsvault/internal/service"
	"savingsvault/pkg/response"
)

type Handler struct {
	svc  *service.SavingsService
	auth service.Authorizer
}

func NewHandler(svc *service.SavingsService, auth service.Authorizer) *Handler {
	if auth == nil {
		auth = service.CallerAuthorizer{}
	}
	return &Handler{svc: svc, auth: auth}
}

// fail 业务错误透传 1..16，账本错误用 1003/1005，其它 500
func fail(c *gin.Context, err error) {
	var bizErr *model.Error
	switch {
	case errors.As(err, &bizErr):
		response.Error(c, bizErr.Code, bizErr.Message)
	case errors.Is(err, repository.ErrBalanceNotEnough):
		response.Error(c, response.CodeBalanceNotEnough, repository.ErrBalanceNotEnough.Error())
	case errors.Is(err, repository.ErrInvalidTransfer), errors.Is(err, repository.ErrSelfTransfer):
		response.Error(c, response.CodeTransferRejected, err.Error())
	default:
		logrus.WithError(err).WithField("request_id", c.GetString(requestIDHeader)).Error("请求处理失败")
		response.ServerError(c, "服务器内部错误")
	}
}

func goalIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "goal id 参数错误")
		return 0, false
	}
	return id, true
}

// bpsPercent 基点转百分比字符串，500 -> "5.00"
func bpsPercent(bps uint32) string {
	return decimal.New(int64(bps), -2).StringFixed(2)
}

type goalView struct {
	GoalID              uint64 `json:"goal_id"`
	Owner               string `json:"owner"`
	Principal           string `json:"principal"`
	InterestRateBps     uint32 `json:"interest_rate"`
	InterestRatePercent string `json:"interest_rate_percent"`
	StartTime           uint64 `json:"start_time"`
	LockDuration        uint64 `json:"lock_duration"`
	UnlockTime          uint64 `json:"unlock_time"`
	AccruedInterest     string `json:"accrued_interest"`
	LastCompoundTime    uint64 `json:"last_compound_time"`
	IsActive            bool   `json:"is_active"`
	Status              string `json:"status"`
}

func newGoalView(goalID uint64, g *model.SavingsGoal) goalView {
	return goalView{
		GoalID:              goalID,
		Owner:               g.Owner,
		Principal:           g.Principal.String(),
		InterestRateBps:     g.InterestRate,
		InterestRatePercent: bpsPercent(g.InterestRate),
		StartTime:           g.StartTime,
		LockDuration:        g.LockDuration,
		UnlockTime:          g.UnlockTime,
		AccruedInterest:     g.AccruedInterest.String(),
		LastCompoundTime:    g.LastCompoundTime,
		IsActive:            g.IsActive,
		Status:              g.Status(),
	}
}

// ============================================================
// 管理接口
// ============================================================

type InitializeRequest struct {
	Token            string `json:"token" binding:"required"`
	Admin            string `json:"admin" binding:"required"`
	EmergencyPenalty uint32 `json:"emergency_penalty"`
}

// Initialize POST /api/v1/admin/initialize
// 调用方必须是要设置的管理员本人
func (h *Handler) Initialize(c *gin.Context) {
	var req InitializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	if err := h.auth.RequireAuth(ctx, req.Admin); err != nil {
		fail(c, err)
		return
	}
	if err := h.svc.Initialize(ctx, req.Token, req.Admin, req.EmergencyPenalty); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"token": req.Token, "admin": req.Admin, "emergency_penalty": req.EmergencyPenalty})
}

type SetPenaltyRequest struct {
	Admin            string `json:"admin" binding:"required"`
	EmergencyPenalty uint32 `json:"emergency_penalty"`
}

// SetPenalty PUT /api/v1/admin/penalty
func (h *Handler) SetPenalty(c *gin.Context) {
	var req SetPenaltyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if err := h.svc.SetEmergencyPenalty(c.Request.Context(), req.Admin, req.EmergencyPenalty); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"emergency_penalty":         req.EmergencyPenalty,
		"emergency_penalty_percent": bpsPercent(req.EmergencyPenalty),
	})
}

type MintRequest struct {
	Admin  string            `json:"admin" binding:"required"`
	To     string            `json:"to" binding:"required"`
	Amount fixedpoint.Int128 `json:"amount"`
}

// Mint POST /api/v1/admin/mint
func (h *Handler) Mint(c *gin.Context) {
	var req MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	record, err := h.svc.Mint(c.Request.Context(), req.Admin, req.To, req.Amount)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, record)
}

// GetConfig GET /api/v1/config
func (h *Handler) GetConfig(c *gin.Context) {
	cfg, err := h.svc.GetConfig(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"token":                     cfg.Token,
		"admin":                     cfg.Admin,
		"emergency_penalty":         cfg.EmergencyPenalty,
		"emergency_penalty_percent": bpsPercent(cfg.EmergencyPenalty),
		"custody_account":           h.svc.CustodyAccount(),
	})
}

// ============================================================
// 储蓄目标接口
// ============================================================

type CreateGoalRequest struct {
	Owner        string            `json:"owner" binding:"required"`
	Amount       fixedpoint.Int128 `json:"amount"`
	LockDuration uint64            `json:"lock_duration"`
	InterestRate uint32            `json:"interest_rate"`
}

// CreateGoal POST /api/v1/goals
func (h *Handler) CreateGoal(c *gin.Context) {
	var req CreateGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	goalID, err := h.svc.CreateGoal(ctx, req.Owner, req.Amount, req.LockDuration, req.InterestRate)
	if err != nil {
		fail(c, err)
		return
	}
	goal, err := h.svc.GetGoal(ctx, req.Owner, goalID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, newGoalView(goalID, goal))
}

// ListGoals GET /api/v1/goals/:owner
func (h *Handler) ListGoals(c *gin.Context) {
	entries, err := h.svc.ListUserGoals(c.Request.Context(), c.Param("owner"))
	if err != nil {
		fail(c, err)
		return
	}
	views := make([]goalView, 0, len(entries))
	for _, e := range entries {
		views = append(views, newGoalView(e.GoalID, e.SavingsGoal))
	}
	response.Success(c, gin.H{"owner": c.Param("owner"), "goals": views})
}

// GetUserGoalCount GET /api/v1/goals/:owner/count
func (h *Handler) GetUserGoalCount(c *gin.Context) {
	count, err := h.svc.GetUserGoalCount(c.Request.Context(), c.Param("owner"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"owner": c.Param("owner"), "count": count})
}

// GetGoal GET /api/v1/goals/:owner/:id
func (h *Handler) GetGoal(c *gin.Context) {
	goalID, ok := goalIDParam(c)
	if !ok {
		return
	}
	goal, err := h.svc.GetGoal(c.Request.Context(), c.Param("owner"), goalID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, newGoalView(goalID, goal))
}

// GetCurrentBalance GET /api/v1/goals/:owner/:id/balance
func (h *Handler) GetCurrentBalance(c *gin.Context) {
	goalID, ok := goalIDParam(c)
	if !ok {
		return
	}
	balance, err := h.svc.GetCurrentBalance(c.Request.Context(), c.Param("owner"), goalID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"goal_id": goalID, "balance": balance.String()})
}

// CompoundInterest POST /api/v1/goals/:owner/:id/compound
func (h *Handler) CompoundInterest(c *gin.Context) {
	goalID, ok := goalIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	owner := c.Param("owner")
	if err := h.svc.CompoundInterest(ctx, owner, goalID); err != nil {
		fail(c, err)
		return
	}
	goal, err := h.svc.GetGoal(ctx, owner, goalID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, newGoalView(goalID, goal))
}

// Withdraw POST /api/v1/goals/:owner/:id/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	goalID, ok := goalIDParam(c)
	if !ok {
		return
	}
	amount, err := h.svc.Withdraw(c.Request.Context(), c.Param("owner"), goalID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"goal_id": goalID, "amount": amount.String()})
}

// EmergencyWithdraw POST /api/v1/goals/:owner/:id/emergency-withdraw
func (h *Handler) EmergencyWithdraw(c *gin.Context) {
	goalID, ok := goalIDParam(c)
	if !ok {
		return
	}
	amount, err := h.svc.EmergencyWithdraw(c.Request.Context(), c.Param("owner"), goalID)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"goal_id": goalID, "amount": amount.String()})
}

// GetAccountBalance GET /api/v1/accounts/:identity/balance
func (h *Handler) GetAccountBalance(c *gin.Context) {
	balance, err := h.svc.GetBalance(c.Request.Context(), c.Param("identity"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"identity": c.Param("identity"), "balance": balance.String()})
}
