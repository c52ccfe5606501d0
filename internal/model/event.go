package model

import (
	"savingsvault/internal/fixedpoint"
)

const (
	EventGoalCreated            = "goal.created"
	EventGoalWithdrawn          = "goal.withdrawn"
	EventGoalEmergencyWithdrawn = "goal.emergency_withdrawn"
	EventConfigInitialized      = "config.initialized"
	EventPenaltyUpdated         = "config.penalty_updated"
	EventLedgerTransfer         = "ledger.transfer"
	EventLedgerMint             = "ledger.mint"
)

// GoalEvent 目标生命周期事件的消息体
type GoalEvent struct {
	Type       string             `json:"type"`
	Owner      string             `json:"owner,omitempty"`
	GoalID     uint64             `json:"goal_id"`
	Amount     *fixedpoint.Int128 `json:"amount,omitempty"`
	Penalty    *fixedpoint.Int128 `json:"penalty,omitempty"`
	UnlockTime uint64             `json:"unlock_time,omitempty"`
	PenaltyBps uint32             `json:"penalty_bps,omitempty"`
	OccurredAt uint64             `json:"occurred_at"`
}
