package model

import (
	"savingsvault/internal/fixedpoint"
)

// ============================================================================
// 账本流水类型
// ============================================================================

const (
	TransferTypeMint    = "MINT"    // 管理员注资
	TransferTypeDeposit = "DEPOSIT" // 用户存入托管账户
	TransferTypePayout  = "PAYOUT"  // 托管账户支付给用户
	TransferTypePenalty = "PENALTY" // 提前支取罚金划给管理员
)

// LedgerTransfer 一笔资金划转的流水，写入 outbox 供对账
//
// 只追加，不修改；记录划转前后双方余额，便于校验余额一致性
type LedgerTransfer struct {
	TransferNo  string            `json:"transfer_no"`
	Type        string            `json:"type"`
	From        string            `json:"from,omitempty"`
	To          string            `json:"to"`
	Amount      fixedpoint.Int128 `json:"amount"`
	FromBalance fixedpoint.Int128 `json:"from_balance_after"`
	ToBalance   fixedpoint.Int128 `json:"to_balance_after"`
	Remark      string            `json:"remark,omitempty"`
}
