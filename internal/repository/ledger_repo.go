package repository

import (
	"errors"
	"fmt"

	"savingsvault/internal/fixedpoint"
	"savingsvault/internal/model"
	"savingsvault/internal/storage"
	"savingsvault/pkg/idgen"
)

var (
	ErrBalanceNotEnough = errors.New("余额不足")
	ErrInvalidTransfer  = errors.New("划转金额必须大于0")
	ErrSelfTransfer     = errors.New("不能向自己划转")
)

// LedgerRepository 按身份记账的代币余额，和目标数据放在同一个存储里，
// 划转与目标状态变更一起提交或一起丢弃。
type LedgerRepository struct {
	topic string
}

func NewLedgerRepository(topic string) *LedgerRepository {
	return &LedgerRepository{topic: topic}
}

// Balance 没有记录的身份余额为 0
func (r *LedgerRepository) Balance(tx *storage.Tx, identity string) (fixedpoint.Int128, error) {
	var balance fixedpoint.Int128
	if _, err := tx.Get(storage.BalanceKey(identity), &balance); err != nil {
		return fixedpoint.Zero, err
	}
	return balance, nil
}

// Transfer 从 from 划转 amount 到 to，余额不足返回 ErrBalanceNotEnough
func (r *LedgerRepository) Transfer(tx *storage.Tx, transferType, from, to string, amount fixedpoint.Int128) (*model.LedgerTransfer, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidTransfer
	}
	if from == to {
		return nil, ErrSelfTransfer
	}

	fromBalance, err := r.Balance(tx, from)
	if err != nil {
		return nil, err
	}
	if fromBalance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: %s 余额 %s, 需要 %s", ErrBalanceNotEnough, from, fromBalance, amount)
	}
	fromBalance, err = fromBalance.Sub(amount)
	if err != nil {
		return nil, model.ArithmeticError(err)
	}

	toBalance, err := r.credit(tx, to, amount)
	if err != nil {
		return nil, err
	}
	if err := tx.Set(storage.BalanceKey(from), fromBalance); err != nil {
		return nil, err
	}

	record := &model.LedgerTransfer{
		TransferNo:  idgen.GenerateTransferNo(),
		Type:        transferType,
		From:        from,
		To:          to,
		Amount:      amount,
		FromBalance: fromBalance,
		ToBalance:   toBalance,
	}
	if err := r.emit(tx, model.EventLedgerTransfer, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Mint 凭空给 to 记账，只供管理员注资
func (r *LedgerRepository) Mint(tx *storage.Tx, to string, amount fixedpoint.Int128) (*model.LedgerTransfer, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidTransfer
	}
	toBalance, err := r.credit(tx, to, amount)
	if err != nil {
		return nil, err
	}

	record := &model.LedgerTransfer{
		TransferNo: idgen.GenerateTransferNo(),
		Type:       model.TransferTypeMint,
		To:         to,
		Amount:     amount,
		ToBalance:  toBalance,
	}
	if err := r.emit(tx, model.EventLedgerMint, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *LedgerRepository) credit(tx *storage.Tx, identity string, amount fixedpoint.Int128) (fixedpoint.Int128, error) {
	balance, err := r.Balance(tx, identity)
	if err != nil {
		return fixedpoint.Zero, err
	}
	balance, err = balance.Add(amount)
	if err != nil {
		return fixedpoint.Zero, model.ArithmeticError(err)
	}
	if err := tx.Set(storage.BalanceKey(identity), balance); err != nil {
		return fixedpoint.Zero, err
	}
	return balance, nil
}

func (r *LedgerRepository) emit(tx *storage.Tx, eventType string, record *model.LedgerTransfer) error {
	if r.topic == "" {
		return nil
	}
	msg, err := NewOutboxMessage(r.topic, eventType, record.TransferNo, record)
	if err != nil {
		return err
	}
	return tx.Emit(msg)
}
