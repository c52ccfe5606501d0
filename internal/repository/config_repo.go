package repository

import (
	"savingsvault/internal/model"
	"savingsvault/internal/storage"
)

type ConfigRepository struct{}

func NewConfigRepository() *ConfigRepository {
	return &ConfigRepository{}
}

// Initialize 一次性写入配置。是否已初始化以 Token 键是否存在为准，
// 这个判断必须在任何校验和写入之前。
func (r *ConfigRepository) Initialize(tx *storage.Tx, token, admin string, penaltyBps uint32) error {
	initialized, err := tx.Has(storage.TokenKey())
	if err != nil {
		return err
	}
	if initialized {
		return model.ErrAlreadyInitialized
	}
	if penaltyBps > model.MaxPenaltyRate {
		return model.ErrPenaltyTooHigh
	}

	if err := tx.Set(storage.TokenKey(), token); err != nil {
		return err
	}
	if err := tx.Set(storage.AdminKey(), admin); err != nil {
		return err
	}
	if err := tx.Set(storage.EmergencyPenaltyKey(), penaltyBps); err != nil {
		return err
	}
	return tx.Set(storage.GoalCounterKey(), uint64(0))
}

// SetPenalty caller 的身份认证由调用方完成，这里只比对管理员
func (r *ConfigRepository) SetPenalty(tx *storage.Tx, caller string, penaltyBps uint32) error {
	admin, err := r.Admin(tx)
	if err != nil {
		return err
	}
	if caller != admin {
		return model.ErrUnauthorized
	}
	if penaltyBps > model.MaxPenaltyRate {
		return model.ErrPenaltyTooHigh
	}
	return tx.Set(storage.EmergencyPenaltyKey(), penaltyBps)
}

func (r *ConfigRepository) Token(tx *storage.Tx) (string, error) {
	return r.requiredString(tx, storage.TokenKey())
}

func (r *ConfigRepository) Admin(tx *storage.Tx) (string, error) {
	return r.requiredString(tx, storage.AdminKey())
}

// Penalty 未设置时返回 model.DefaultEmergencyPenalty
func (r *ConfigRepository) Penalty(tx *storage.Tx) (uint32, error) {
	var bps uint32
	found, err := tx.Get(storage.EmergencyPenaltyKey(), &bps)
	if err != nil {
		return 0, err
	}
	if !found {
		return model.DefaultEmergencyPenalty, nil
	}
	return bps, nil
}

func (r *ConfigRepository) Config(tx *storage.Tx) (*model.AdminConfig, error) {
	token, err := r.Token(tx)
	if err != nil {
		return nil, err
	}
	admin, err := r.Admin(tx)
	if err != nil {
		return nil, err
	}
	penalty, err := r.Penalty(tx)
	if err != nil {
		return nil, err
	}
	return &model.AdminConfig{
		Token:            token,
		Admin:            admin,
		EmergencyPenalty: penalty,
		Initialized:      true,
	}, nil
}

func (r *ConfigRepository) requiredString(tx *storage.Tx, key storage.Key) (string, error) {
	var v string
	found, err := tx.Get(key, &v)
	if err != nil {
		return "", err
	}
	if !found {
		return "", model.ErrNotInitialized
	}
	return v, nil
}
