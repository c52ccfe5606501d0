package model

// AdminConfig 合约配置：Token 与 Admin 初始化后不可变，EmergencyPenalty 只有管理员可改
type AdminConfig struct {
	Token            string `json:"token"`
	Admin            string `json:"admin"`
	EmergencyPenalty uint32 `json:"emergency_penalty"`
	Initialized      bool   `json:"initialized"`
}
