package dto

// UpdateSettingRequest 更新设置
type UpdateSettingRequest struct {
	Value string `json:"value" binding:"max=1000"`
}

// CreateAPIKeyRequest 创建 API Key
type CreateAPIKeyRequest struct {
	Name string `json:"name" binding:"required,min=3,max=100"`
	Role string `json:"role" binding:"required,oneof=member admin"`
}

// CreateAPIKeyResponse 明文 key 只在创建时返回一次
type CreateAPIKeyResponse struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
	Key    string `json:"key"`
	Role   string `json:"role"`
}
