package model

// CredentialAttempt 记录单个凭证的尝试结果
type CredentialAttempt struct {
	CredentialID int    `json:"credential_id"`
	Round        int    `json:"round"`   // 第几轮故障转移 (1-3)
	Retries      int    `json:"retries"` // 该凭证上的实际请求次数
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	Duration     int    `json:"duration"` // 耗时(毫秒)
}

const (
	GenStatusSuccess = "success"
	GenStatusFailed  = "failed"
)

type GenerationLog struct {
	ID           int64               `json:"id" gorm:"primaryKey;autoIncrement:false"` // 毫秒时间戳ID
	Time         int64               `json:"time"`                                     // 时间戳（秒）
	Prompt       string              `json:"prompt"`
	Width        int                 `json:"width"`
	Height       int                 `json:"height"`
	CredentialID int                 `json:"credential_id"`
	APIKeyID     int                 `json:"api_key_id"`
	Status       string              `json:"status"` // success, failed
	Error        string              `json:"error,omitempty"`
	ImageURL     string              `json:"image_url,omitempty"`
	Attempts     []CredentialAttempt `json:"attempts" gorm:"serializer:json"`
}
