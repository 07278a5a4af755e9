package model

type APIKey struct {
	ID       int    `json:"id" gorm:"primaryKey"`
	Name     string `json:"name" gorm:"not null"`
	APIKey   string `json:"api_key" gorm:"not null"`
	Enabled  bool   `json:"enabled" gorm:"default:true"`
	ExpireAt int64  `json:"expire_at,omitempty"`
}
