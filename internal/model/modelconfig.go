package model

import "time"

// ModelConfig 暴露给 OpenAI 兼容接口的模型配置
// Chat 接口按模型名解析默认尺寸与步数
type ModelConfig struct {
	ID          int       `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"unique;not null"`
	Width       int       `json:"width" gorm:"default:1024"`
	Height      int       `json:"height" gorm:"default:1024"`
	Steps       int       `json:"steps" gorm:"default:9"`
	Description string    `json:"description"`
	IsDefault   bool      `json:"is_default" gorm:"default:false"`
	UseMarkdown bool      `json:"use_markdown" gorm:"default:true"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ModelConfigUpdateRequest 模型配置更新请求 - 仅包含变更的数据
type ModelConfigUpdateRequest struct {
	ID          int     `json:"id" binding:"required"`
	Name        *string `json:"name,omitempty"`
	Width       *int    `json:"width,omitempty"`
	Height      *int    `json:"height,omitempty"`
	Steps       *int    `json:"steps,omitempty"`
	Description *string `json:"description,omitempty"`
	IsDefault   *bool   `json:"is_default,omitempty"`
	UseMarkdown *bool   `json:"use_markdown,omitempty"`
}
