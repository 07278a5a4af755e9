package op

import (
	"context"
	"fmt"

	"github.com/mkleve522/zzimage/internal/db"
	"github.com/mkleve522/zzimage/internal/model"
	"github.com/mkleve522/zzimage/internal/utils/cache"
	"gorm.io/gorm"
)

var modelConfigCache = cache.New[int, model.ModelConfig](16)
var modelConfigNameMap = cache.New[string, int](16)

func ModelConfigList(ctx context.Context) ([]model.ModelConfig, error) {
	configs := make([]model.ModelConfig, 0, modelConfigCache.Len())
	for _, config := range modelConfigCache.GetAll() {
		configs = append(configs, config)
	}
	return configs, nil
}

func ModelConfigGet(id int, ctx context.Context) (*model.ModelConfig, error) {
	config, ok := modelConfigCache.Get(id)
	if !ok {
		return nil, fmt.Errorf("model config not found")
	}
	return &config, nil
}

func ModelConfigGetByName(name string, ctx context.Context) (*model.ModelConfig, error) {
	id, ok := modelConfigNameMap.Get(name)
	if !ok {
		return nil, fmt.Errorf("model config not found")
	}
	return ModelConfigGet(id, ctx)
}

// ModelConfigGetDefault 返回默认模型配置，没有标记默认时退回任意一个
func ModelConfigGetDefault(ctx context.Context) (*model.ModelConfig, error) {
	var fallback *model.ModelConfig
	for _, config := range modelConfigCache.GetAll() {
		if config.IsDefault {
			c := config
			return &c, nil
		}
		if fallback == nil {
			c := config
			fallback = &c
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("no model config available")
}

func ModelConfigCreate(config *model.ModelConfig, ctx context.Context) error {
	err := db.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 同一时刻只允许一个默认模型
		if config.IsDefault {
			if err := tx.Model(&model.ModelConfig{}).
				Where("is_default = ?", true).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(config).Error
	})
	if err != nil {
		return fmt.Errorf("failed to create model config: %w", err)
	}
	return modelConfigRefreshCache(ctx)
}

func ModelConfigUpdate(req *model.ModelConfigUpdateRequest, ctx context.Context) (*model.ModelConfig, error) {
	if _, ok := modelConfigCache.Get(req.ID); !ok {
		return nil, fmt.Errorf("model config not found")
	}

	var selectFields []string
	updates := model.ModelConfig{ID: req.ID}

	if req.Name != nil {
		selectFields = append(selectFields, "name")
		updates.Name = *req.Name
	}
	if req.Width != nil {
		selectFields = append(selectFields, "width")
		updates.Width = *req.Width
	}
	if req.Height != nil {
		selectFields = append(selectFields, "height")
		updates.Height = *req.Height
	}
	if req.Steps != nil {
		selectFields = append(selectFields, "steps")
		updates.Steps = *req.Steps
	}
	if req.Description != nil {
		selectFields = append(selectFields, "description")
		updates.Description = *req.Description
	}
	if req.IsDefault != nil {
		selectFields = append(selectFields, "is_default")
		updates.IsDefault = *req.IsDefault
	}
	if req.UseMarkdown != nil {
		selectFields = append(selectFields, "use_markdown")
		updates.UseMarkdown = *req.UseMarkdown
	}

	if len(selectFields) > 0 {
		err := db.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if req.IsDefault != nil && *req.IsDefault {
				if err := tx.Model(&model.ModelConfig{}).
					Where("is_default = ? AND id != ?", true, req.ID).
					Update("is_default", false).Error; err != nil {
					return err
				}
			}
			return tx.Model(&model.ModelConfig{}).
				Where("id = ?", req.ID).
				Select(selectFields).
				Updates(&updates).Error
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update model config: %w", err)
		}
	}

	if err := modelConfigRefreshCache(ctx); err != nil {
		return nil, err
	}
	config, _ := modelConfigCache.Get(req.ID)
	return &config, nil
}

func ModelConfigDelete(id int, ctx context.Context) error {
	config, ok := modelConfigCache.Get(id)
	if !ok {
		return fmt.Errorf("model config not found")
	}
	if err := db.GetDB().WithContext(ctx).Delete(&model.ModelConfig{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete model config: %w", err)
	}
	modelConfigCache.Del(id)
	modelConfigNameMap.Del(config.Name)
	return nil
}

func modelConfigRefreshCache(ctx context.Context) error {
	configs := []model.ModelConfig{}
	if err := db.GetDB().WithContext(ctx).Find(&configs).Error; err != nil {
		return err
	}
	modelConfigCache.Clear()
	modelConfigNameMap.Clear()
	for _, config := range configs {
		modelConfigCache.Set(config.ID, config)
		modelConfigNameMap.Set(config.Name, config.ID)
	}
	return nil
}
