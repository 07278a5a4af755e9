package op

import (
	"context"
	"fmt"
	"time"

	"github.com/mkleve522/zzimage/internal/db"
	"github.com/mkleve522/zzimage/internal/model"
	"github.com/mkleve522/zzimage/internal/utils/cache"
	"gorm.io/gorm"
)

var credentialCache = cache.New[int, model.Credential](16)

func CredentialList(ctx context.Context) ([]model.Credential, error) {
	credentials := make([]model.Credential, 0, credentialCache.Len())
	for _, credential := range credentialCache.GetAll() {
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

func CredentialCreate(credential *model.Credential, ctx context.Context) error {
	if err := db.GetDB().WithContext(ctx).Create(credential).Error; err != nil {
		return err
	}
	credentialCache.Set(credential.ID, *credential)
	return nil
}

func CredentialUpdate(req *model.CredentialUpdateRequest, ctx context.Context) (*model.Credential, error) {
	_, ok := credentialCache.Get(req.ID)
	if !ok {
		return nil, fmt.Errorf("credential not found")
	}

	var selectFields []string
	updates := model.Credential{ID: req.ID}

	if req.Label != nil {
		selectFields = append(selectFields, "label")
		updates.Label = *req.Label
	}
	if req.Secret != nil {
		selectFields = append(selectFields, "secret")
		updates.Secret = *req.Secret
	}
	if req.Proxy != nil {
		selectFields = append(selectFields, "proxy")
		updates.Proxy = req.Proxy
	}
	if req.Active != nil {
		selectFields = append(selectFields, "active")
		updates.Active = *req.Active
	}

	if len(selectFields) > 0 {
		if err := db.GetDB().WithContext(ctx).Model(&model.Credential{}).
			Where("id = ?", req.ID).
			Select(selectFields).
			Updates(&updates).Error; err != nil {
			return nil, fmt.Errorf("failed to update credential: %w", err)
		}
	}

	if err := credentialRefreshCacheByID(req.ID, ctx); err != nil {
		return nil, err
	}

	credential, _ := credentialCache.Get(req.ID)
	return &credential, nil
}

func CredentialEnabled(id int, active bool, ctx context.Context) error {
	oldCredential, ok := credentialCache.Get(id)
	if !ok {
		return fmt.Errorf("credential not found")
	}
	if err := db.GetDB().WithContext(ctx).Model(&model.Credential{}).Where("id = ?", id).Update("active", active).Error; err != nil {
		return err
	}
	oldCredential.Active = active
	credentialCache.Set(id, oldCredential)
	return nil
}

func CredentialDel(id int, ctx context.Context) error {
	if _, ok := credentialCache.Get(id); !ok {
		return fmt.Errorf("credential not found")
	}
	if err := db.GetDB().WithContext(ctx).Delete(&model.Credential{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	credentialCache.Del(id)
	return nil
}

func CredentialGet(id int, ctx context.Context) (*model.Credential, error) {
	credential, ok := credentialCache.Get(id)
	if !ok {
		return nil, fmt.Errorf("credential not found")
	}
	return &credential, nil
}

func CredentialStats(ctx context.Context) (model.CredentialStats, error) {
	stats := model.CredentialStats{}
	for _, credential := range credentialCache.GetAll() {
		stats.Total++
		if credential.Active {
			stats.Active++
		}
		stats.TotalUses += credential.UseCount
		stats.TotalErrors += credential.ErrorCount
	}
	stats.Inactive = stats.Total - stats.Active
	if stats.TotalUses > 0 {
		stats.ErrorRate = float64(stats.TotalErrors) / float64(stats.TotalUses)
	}
	return stats, nil
}

// CredentialListActive 从数据库读取可用凭证，按累计成功次数升序
// 调度器刷新缓存时使用，轻度使用的凭证排在前面
func CredentialListActive(ctx context.Context) ([]model.Credential, error) {
	credentials := []model.Credential{}
	if err := db.GetDB().WithContext(ctx).
		Where("active = ?", true).
		Order("use_count ASC").
		Find(&credentials).Error; err != nil {
		return nil, err
	}
	return credentials, nil
}

// CredentialDailyUsage 读取今日用量，返回 (已用次数, 所属日期)
// 日期是否过期由调用方判断
func CredentialDailyUsage(ctx context.Context, id int) (int, string, error) {
	var credential model.Credential
	if err := db.GetDB().WithContext(ctx).
		Select("daily_used", "daily_date").
		First(&credential, id).Error; err != nil {
		return 0, "", err
	}
	return credential.DailyUsed, credential.DailyDate, nil
}

// CredentialMarkUsed 更新凭证使用统计
// 成功: use_count+1, daily_used+1 (跨天先清零); 失败: error_count+1
// 计数使用 SQL 自增表达式，并发下不会丢失更新
func CredentialMarkUsed(ctx context.Context, id int, success bool) error {
	today := time.Now().Format(model.DailyDateLayout)
	now := time.Now()

	err := db.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 跨天重置每日计数
		if err := tx.Model(&model.Credential{}).
			Where("id = ? AND (daily_date IS NULL OR daily_date != ?)", id, today).
			UpdateColumns(map[string]interface{}{
				"daily_used": 0,
				"daily_date": today,
			}).Error; err != nil {
			return err
		}

		if success {
			return tx.Model(&model.Credential{}).
				Where("id = ?", id).
				UpdateColumns(map[string]interface{}{
					"use_count":    gorm.Expr("use_count + 1"),
					"daily_used":   gorm.Expr("daily_used + 1"),
					"daily_date":   today,
					"last_used_at": now,
					"updated_at":   now,
				}).Error
		}
		return tx.Model(&model.Credential{}).
			Where("id = ?", id).
			UpdateColumns(map[string]interface{}{
				"error_count":  gorm.Expr("error_count + 1"),
				"last_used_at": now,
				"updated_at":   now,
			}).Error
	})
	if err != nil {
		return err
	}
	return credentialRefreshCacheByID(id, ctx)
}

func credentialRefreshCache(ctx context.Context) error {
	credentials := []model.Credential{}
	if err := db.GetDB().WithContext(ctx).Find(&credentials).Error; err != nil {
		return err
	}
	credentialCache.Clear()
	for _, credential := range credentials {
		credentialCache.Set(credential.ID, credential)
	}
	return nil
}

func credentialRefreshCacheByID(id int, ctx context.Context) error {
	var credential model.Credential
	if err := db.GetDB().WithContext(ctx).First(&credential, id).Error; err != nil {
		return err
	}
	credentialCache.Set(credential.ID, credential)
	return nil
}

// CredentialStore 将凭证相关的数据库操作适配为调度器的 Store 接口
type CredentialStore struct{}

func (CredentialStore) ListActive(ctx context.Context) ([]model.Credential, error) {
	return CredentialListActive(ctx)
}

func (CredentialStore) DailyUsage(ctx context.Context, id int) (int, string, error) {
	return CredentialDailyUsage(ctx, id)
}

func (CredentialStore) MarkUsed(ctx context.Context, id int, success bool) error {
	return CredentialMarkUsed(ctx, id, success)
}
