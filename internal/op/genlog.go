package op

import (
	"context"
	"sync"
	"time"

	"github.com/mkleve522/zzimage/internal/db"
	"github.com/mkleve522/zzimage/internal/model"
	"github.com/mkleve522/zzimage/internal/utils/log"
	"github.com/mkleve522/zzimage/internal/utils/snowflake"
)

const genLogMaxSize = 20
const genLogMaxSizeNoDB = 100 // 当不保存到数据库时，允许更大的缓存用于实时查询

var genLogCache = make([]model.GenerationLog, 0, genLogMaxSize)
var genLogCacheLock sync.Mutex

var genLogFlushLock sync.Mutex

func genLogFlushToDB(ctx context.Context) error {
	genLogFlushLock.Lock()
	defer genLogFlushLock.Unlock()

	genLogCacheLock.Lock()
	if len(genLogCache) == 0 {
		genLogCacheLock.Unlock()
		return nil
	}
	batch := make([]model.GenerationLog, len(genLogCache))
	copy(batch, genLogCache)
	flushedUpto := len(batch)
	genLogCacheLock.Unlock()

	result := db.GetDB().WithContext(ctx).Create(&batch)
	if result.Error != nil {
		return result.Error
	}

	genLogCacheLock.Lock()
	if len(genLogCache) >= flushedUpto {
		genLogCache = genLogCache[flushedUpto:]
	} else {
		genLogCache = genLogCache[:0]
	}
	if len(genLogCache) == 0 {
		genLogCache = make([]model.GenerationLog, 0, genLogMaxSize)
	}
	genLogCacheLock.Unlock()

	return nil
}

func GenLogAdd(ctx context.Context, genLog model.GenerationLog) error {
	enabled, err := SettingGetBool(model.SettingKeyGenLogKeepEnabled)
	if err != nil {
		return err
	}
	maxSize := genLogMaxSize
	if !enabled {
		maxSize = genLogMaxSizeNoDB
	}
	genLog.ID = snowflake.GenerateID()

	genLogCacheLock.Lock()
	genLogCache = append(genLogCache, genLog)
	if len(genLogCache) >= maxSize {
		if enabled {
			genLogCacheLock.Unlock()
			return genLogFlushToDB(ctx)
		}
		// 如果未启用日志保存，移除最旧的日志，保留最新的日志用于实时查询
		keepSize := maxSize / 2
		if len(genLogCache) > keepSize {
			genLogCache = genLogCache[len(genLogCache)-keepSize:]
		}
	}
	genLogCacheLock.Unlock()
	return nil
}

func GenLogSaveDBTask(ctx context.Context) error {
	log.Debugf("generation log save db task started")
	startTime := time.Now()
	defer func() {
		log.Debugf("generation log save db task finished, save time: %s", time.Since(startTime))
	}()
	enabled, err := SettingGetBool(model.SettingKeyGenLogKeepEnabled)
	if err != nil {
		return err
	}

	if enabled {
		if err := genLogFlushToDB(ctx); err != nil {
			return err
		}
		return genLogCleanup(ctx)
	}

	// 如果未启用日志保存，检查缓存大小，如果超过限制则清理旧日志
	genLogCacheLock.Lock()
	if len(genLogCache) > genLogMaxSizeNoDB {
		keepSize := genLogMaxSizeNoDB / 2
		genLogCache = genLogCache[len(genLogCache)-keepSize:]
	}
	genLogCacheLock.Unlock()

	return nil
}

func genLogCleanup(ctx context.Context) error {
	keepPeriod, err := SettingGetInt(model.SettingKeyGenLogKeepPeriod)
	if err != nil {
		return err
	}

	if keepPeriod <= 0 {
		return nil
	}

	cutoffTime := time.Now().Add(-time.Duration(keepPeriod) * 24 * time.Hour).Unix()
	return db.GetDB().WithContext(ctx).Where("time < ?", cutoffTime).Delete(&model.GenerationLog{}).Error
}

// GenLogList 查询日志列表，支持可选的时间范围过滤
// startTime 和 endTime 为 nil 时表示不限制时间范围
func GenLogList(ctx context.Context, startTime, endTime *int, page, pageSize int) ([]model.GenerationLog, error) {
	enabled, err := SettingGetBool(model.SettingKeyGenLogKeepEnabled)
	if err != nil {
		return nil, err
	}
	hasTimeFilter := startTime != nil && endTime != nil

	// 获取缓存中符合条件的日志
	genLogCacheLock.Lock()
	var cachedLogs []model.GenerationLog
	for _, genLog := range genLogCache {
		if hasTimeFilter {
			if genLog.Time >= int64(*startTime) && genLog.Time <= int64(*endTime) {
				cachedLogs = append(cachedLogs, genLog)
			}
		} else {
			cachedLogs = append(cachedLogs, genLog)
		}
	}
	genLogCacheLock.Unlock()

	// 反转缓存日志顺序（原本新的在末尾，反转后新的在前面，方便分页）
	for i, j := 0, len(cachedLogs)-1; i < j; i, j = i+1, j-1 {
		cachedLogs[i], cachedLogs[j] = cachedLogs[j], cachedLogs[i]
	}

	cacheCount := len(cachedLogs)
	offset := (page - 1) * pageSize

	var result []model.GenerationLog

	// 先从缓存中取（缓存是最新的日志）
	if offset < cacheCount {
		cacheEnd := offset + pageSize
		if cacheEnd > cacheCount {
			cacheEnd = cacheCount
		}
		result = append(result, cachedLogs[offset:cacheEnd]...)
	}

	// 如果启用了日志保存，缓存不够时从数据库补充
	if enabled {
		remaining := pageSize - len(result)
		if remaining > 0 {
			dbOffset := 0
			if offset > cacheCount {
				dbOffset = offset - cacheCount
			}

			query := db.GetDB().WithContext(ctx)
			if hasTimeFilter {
				query = query.Where("time >= ? AND time <= ?", *startTime, *endTime)
			}

			var dbLogs []model.GenerationLog
			if err := query.Order("id DESC").Offset(dbOffset).Limit(remaining).Find(&dbLogs).Error; err != nil {
				return nil, err
			}
			result = append(result, dbLogs...)
		}
	}

	return result, nil
}

func GenLogClear(ctx context.Context) error {
	genLogCacheLock.Lock()
	genLogCache = make([]model.GenerationLog, 0, genLogMaxSize)
	genLogCacheLock.Unlock()
	return db.GetDB().WithContext(ctx).Where("1 = 1").Delete(&model.GenerationLog{}).Error
}
