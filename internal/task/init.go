package task

import (
	"context"
	"time"

	"github.com/mkleve522/zzimage/internal/op"
	"github.com/mkleve522/zzimage/internal/utils/log"
)

const (
	TaskGenLogSave = "gen_log_save"
)

func Init() {
	// 注册生成日志保存任务，顺带按保留期清理历史日志
	Register(TaskGenLogSave, 10*time.Minute, false, func() {
		if err := op.GenLogSaveDBTask(context.Background()); err != nil {
			log.Warnf("generation log save db task failed: %v", err)
		}
	})
}
