package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mkleve522/zzimage/internal/generate"
	"github.com/mkleve522/zzimage/internal/model"
	"github.com/mkleve522/zzimage/internal/op"
	"github.com/mkleve522/zzimage/internal/server/middleware"
	"github.com/mkleve522/zzimage/internal/server/resp"
	"github.com/mkleve522/zzimage/internal/server/router"
	"github.com/mkleve522/zzimage/internal/upstream"
	"github.com/mkleve522/zzimage/internal/utils/log"
)

func init() {
	router.NewGroupRouter("").
		AddRoute(
			router.NewRoute("/health", http.MethodGet).
				Handle(health),
		)
	router.NewGroupRouter("/api").
		Use(middleware.RequireJSON()).
		AddRoute(
			router.NewRoute("/generate", http.MethodPost).
				Handle(generateImage),
		).
		AddRoute(
			router.NewRoute("/generate/presets", http.MethodGet).
				Handle(listPresets),
		)
}

func health(c *gin.Context) {
	resp.Success(c, gin.H{"status": "ok"})
}

func listPresets(c *gin.Context) {
	configs, err := op.ModelConfigList(c.Request.Context())
	if err != nil {
		resp.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Success(c, configs)
}

type generateResponse struct {
	B64JSON  string `json:"b64_json,omitempty"`
	URL      string `json:"url,omitempty"`
	Created  int64  `json:"created"`
	Duration int64  `json:"duration"` // 毫秒
}

func generateImage(c *gin.Context) {
	var req generate.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error(c, http.StatusBadRequest, resp.ErrInvalidJSON)
		return
	}

	result, err := doGenerate(c.Request.Context(), req, 0)
	if err != nil {
		status, message := generateErrorStatus(err)
		resp.Error(c, status, message)
		return
	}
	resp.Success(c, generateResponse{
		B64JSON:  result.B64JSON,
		URL:      result.URL,
		Created:  result.Created,
		Duration: result.Duration.Milliseconds(),
	})
}

// doGenerate 执行一次生成并记录日志，apiKeyID 为 0 表示管理端调用
func doGenerate(ctx context.Context, req generate.Request, apiKeyID int) (*generate.Result, error) {
	// 先补默认值再校验，日志里记的是实际生效的尺寸
	if err := generator.Validate(&req); err != nil {
		return nil, err
	}

	result, attempts, err := generator.Generate(ctx, req)

	if genLog, ok := buildGenerationLog(req, result, attempts, err, apiKeyID); ok {
		if logErr := op.GenLogAdd(ctx, genLog); logErr != nil {
			log.Warnf("failed to record generation log: %v", logErr)
		}
	}

	return result, err
}

// buildGenerationLog 组装一条生成日志
// 没有消耗任何凭证的请求（校验失败、池为空）不产生日志
func buildGenerationLog(req generate.Request, result *generate.Result, attempts []model.CredentialAttempt, err error, apiKeyID int) (model.GenerationLog, bool) {
	if len(attempts) == 0 {
		return model.GenerationLog{}, false
	}

	genLog := model.GenerationLog{
		Time:     time.Now().Unix(),
		Prompt:   req.Prompt,
		Width:    req.Width,
		Height:   req.Height,
		APIKeyID: apiKeyID,
		Attempts: attempts,
	}
	if err != nil {
		genLog.Status = model.GenStatusFailed
		genLog.Error = err.Error()
		genLog.CredentialID = attempts[len(attempts)-1].CredentialID
	} else {
		genLog.Status = model.GenStatusSuccess
		genLog.CredentialID = result.CredentialID
		genLog.ImageURL = result.URL
	}
	return genLog, true
}

func generateErrorStatus(err error) (int, string) {
	var vErr *generate.ValidationError
	if errors.As(err, &vErr) {
		return http.StatusBadRequest, vErr.Error()
	}
	var exhausted *generate.PoolExhaustedError
	if errors.As(err, &exhausted) {
		return http.StatusServiceUnavailable, exhausted.Error()
	}
	var failure *upstream.Failure
	if errors.As(err, &failure) && failure.Kind == upstream.KindBadRequest {
		return http.StatusBadRequest, failure.Message
	}
	return http.StatusBadGateway, err.Error()
}
