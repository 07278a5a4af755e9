package generate

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mkleve522/zzimage/internal/conf"
	"github.com/mkleve522/zzimage/internal/model"
	"github.com/mkleve522/zzimage/internal/pool"
	"github.com/mkleve522/zzimage/internal/upstream"
	"github.com/mkleve522/zzimage/internal/utils/log"
)

// Pool 凭证调度接口，由 pool.Scheduler 实现
type Pool interface {
	Select(ctx context.Context) (*model.Credential, error)
	RecordOutcome(ctx context.Context, id int, success bool) error
}

// Backend 上游单次调用接口，由 upstream.Adapter 实现
type Backend interface {
	Generate(ctx context.Context, credential *model.Credential, req upstream.Request) (*upstream.Result, error)
}

// ErrPoolExhausted 池内没有可用凭证时的选取错误，与 pool 包共用同一个哨兵
var ErrPoolExhausted = pool.ErrExhausted

// ValidationError 请求参数不合法
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// PoolExhaustedError 所有凭证都试过或额度用尽，携带最后一次上游错误
type PoolExhaustedError struct {
	Last error
}

func (e *PoolExhaustedError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("no usable credential: %v", e.Last)
	}
	return "no usable credential"
}

func (e *PoolExhaustedError) Unwrap() error { return e.Last }

// Request 一次文生图请求，空字段会在校验阶段填入默认值
type Request struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Model          string `json:"model"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Steps          int    `json:"steps"`
}

// Result 生成成功的结果
type Result struct {
	B64JSON      string
	URL          string
	Created      int64
	CredentialID int
	Duration     time.Duration
}

// Options 编排参数，零值字段在 New 中补默认
type Options struct {
	DefaultModel  string
	DefaultSteps  int
	DefaultWidth  int
	DefaultHeight int

	// MaxRetries 同一凭证的最大尝试次数
	MaxRetries int
	// MaxCredentialRetries 最多换用几个凭证
	MaxCredentialRetries int
	// RetryDelay 重试基础延迟，实际等待为 delay * 已重试次数
	RetryDelay time.Duration

	MinSize              int
	MaxSize              int
	MaxPromptLen         int
	MaxNegativePromptLen int
	MinSteps             int
	MaxSteps             int
}

// OptionsFromConf 从全局配置构造编排参数
func OptionsFromConf(c conf.Generate) Options {
	return Options{
		DefaultModel:         c.DefaultModel,
		DefaultSteps:         c.DefaultSteps,
		MaxRetries:           c.MaxRetries,
		MaxCredentialRetries: c.MaxCredentialRetries,
		RetryDelay:           time.Duration(c.RetryDelayMs) * time.Millisecond,
		MinSize:              c.MinSize,
		MaxSize:              c.MaxSize,
		MaxPromptLen:         c.MaxPromptLen,
		MaxNegativePromptLen: c.MaxNegativePromptLen,
		MinSteps:             c.MinSteps,
		MaxSteps:             c.MaxSteps,
	}
}

// Generator 生成编排器
// 外层按凭证做故障转移，内层对同一凭证做有限重试，
// 每个用过的凭证恰好记录一次使用结果
type Generator struct {
	pool    Pool
	backend Backend
	opts    Options
	sleep   func(ctx context.Context, d time.Duration) error
}

func New(pool Pool, backend Backend, opts Options) *Generator {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.MaxCredentialRetries <= 0 {
		opts.MaxCredentialRetries = 3
	}
	if opts.DefaultWidth <= 0 {
		opts.DefaultWidth = 1024
	}
	if opts.DefaultHeight <= 0 {
		opts.DefaultHeight = 1024
	}
	if opts.DefaultSteps <= 0 {
		opts.DefaultSteps = 9
	}
	return &Generator{
		pool:    pool,
		backend: backend,
		opts:    opts,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Generate 执行一次完整的生成：校验、选凭证、调用上游、记账
// 返回的 attempts 按时间顺序记录每个凭证的最终结果，成功失败都会返回
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, []model.CredentialAttempt, error) {
	if err := g.Validate(&req); err != nil {
		return nil, nil, err
	}

	skipped := make(map[int]bool)
	attempts := make([]model.CredentialAttempt, 0, g.opts.MaxCredentialRetries)
	var lastErr error

	for round := 1; round <= g.opts.MaxCredentialRetries; round++ {
		credential, err := g.selectCredential(ctx, skipped)
		if err != nil {
			if errors.Is(err, ErrPoolExhausted) {
				return nil, attempts, &PoolExhaustedError{Last: lastErr}
			}
			return nil, attempts, err
		}

		start := time.Now()
		result, retries, callErr := g.tryCredential(ctx, credential, req)
		duration := time.Since(start)

		attempt := model.CredentialAttempt{
			CredentialID: credential.ID,
			Round:        round,
			Retries:      retries,
			Success:      callErr == nil,
			Duration:     int(duration.Milliseconds()),
		}
		if callErr != nil {
			attempt.Error = callErr.Error()
		}
		attempts = append(attempts, attempt)

		if recErr := g.pool.RecordOutcome(ctx, credential.ID, callErr == nil); recErr != nil {
			log.Warnf("record credential %d outcome failed: %v", credential.ID, recErr)
		}

		if callErr == nil {
			return &Result{
				B64JSON:      result.B64JSON,
				URL:          result.URL,
				Created:      result.Created,
				CredentialID: credential.ID,
				Duration:     duration,
			}, attempts, nil
		}

		lastErr = callErr
		var failure *upstream.Failure
		if errors.As(callErr, &failure) {
			switch failure.Kind {
			case upstream.KindAuthInvalid:
				// 失效凭证在本次请求内不再选中
				skipped[credential.ID] = true
			case upstream.KindBadRequest:
				// 请求本身的问题，换凭证没有意义
				return nil, attempts, callErr
			}
		}
	}

	return nil, attempts, fmt.Errorf("generation failed after %d credentials: %w", g.opts.MaxCredentialRetries, lastErr)
}

// selectCredential 选出一个本次请求内未被跳过的凭证
// 轮询每次前进一位，多探测 len(skipped) 次就能越过所有被跳过的凭证
func (g *Generator) selectCredential(ctx context.Context, skipped map[int]bool) (*model.Credential, error) {
	for probe := 0; probe <= len(skipped); probe++ {
		credential, err := g.pool.Select(ctx)
		if err != nil {
			return nil, err
		}
		if !skipped[credential.ID] {
			return credential, nil
		}
	}
	return nil, ErrPoolExhausted
}

// tryCredential 用同一个凭证尝试调用上游，限流和网络错误线性退避后重试
// 返回值 retries 是实际重试次数（首次调用不算）
func (g *Generator) tryCredential(ctx context.Context, credential *model.Credential, req Request) (*upstream.Result, int, error) {
	upReq := upstream.Request{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Model:          req.Model,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
	}

	retries := 0
	var lastErr error

	for attempt := 1; attempt <= g.opts.MaxRetries; attempt++ {
		result, err := g.backend.Generate(ctx, credential, upReq)
		if err == nil {
			return result, retries, nil
		}
		lastErr = err

		var failure *upstream.Failure
		retriable := errors.As(err, &failure) &&
			(failure.Kind == upstream.KindRateLimited || failure.Kind == upstream.KindTransport)
		if !retriable || attempt == g.opts.MaxRetries {
			break
		}

		retries++
		if err := g.sleep(ctx, g.opts.RetryDelay*time.Duration(attempt)); err != nil {
			return nil, retries, lastErr
		}
	}

	return nil, retries, lastErr
}

// Validate 填入默认值并校验参数
// 调用方可以先行调用拿到实际生效的尺寸和步数，Generate 内部也会执行
func (g *Generator) Validate(req *Request) error {
	if req.Model == "" {
		req.Model = g.opts.DefaultModel
	}
	if req.Width == 0 {
		req.Width = g.opts.DefaultWidth
	}
	if req.Height == 0 {
		req.Height = g.opts.DefaultHeight
	}
	if req.Steps == 0 {
		req.Steps = g.opts.DefaultSteps
	}

	promptLen := utf8.RuneCountInString(req.Prompt)
	if promptLen == 0 {
		return &ValidationError{Field: "prompt", Message: "must not be empty"}
	}
	if g.opts.MaxPromptLen > 0 && promptLen > g.opts.MaxPromptLen {
		return &ValidationError{Field: "prompt", Message: fmt.Sprintf("exceeds %d characters", g.opts.MaxPromptLen)}
	}
	if g.opts.MaxNegativePromptLen > 0 && utf8.RuneCountInString(req.NegativePrompt) > g.opts.MaxNegativePromptLen {
		return &ValidationError{Field: "negative_prompt", Message: fmt.Sprintf("exceeds %d characters", g.opts.MaxNegativePromptLen)}
	}
	if g.opts.MinSize > 0 && (req.Width < g.opts.MinSize || req.Height < g.opts.MinSize) {
		return &ValidationError{Field: "size", Message: fmt.Sprintf("width and height must be at least %d", g.opts.MinSize)}
	}
	if g.opts.MaxSize > 0 && (req.Width > g.opts.MaxSize || req.Height > g.opts.MaxSize) {
		return &ValidationError{Field: "size", Message: fmt.Sprintf("width and height must be at most %d", g.opts.MaxSize)}
	}
	if g.opts.MinSteps > 0 && req.Steps < g.opts.MinSteps {
		return &ValidationError{Field: "steps", Message: fmt.Sprintf("must be at least %d", g.opts.MinSteps)}
	}
	if g.opts.MaxSteps > 0 && req.Steps > g.opts.MaxSteps {
		return &ValidationError{Field: "steps", Message: fmt.Sprintf("must be at most %d", g.opts.MaxSteps)}
	}
	return nil
}
