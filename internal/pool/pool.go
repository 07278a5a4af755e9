package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mkleve522/zzimage/internal/model"
	"github.com/mkleve522/zzimage/internal/utils/log"
)

// ErrExhausted 所有凭证都不可用或今日额度用尽
var ErrExhausted = errors.New("credential pool exhausted")

const defaultCacheTTL = 30 * time.Second

// Store 调度器依赖的持久层，由 op 包实现
type Store interface {
	// ListActive 返回可用凭证，按累计成功次数升序
	ListActive(ctx context.Context) ([]model.Credential, error)
	// DailyUsage 返回凭证今日用量及其所属日期
	DailyUsage(ctx context.Context, id int) (int, string, error)
	// MarkUsed 记录一次使用结果
	MarkUsed(ctx context.Context, id int, success bool) error
}

// Scheduler 凭证池调度器
// 缓存可用凭证列表并做轮询选取，每日额度在选取时逐个回源核对，
// 所以额度判断永远以数据库为准，缓存只决定轮询顺序
type Scheduler struct {
	store      Store
	dailyQuota int
	ttl        time.Duration
	now        func() time.Time

	mu       sync.Mutex
	creds    []model.Credential
	cursor   int
	cachedAt time.Time
}

type Option func(*Scheduler)

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithCacheTTL 替换凭证列表缓存有效期
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Scheduler) { s.ttl = ttl }
}

// New 创建调度器。dailyQuota <= 0 表示不限额
func New(store Store, dailyQuota int, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      store,
		dailyQuota: dailyQuota,
		ttl:        defaultCacheTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// snapshot 返回当前缓存的凭证列表，过期时重新加载
// 锁只保护缓存字段，数据库查询在锁外执行
func (s *Scheduler) snapshot(ctx context.Context) ([]model.Credential, error) {
	s.mu.Lock()
	if !s.cachedAt.IsZero() && s.now().Sub(s.cachedAt) < s.ttl {
		creds := s.creds
		s.mu.Unlock()
		return creds, nil
	}
	s.mu.Unlock()

	creds, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.creds = creds
	s.cachedAt = s.now()
	// 游标超出新列表长度时从头开始
	if s.cursor >= len(creds) {
		s.cursor = 0
	}
	s.mu.Unlock()
	return creds, nil
}

// Refresh 强制重新加载凭证列表
func (s *Scheduler) Refresh(ctx context.Context) error {
	s.invalidate()
	_, err := s.snapshot(ctx)
	return err
}

func (s *Scheduler) invalidate() {
	s.mu.Lock()
	s.cachedAt = time.Time{}
	s.mu.Unlock()
}

// Select 轮询选出一个今日额度未用尽的凭证
// 每个候选都回源核对当日用量，最多探测一轮；全部超额返回 ErrExhausted
func (s *Scheduler) Select(ctx context.Context) (*model.Credential, error) {
	creds, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, ErrExhausted
	}

	today := s.now().Format(model.DailyDateLayout)

	for probe := 0; probe < len(creds); probe++ {
		s.mu.Lock()
		candidate := creds[s.cursor%len(creds)]
		s.cursor = (s.cursor + 1) % len(creds)
		s.mu.Unlock()

		if s.dailyQuota <= 0 {
			return &candidate, nil
		}

		used, date, err := s.store.DailyUsage(ctx, candidate.ID)
		if err != nil {
			log.Warnf("credential %d daily usage check failed: %v", candidate.ID, err)
			continue
		}
		// 记录日期不是今天说明计数还没滚动，按零计
		if date != today {
			used = 0
		}
		if used < s.dailyQuota {
			return &candidate, nil
		}
	}

	return nil, ErrExhausted
}

// RecordOutcome 记录一次使用结果并让缓存失效
// 下次 Select 会按最新的使用计数重排轮询顺序
func (s *Scheduler) RecordOutcome(ctx context.Context, id int, success bool) error {
	if err := s.store.MarkUsed(ctx, id, success); err != nil {
		return err
	}
	s.invalidate()
	return nil
}

// RemainingQuota 返回单个凭证今日剩余额度，向下截断到 0
// 不限额时返回 -1，结果仅用于展示，不参与调度决策
func (s *Scheduler) RemainingQuota(ctx context.Context, id int) (int, error) {
	if s.dailyQuota <= 0 {
		return -1, nil
	}
	used, date, err := s.store.DailyUsage(ctx, id)
	if err != nil {
		return 0, err
	}
	if date != s.now().Format(model.DailyDateLayout) {
		used = 0
	}
	left := s.dailyQuota - used
	if left < 0 {
		left = 0
	}
	return left, nil
}

// TotalRemainingQuota 统计池内今日剩余可用次数
// 并发下结果可能瞬间过期，同样只用于展示
func (s *Scheduler) TotalRemainingQuota(ctx context.Context) (int, error) {
	creds, err := s.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	if s.dailyQuota <= 0 {
		return -1, nil
	}

	remaining := 0
	for _, cred := range creds {
		left, err := s.RemainingQuota(ctx, cred.ID)
		if err != nil {
			return 0, err
		}
		remaining += left
	}
	return remaining, nil
}

// Size 返回当前缓存中的可用凭证数
func (s *Scheduler) Size(ctx context.Context) (int, error) {
	creds, err := s.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return len(creds), nil
}
