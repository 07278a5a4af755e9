package generate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mkleve522/zzimage/internal/model"
	"github.com/mkleve522/zzimage/internal/upstream"
)

type outcome struct {
	id      int
	success bool
}

type fakePool struct {
	creds    []model.Credential
	cursor   int
	selects  int
	outcomes []outcome
}

func (f *fakePool) Select(ctx context.Context) (*model.Credential, error) {
	f.selects++
	if len(f.creds) == 0 {
		return nil, ErrPoolExhausted
	}
	cred := f.creds[f.cursor%len(f.creds)]
	f.cursor++
	return &cred, nil
}

func (f *fakePool) RecordOutcome(ctx context.Context, id int, success bool) error {
	f.outcomes = append(f.outcomes, outcome{id: id, success: success})
	return nil
}

// fakeBackend 按脚本顺序返回结果，nil 表示成功
type fakeBackend struct {
	script []error
	calls  int
}

func (f *fakeBackend) Generate(ctx context.Context, credential *model.Credential, req upstream.Request) (*upstream.Result, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.script) && f.script[idx] != nil {
		return nil, f.script[idx]
	}
	return &upstream.Result{B64JSON: "aW1n", Created: 1}, nil
}

func testOptions() Options {
	return Options{
		DefaultModel:         "z-image-turbo",
		DefaultSteps:         9,
		MaxRetries:           3,
		MaxCredentialRetries: 3,
		RetryDelay:           time.Millisecond,
		MinSize:              256,
		MaxSize:              2048,
		MaxPromptLen:         4000,
		MaxNegativePromptLen: 2000,
		MinSteps:             1,
		MaxSteps:             50,
	}
}

func newTestGenerator(p *fakePool, b *fakeBackend) *Generator {
	g := New(p, b, testOptions())
	g.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return g
}

func failure(kind upstream.FailureKind, msg string) *upstream.Failure {
	return &upstream.Failure{Kind: kind, Message: msg}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{name: "empty prompt", req: Request{Prompt: ""}, field: "prompt"},
		{name: "prompt too long", req: Request{Prompt: strings.Repeat("a", 4001)}, field: "prompt"},
		{name: "negative prompt too long", req: Request{Prompt: "cat", NegativePrompt: strings.Repeat("b", 2001)}, field: "negative_prompt"},
		{name: "width too small", req: Request{Prompt: "cat", Width: 128, Height: 512}, field: "size"},
		{name: "height too large", req: Request{Prompt: "cat", Width: 512, Height: 4096}, field: "size"},
		{name: "steps too large", req: Request{Prompt: "cat", Steps: 51}, field: "steps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePool{creds: []model.Credential{{ID: 1}}}
			b := &fakeBackend{}
			g := newTestGenerator(p, b)

			_, _, err := g.Generate(context.Background(), tt.req)

			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if vErr.Field != tt.field {
				t.Errorf("field = %s, want %s", vErr.Field, tt.field)
			}
			// 校验失败不应该碰凭证池和上游
			if p.selects != 0 || b.calls != 0 {
				t.Errorf("selects = %d, backend calls = %d, want 0", p.selects, b.calls)
			}
		})
	}
}

func TestValidationAppliesDefaults(t *testing.T) {
	g := New(&fakePool{}, &fakeBackend{}, testOptions())
	req := Request{Prompt: "cat"}
	if err := g.Validate(&req); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if req.Model != "z-image-turbo" || req.Width != 1024 || req.Height != 1024 || req.Steps != 9 {
		t.Errorf("defaults not applied: %+v", req)
	}
}

func TestGenerateFirstTrySuccess(t *testing.T) {
	p := &fakePool{creds: []model.Credential{{ID: 7}}}
	b := &fakeBackend{}
	g := newTestGenerator(p, b)

	result, attempts, err := g.Generate(context.Background(), Request{Prompt: "cat"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.CredentialID != 7 {
		t.Errorf("credential id = %d, want 7", result.CredentialID)
	}
	if b.calls != 1 {
		t.Errorf("backend calls = %d, want 1", b.calls)
	}
	if len(attempts) != 1 || !attempts[0].Success || attempts[0].Retries != 0 {
		t.Errorf("attempts = %+v", attempts)
	}
	if len(p.outcomes) != 1 || p.outcomes[0] != (outcome{id: 7, success: true}) {
		t.Errorf("outcomes = %+v", p.outcomes)
	}
}

func TestGenerateRateLimitedRetriesSameCredential(t *testing.T) {
	p := &fakePool{creds: []model.Credential{{ID: 1}}}
	b := &fakeBackend{script: []error{
		failure(upstream.KindRateLimited, "slow down"),
		failure(upstream.KindRateLimited, "slow down"),
		nil,
	}}
	g := newTestGenerator(p, b)

	result, attempts, err := g.Generate(context.Background(), Request{Prompt: "cat"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.CredentialID != 1 {
		t.Errorf("credential id = %d, want 1", result.CredentialID)
	}
	if b.calls != 3 {
		t.Errorf("backend calls = %d, want 3", b.calls)
	}
	// 同一凭证的重试只产生一条尝试记录和一次记账
	if len(attempts) != 1 || attempts[0].Retries != 2 || !attempts[0].Success {
		t.Errorf("attempts = %+v", attempts)
	}
	if len(p.outcomes) != 1 || !p.outcomes[0].success {
		t.Errorf("outcomes = %+v", p.outcomes)
	}
}

func TestGenerateAuthInvalidFailsOver(t *testing.T) {
	p := &fakePool{creds: []model.Credential{{ID: 1}, {ID: 2}}}
	b := &fakeBackend{script: []error{
		failure(upstream.KindAuthInvalid, "invalid token"),
		nil,
	}}
	g := newTestGenerator(p, b)

	result, attempts, err := g.Generate(context.Background(), Request{Prompt: "cat"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.CredentialID != 2 {
		t.Errorf("credential id = %d, want 2", result.CredentialID)
	}
	// 凭证失效不做同凭证重试
	if b.calls != 2 {
		t.Errorf("backend calls = %d, want 2", b.calls)
	}
	if len(attempts) != 2 {
		t.Fatalf("attempts = %+v", attempts)
	}
	if attempts[0].Success || attempts[0].CredentialID != 1 {
		t.Errorf("attempt[0] = %+v", attempts[0])
	}
	if !attempts[1].Success || attempts[1].CredentialID != 2 {
		t.Errorf("attempt[1] = %+v", attempts[1])
	}
	want := []outcome{{id: 1, success: false}, {id: 2, success: true}}
	if len(p.outcomes) != 2 || p.outcomes[0] != want[0] || p.outcomes[1] != want[1] {
		t.Errorf("outcomes = %+v, want %+v", p.outcomes, want)
	}
}

func TestGenerateAuthInvalidSkipsCredentialForRequest(t *testing.T) {
	// 池里只有一个失效凭证：第二轮选取时它已被跳过
	p := &fakePool{creds: []model.Credential{{ID: 1}}}
	b := &fakeBackend{script: []error{
		failure(upstream.KindAuthInvalid, "invalid token"),
	}}
	g := newTestGenerator(p, b)

	_, attempts, err := g.Generate(context.Background(), Request{Prompt: "cat"})

	var exhausted *PoolExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want PoolExhaustedError", err)
	}
	if !strings.Contains(exhausted.Error(), "invalid token") {
		t.Errorf("error %q should carry last upstream message", exhausted.Error())
	}
	if b.calls != 1 {
		t.Errorf("backend calls = %d, want 1", b.calls)
	}
	if len(attempts) != 1 {
		t.Errorf("attempts = %+v", attempts)
	}
}

func TestGenerateBadRequestFailsImmediately(t *testing.T) {
	p := &fakePool{creds: []model.Credential{{ID: 1}, {ID: 2}}}
	b := &fakeBackend{script: []error{
		failure(upstream.KindBadRequest, "prompt rejected"),
	}}
	g := newTestGenerator(p, b)

	_, attempts, err := g.Generate(context.Background(), Request{Prompt: "cat"})

	var fail *upstream.Failure
	if !errors.As(err, &fail) || fail.Kind != upstream.KindBadRequest {
		t.Fatalf("err = %v, want bad request failure", err)
	}
	if b.calls != 1 {
		t.Errorf("backend calls = %d, want 1", b.calls)
	}
	if len(p.outcomes) != 1 || p.outcomes[0].success {
		t.Errorf("outcomes = %+v", p.outcomes)
	}
	if len(attempts) != 1 {
		t.Errorf("attempts = %+v", attempts)
	}
}

func TestGenerateServerErrorFailsOverWithoutRetry(t *testing.T) {
	p := &fakePool{creds: []model.Credential{{ID: 1}, {ID: 2}}}
	b := &fakeBackend{script: []error{
		failure(upstream.KindServerError, "boom"),
		nil,
	}}
	g := newTestGenerator(p, b)

	result, _, err := g.Generate(context.Background(), Request{Prompt: "cat"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.CredentialID != 2 {
		t.Errorf("credential id = %d, want 2", result.CredentialID)
	}
	if b.calls != 2 {
		t.Errorf("backend calls = %d, want 2", b.calls)
	}
}

func TestGenerateTransportRetriesThenFailsOver(t *testing.T) {
	p := &fakePool{creds: []model.Credential{{ID: 1}, {ID: 2}}}
	b := &fakeBackend{script: []error{
		failure(upstream.KindTransport, "connection reset"),
		failure(upstream.KindTransport, "connection reset"),
		failure(upstream.KindTransport, "connection reset"),
		nil,
	}}
	g := newTestGenerator(p, b)

	result, attempts, err := g.Generate(context.Background(), Request{Prompt: "cat"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if result.CredentialID != 2 {
		t.Errorf("credential id = %d, want 2", result.CredentialID)
	}
	// 凭证 1 用满 3 次后才换凭证 2
	if b.calls != 4 {
		t.Errorf("backend calls = %d, want 4", b.calls)
	}
	if len(attempts) != 2 || attempts[0].Retries != 2 {
		t.Errorf("attempts = %+v", attempts)
	}
}

func TestGenerateEmptyPool(t *testing.T) {
	p := &fakePool{}
	b := &fakeBackend{}
	g := newTestGenerator(p, b)

	_, _, err := g.Generate(context.Background(), Request{Prompt: "cat"})

	var exhausted *PoolExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want PoolExhaustedError", err)
	}
	if b.calls != 0 {
		t.Errorf("backend calls = %d, want 0", b.calls)
	}
}

func TestGenerateAllRoundsFail(t *testing.T) {
	p := &fakePool{creds: []model.Credential{{ID: 1}, {ID: 2}, {ID: 3}}}
	b := &fakeBackend{script: []error{
		failure(upstream.KindServerError, "boom 1"),
		failure(upstream.KindServerError, "boom 2"),
		failure(upstream.KindServerError, "boom 3"),
	}}
	g := newTestGenerator(p, b)

	_, attempts, err := g.Generate(context.Background(), Request{Prompt: "cat"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "boom 3") {
		t.Errorf("error %q should carry last upstream message", err.Error())
	}
	if len(attempts) != 3 {
		t.Errorf("attempts = %+v", attempts)
	}
	if len(p.outcomes) != 3 {
		t.Errorf("outcomes = %+v", p.outcomes)
	}
	for _, o := range p.outcomes {
		if o.success {
			t.Errorf("unexpected success outcome: %+v", o)
		}
	}
}
