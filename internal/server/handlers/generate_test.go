package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkleve522/zzimage/internal/generate"
	"github.com/mkleve522/zzimage/internal/model"
	"github.com/mkleve522/zzimage/internal/upstream"
)

type stubPool struct {
	cred *model.Credential
}

func (p stubPool) Select(ctx context.Context) (*model.Credential, error) {
	if p.cred == nil {
		return nil, generate.ErrPoolExhausted
	}
	return p.cred, nil
}

func (p stubPool) RecordOutcome(ctx context.Context, id int, success bool) error {
	return nil
}

type stubBackend struct {
	err error
}

func (b stubBackend) Generate(ctx context.Context, credential *model.Credential, req upstream.Request) (*upstream.Result, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &upstream.Result{B64JSON: "aW1n", Created: 1}, nil
}

func newTestGenerator(p stubPool, b stubBackend) *generate.Generator {
	return generate.New(p, b, generate.Options{
		DefaultModel:         "z-image-turbo",
		MaxRetries:           1,
		MaxCredentialRetries: 1,
		RetryDelay:           time.Millisecond,
		MinSize:              256,
		MaxSize:              2048,
		MaxPromptLen:         4000,
		MaxNegativePromptLen: 2000,
		MinSteps:             1,
		MaxSteps:             50,
	})
}

func TestBuildGenerationLogSkippedWithoutCredentialUse(t *testing.T) {
	req := generate.Request{Prompt: "a cat", Width: 1024, Height: 1024}
	_, ok := buildGenerationLog(req, nil, nil, &generate.PoolExhaustedError{}, 0)
	if ok {
		t.Fatal("request that never used a credential must not produce a log entry")
	}
}

func TestDoGenerateEmptyPool(t *testing.T) {
	Init(newTestGenerator(stubPool{}, stubBackend{}), nil)

	_, err := doGenerate(context.Background(), generate.Request{Prompt: "a cat"}, 0)
	var exhausted *generate.PoolExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want PoolExhaustedError", err)
	}
}

func TestBuildGenerationLogEffectiveSize(t *testing.T) {
	g := newTestGenerator(stubPool{cred: &model.Credential{ID: 3}}, stubBackend{})

	// 默认值在校验阶段填入，日志必须记录生效后的尺寸
	req := generate.Request{Prompt: "a cat"}
	if err := g.Validate(&req); err != nil {
		t.Fatalf("validate: %v", err)
	}
	result, attempts, err := g.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	genLog, ok := buildGenerationLog(req, result, attempts, nil, 5)
	if !ok {
		t.Fatal("successful generation must produce a log entry")
	}
	if genLog.Width != 1024 || genLog.Height != 1024 {
		t.Errorf("logged size = %dx%d, want 1024x1024", genLog.Width, genLog.Height)
	}
	if genLog.Status != model.GenStatusSuccess {
		t.Errorf("status = %s, want %s", genLog.Status, model.GenStatusSuccess)
	}
	if genLog.CredentialID != 3 || genLog.APIKeyID != 5 {
		t.Errorf("credential/key = %d/%d, want 3/5", genLog.CredentialID, genLog.APIKeyID)
	}
}

func TestBuildGenerationLogFailure(t *testing.T) {
	attempts := []model.CredentialAttempt{
		{CredentialID: 1, Round: 1, Error: "server error"},
		{CredentialID: 2, Round: 2, Error: "boom"},
	}
	req := generate.Request{Prompt: "a cat", Width: 512, Height: 512}

	genLog, ok := buildGenerationLog(req, nil, attempts, errors.New("boom"), 0)
	if !ok {
		t.Fatal("failed generation with attempts must produce a log entry")
	}
	if genLog.Status != model.GenStatusFailed {
		t.Errorf("status = %s, want %s", genLog.Status, model.GenStatusFailed)
	}
	if genLog.CredentialID != 2 {
		t.Errorf("credential = %d, want last attempted 2", genLog.CredentialID)
	}
	if genLog.Error != "boom" {
		t.Errorf("error = %q, want %q", genLog.Error, "boom")
	}
}
