package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mkleve522/zzimage/internal/client"
	"github.com/mkleve522/zzimage/internal/model"
)

// FailureKind 上游调用失败的分类，决定编排器的重试策略
type FailureKind int

const (
	// KindRateLimited 限流，同凭证退避后可重试
	KindRateLimited FailureKind = iota
	// KindAuthInvalid 凭证失效，本次请求内不再使用该凭证
	KindAuthInvalid
	// KindBadRequest 请求本身不合法，重试无意义
	KindBadRequest
	// KindTransport 网络层错误，先重试再换凭证
	KindTransport
	// KindServerError 上游服务端错误，直接换凭证
	KindServerError
)

func (k FailureKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAuthInvalid:
		return "auth_invalid"
	case KindBadRequest:
		return "bad_request"
	case KindTransport:
		return "transport"
	case KindServerError:
		return "server_error"
	}
	return "unknown"
}

// Failure 带分类的上游错误
type Failure struct {
	Kind    FailureKind
	Status  int
	Message string
}

func (f *Failure) Error() string {
	if f.Status > 0 {
		return fmt.Sprintf("upstream %s (status %d): %s", f.Kind, f.Status, f.Message)
	}
	return fmt.Sprintf("upstream %s: %s", f.Kind, f.Message)
}

// Request 单次文生图调用参数，调用方负责校验
type Request struct {
	Prompt         string
	NegativePrompt string
	Model          string
	Width          int
	Height         int
	Steps          int
}

// Result 上游返回的一张图
type Result struct {
	Created int64
	B64JSON string
	URL     string
}

type generationBody struct {
	Prompt            string `json:"prompt"`
	Model             string `json:"model"`
	Size              string `json:"size"`
	NumInferenceSteps int    `json:"num_inference_steps"`
	NegativePrompt    string `json:"negative_prompt,omitempty"`
}

type generationResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// Adapter 封装对上游文生图接口的单次调用，不做任何重试
type Adapter struct {
	baseURL string
	timeout time.Duration
}

func New(baseURL string, timeout time.Duration) *Adapter {
	return &Adapter{
		baseURL: baseURL,
		timeout: timeout,
	}
}

// Generate 用指定凭证调用一次上游，按 HTTP 状态码分类失败
// 出口网络按凭证的代理配置选择
func (a *Adapter) Generate(ctx context.Context, credential *model.Credential, req Request) (*Result, error) {
	body := generationBody{
		Prompt:            req.Prompt,
		Model:             req.Model,
		Size:              fmt.Sprintf("%dx%d", req.Width, req.Height),
		NumInferenceSteps: req.Steps,
		NegativePrompt:    req.NegativePrompt,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Failure{Kind: KindBadRequest, Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/v1/images/generations", bytes.NewReader(payload))
	if err != nil {
		return nil, &Failure{Kind: KindTransport, Message: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential.Secret)

	httpClient, err := client.ForCredential(credential)
	if err != nil {
		return nil, &Failure{Kind: KindTransport, Message: err.Error()}
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, &Failure{Kind: KindTransport, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, &Failure{Kind: KindTransport, Status: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp.StatusCode, respBody)
	}

	var parsed generationResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &Failure{Kind: KindServerError, Status: resp.StatusCode, Message: "invalid response body"}
	}
	if len(parsed.Data) == 0 {
		return nil, &Failure{Kind: KindServerError, Status: resp.StatusCode, Message: "response contains no image"}
	}

	return &Result{
		Created: parsed.Created,
		B64JSON: parsed.Data[0].B64JSON,
		URL:     parsed.Data[0].URL,
	}, nil
}

func classify(status int, body []byte) *Failure {
	message := extractMessage(body)

	switch {
	case status == http.StatusTooManyRequests:
		return &Failure{Kind: KindRateLimited, Status: status, Message: message}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Failure{Kind: KindAuthInvalid, Status: status, Message: message}
	case status == http.StatusBadRequest:
		return &Failure{Kind: KindBadRequest, Status: status, Message: message}
	default:
		return &Failure{Kind: KindServerError, Status: status, Message: message}
	}
}

func extractMessage(body []byte) string {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error.Message != "" {
			return parsed.Error.Message
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	if len(body) == 0 {
		return "empty response"
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
