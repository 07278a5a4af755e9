package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mkleve522/zzimage/internal/model"
)

func testRequest() Request {
	return Request{
		Prompt: "a red fox in the snow",
		Model:  "z-image-turbo",
		Width:  1024,
		Height: 768,
		Steps:  9,
	}
}

func TestGenerateSuccess(t *testing.T) {
	var gotAuth string
	var gotBody generationBody

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"created": 1760000000,
			"data":    []map[string]string{{"b64_json": "aGVsbG8="}},
		})
	}))
	defer server.Close()

	a := New(server.URL, 5*time.Second)
	cred := &model.Credential{ID: 1, Secret: "token-abc"}

	result, err := a.Generate(context.Background(), cred, testRequest())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gotAuth != "Bearer token-abc" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotBody.Size != "1024x768" {
		t.Errorf("size = %q, want 1024x768", gotBody.Size)
	}
	if gotBody.NumInferenceSteps != 9 {
		t.Errorf("steps = %d, want 9", gotBody.NumInferenceSteps)
	}
	if result.B64JSON != "aGVsbG8=" {
		t.Errorf("b64 = %q", result.B64JSON)
	}
	if result.Created != 1760000000 {
		t.Errorf("created = %d", result.Created)
	}
}

func TestGenerateClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind FailureKind
		wantMsg  string
	}{
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			body:     `{"error":{"message":"rate limit exceeded"}}`,
			wantKind: KindRateLimited,
			wantMsg:  "rate limit exceeded",
		},
		{
			name:     "unauthorized",
			status:   http.StatusUnauthorized,
			body:     `{"message":"invalid token"}`,
			wantKind: KindAuthInvalid,
			wantMsg:  "invalid token",
		},
		{
			name:     "forbidden",
			status:   http.StatusForbidden,
			body:     `{"error":{"message":"forbidden"}}`,
			wantKind: KindAuthInvalid,
			wantMsg:  "forbidden",
		},
		{
			name:     "bad request",
			status:   http.StatusBadRequest,
			body:     `{"error":{"message":"prompt rejected"}}`,
			wantKind: KindBadRequest,
			wantMsg:  "prompt rejected",
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			body:     `oops`,
			wantKind: KindServerError,
			wantMsg:  "oops",
		},
		{
			name:     "bad gateway",
			status:   http.StatusBadGateway,
			body:     ``,
			wantKind: KindServerError,
			wantMsg:  "empty response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			a := New(server.URL, 5*time.Second)
			_, err := a.Generate(context.Background(), &model.Credential{ID: 1, Secret: "x"}, testRequest())

			failure, ok := err.(*Failure)
			if !ok {
				t.Fatalf("err = %v (%T), want *Failure", err, err)
			}
			if failure.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", failure.Kind, tt.wantKind)
			}
			if failure.Status != tt.status {
				t.Errorf("status = %d, want %d", failure.Status, tt.status)
			}
			if failure.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", failure.Message, tt.wantMsg)
			}
		})
	}
}

func TestGenerateTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // 立即关闭，触发连接错误

	a := New(server.URL, 5*time.Second)
	_, err := a.Generate(context.Background(), &model.Credential{ID: 1, Secret: "x"}, testRequest())

	failure, ok := err.(*Failure)
	if !ok {
		t.Fatalf("err = %v (%T), want *Failure", err, err)
	}
	if failure.Kind != KindTransport {
		t.Errorf("kind = %s, want transport", failure.Kind)
	}
}

func TestGenerateEmptyData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"created":1,"data":[]}`))
	}))
	defer server.Close()

	a := New(server.URL, 5*time.Second)
	_, err := a.Generate(context.Background(), &model.Credential{ID: 1, Secret: "x"}, testRequest())

	failure, ok := err.(*Failure)
	if !ok {
		t.Fatalf("err = %v (%T), want *Failure", err, err)
	}
	if failure.Kind != KindServerError {
		t.Errorf("kind = %s, want server_error", failure.Kind)
	}
}
