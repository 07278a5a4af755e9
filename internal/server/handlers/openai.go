package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/gin-gonic/gin"
	"github.com/mkleve522/zzimage/internal/generate"
	"github.com/mkleve522/zzimage/internal/model"
	"github.com/mkleve522/zzimage/internal/op"
	"github.com/mkleve522/zzimage/internal/server/middleware"
	"github.com/mkleve522/zzimage/internal/server/router"
	"github.com/mkleve522/zzimage/internal/utils/snowflake"
	"github.com/samber/lo"
)

func init() {
	router.NewGroupRouter("/v1").
		Use(middleware.APIKeyAuth()).
		AddRoute(
			router.NewRoute("/images/generations", http.MethodPost).
				Handle(imagesGenerations),
		).
		AddRoute(
			router.NewRoute("/chat/completions", http.MethodPost).
				Handle(chatCompletions),
		).
		AddRoute(
			router.NewRoute("/models", http.MethodGet).
				Handle(listModels),
		).
		AddRoute(
			router.NewRoute("/models/:id", http.MethodGet).
				Handle(getModel),
		)
}

type openaiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func openaiErrorResp(c *gin.Context, status int, message string) {
	var body openaiError
	body.Error.Message = message
	body.Error.Type = "invalid_request_error"
	if status >= http.StatusInternalServerError {
		body.Error.Type = "api_error"
	}
	c.AbortWithStatusJSON(status, body)
}

func apiKeyID(c *gin.Context) int {
	if v, ok := c.Get("api_key_id"); ok {
		if id, ok := v.(int); ok {
			return id
		}
	}
	return 0
}

// ---- /v1/images/generations ----

type imagesGenerationsRequest struct {
	Prompt         string `json:"prompt"`
	Model          string `json:"model"`
	Size           string `json:"size"`
	NegativePrompt string `json:"negative_prompt"`
	Steps          int    `json:"num_inference_steps"`
	ResponseFormat string `json:"response_format"`
}

type imageData struct {
	B64JSON string `json:"b64_json,omitempty"`
	URL     string `json:"url,omitempty"`
}

type imagesGenerationsResponse struct {
	Created int64       `json:"created"`
	Data    []imageData `json:"data"`
}

func imagesGenerations(c *gin.Context) {
	var req imagesGenerationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		openaiErrorResp(c, http.StatusBadRequest, "invalid request body")
		return
	}

	genReq := generate.Request{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Model:          req.Model,
		Steps:          req.Steps,
	}
	if req.Size != "" {
		width, height, err := parseSize(req.Size)
		if err != nil {
			openaiErrorResp(c, http.StatusBadRequest, err.Error())
			return
		}
		genReq.Width = width
		genReq.Height = height
	}

	result, err := doGenerate(c.Request.Context(), genReq, apiKeyID(c))
	if err != nil {
		status, message := generateErrorStatus(err)
		openaiErrorResp(c, status, message)
		return
	}

	created := result.Created
	if created == 0 {
		created = time.Now().Unix()
	}
	data := imageData{B64JSON: result.B64JSON, URL: result.URL}
	// response_format 指定时只返回对应字段
	switch req.ResponseFormat {
	case "url":
		if data.URL != "" {
			data.B64JSON = ""
		}
	case "b64_json":
		if data.B64JSON != "" {
			data.URL = ""
		}
	}
	c.JSON(http.StatusOK, imagesGenerationsResponse{
		Created: created,
		Data:    []imageData{data},
	})
}

func parseSize(size string) (int, int, error) {
	parts := strings.SplitN(strings.ToLower(size), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("size must be in WIDTHxHEIGHT format")
	}
	width, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("size must be in WIDTHxHEIGHT format")
	}
	height, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("size must be in WIDTHxHEIGHT format")
	}
	return width, height, nil
}

// ---- /v1/chat/completions ----

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// 提示词内联指令，如 "a cat --size 512x768 --steps 20"
var (
	sizeDirective   = regexp2.MustCompile(`--size\s+(\d+)\s*[xX]\s*(\d+)`, regexp2.None)
	widthDirective  = regexp2.MustCompile(`--width\s+(\d+)`, regexp2.None)
	heightDirective = regexp2.MustCompile(`--height\s+(\d+)`, regexp2.None)
	stepsDirective  = regexp2.MustCompile(`--steps\s+(\d+)`, regexp2.None)
)

// parsePromptDirectives 从提示词中提取内联参数并去掉指令文本
func parsePromptDirectives(prompt string) (string, generate.Request) {
	var req generate.Request

	if m, _ := sizeDirective.FindStringMatch(prompt); m != nil {
		req.Width, _ = strconv.Atoi(m.GroupByNumber(1).String())
		req.Height, _ = strconv.Atoi(m.GroupByNumber(2).String())
		prompt, _ = sizeDirective.Replace(prompt, "", -1, -1)
	}
	if m, _ := widthDirective.FindStringMatch(prompt); m != nil {
		req.Width, _ = strconv.Atoi(m.GroupByNumber(1).String())
		prompt, _ = widthDirective.Replace(prompt, "", -1, -1)
	}
	if m, _ := heightDirective.FindStringMatch(prompt); m != nil {
		req.Height, _ = strconv.Atoi(m.GroupByNumber(1).String())
		prompt, _ = heightDirective.Replace(prompt, "", -1, -1)
	}
	if m, _ := stepsDirective.FindStringMatch(prompt); m != nil {
		req.Steps, _ = strconv.Atoi(m.GroupByNumber(1).String())
		prompt, _ = stepsDirective.Replace(prompt, "", -1, -1)
	}

	req.Prompt = strings.TrimSpace(prompt)
	return req.Prompt, req
}

func chatCompletions(c *gin.Context) {
	var req chatCompletionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		openaiErrorResp(c, http.StatusBadRequest, "invalid request body")
		return
	}

	var prompt string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			prompt = req.Messages[i].Content
			break
		}
	}
	if prompt == "" {
		openaiErrorResp(c, http.StatusBadRequest, "no user message found")
		return
	}

	_, genReq := parsePromptDirectives(prompt)

	// 模型配置提供默认尺寸/步数，内联指令优先
	useMarkdown := true
	if config, err := op.ModelConfigGetByName(req.Model, c.Request.Context()); err == nil {
		if genReq.Width == 0 {
			genReq.Width = config.Width
		}
		if genReq.Height == 0 {
			genReq.Height = config.Height
		}
		if genReq.Steps == 0 {
			genReq.Steps = config.Steps
		}
		useMarkdown = config.UseMarkdown
	}

	result, err := doGenerate(c.Request.Context(), genReq, apiKeyID(c))
	if err != nil {
		status, message := generateErrorStatus(err)
		openaiErrorResp(c, status, message)
		return
	}

	content := formatImageReply(result, useMarkdown)
	completionID := fmt.Sprintf("chatcmpl-%d", snowflake.GenerateID())
	created := time.Now().Unix()

	if req.Stream {
		streamChatReply(c, completionID, req.Model, created, content)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      completionID,
		"object":  "chat.completion",
		"created": created,
		"model":   req.Model,
		"choices": []gin.H{{
			"index":         0,
			"message":       gin.H{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
}

func formatImageReply(result *generate.Result, useMarkdown bool) string {
	target := result.URL
	if target == "" {
		target = "data:image/png;base64," + result.B64JSON
	}
	if useMarkdown {
		return fmt.Sprintf("![image](%s)", target)
	}
	return target
}

// streamChatReply 把已生成的回复按 SSE 分块推送
// 生成本身不是流式的，这里只是兼容要求流式响应的客户端
func streamChatReply(c *gin.Context, id, model string, created int64, content string) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	chunk := func(delta gin.H, finish any) gin.H {
		return gin.H{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": created,
			"model":   model,
			"choices": []gin.H{{
				"index":         0,
				"delta":         delta,
				"finish_reason": finish,
			}},
		}
	}

	c.SSEvent("", chunk(gin.H{"role": "assistant"}, nil))
	c.SSEvent("", chunk(gin.H{"content": content}, nil))
	c.SSEvent("", chunk(gin.H{}, "stop"))
	c.Writer.WriteString("data: [DONE]\n\n")
	c.Writer.Flush()
}

// ---- /v1/models ----

type openaiModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

func listModels(c *gin.Context) {
	configs, err := op.ModelConfigList(c.Request.Context())
	if err != nil {
		openaiErrorResp(c, http.StatusInternalServerError, err.Error())
		return
	}
	models := lo.Map(configs, func(config model.ModelConfig, _ int) openaiModel {
		return openaiModel{
			ID:      config.Name,
			Object:  "model",
			Created: config.CreatedAt.Unix(),
			OwnedBy: "system",
		}
	})
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": models})
}

func getModel(c *gin.Context) {
	config, err := op.ModelConfigGetByName(c.Param("id"), c.Request.Context())
	if err != nil {
		openaiErrorResp(c, http.StatusNotFound, "model not found")
		return
	}
	c.JSON(http.StatusOK, openaiModel{
		ID:      config.Name,
		Object:  "model",
		Created: config.CreatedAt.Unix(),
		OwnedBy: "system",
	})
}
