// Package llm 提供 OpenAI 兼容接口的文本/图片生成客户端
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"storyforge-api/internal/config"
	"storyforge-api/internal/domain/service"
	apperrors "storyforge-api/pkg/errors"
	"storyforge-api/pkg/metrics"
)

var tracer = otel.Tracer("llm")

// Client OpenAI 兼容 API 客户端
// 同时实现 TextGenerator 与 ImageGenerator
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient 创建 LLM 客户端
func NewClient(cfg *config.LLMConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// GenerateText 调用 chat completions 生成文本，返回真实用量
func (c *Client) GenerateText(ctx context.Context, model, prompt string) (string, service.TokenUsage, error) {
	ctx, span := tracer.Start(ctx, "llm.GenerateText")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model))

	reqBody := chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}

	var resp chatResponse
	if err := c.post(ctx, "/v1/chat/completions", reqBody, &resp); err != nil {
		span.RecordError(err)
		return "", service.TokenUsage{}, err
	}
	if resp.Error != nil {
		err := apperrors.Newf(apperrors.CodeLLMProviderError, "llm provider error: %s", resp.Error.Message)
		span.RecordError(err)
		return "", service.TokenUsage{}, err
	}
	if len(resp.Choices) == 0 {
		err := apperrors.New(apperrors.CodeLLMProviderError, "llm returned no choices")
		span.RecordError(err)
		return "", service.TokenUsage{}, err
	}

	usage := service.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	metrics.ModelTokensTotal.WithLabelValues(model, "input").Add(float64(usage.PromptTokens))
	metrics.ModelTokensTotal.WithLabelValues(model, "output").Add(float64(usage.CompletionTokens))

	return resp.Choices[0].Message.Content, usage, nil
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateImage 调用图片生成接口，返回结果的存储键
func (c *Client) GenerateImage(ctx context.Context, model, prompt, size string) (string, error) {
	ctx, span := tracer.Start(ctx, "llm.GenerateImage")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model))

	reqBody := imageRequest{
		Model:  model,
		Prompt: prompt,
		N:      1,
		Size:   size,
	}

	var resp imageResponse
	if err := c.post(ctx, "/v1/images/generations", reqBody, &resp); err != nil {
		span.RecordError(err)
		return "", err
	}
	if resp.Error != nil {
		err := apperrors.Newf(apperrors.CodeLLMProviderError, "image provider error: %s", resp.Error.Message)
		span.RecordError(err)
		return "", err
	}
	if len(resp.Data) == 0 {
		err := apperrors.New(apperrors.CodeLLMProviderError, "image provider returned no data")
		span.RecordError(err)
		return "", err
	}

	metrics.ImagesGeneratedTotal.Inc()
	return resp.Data[0].URL, nil
}

// post 发送 JSON 请求并解析响应
func (c *Client) post(ctx context.Context, path string, reqBody, respBody interface{}) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return apperrors.Newf(apperrors.CodeLLMProviderError,
			"llm provider returned status %d: %s", resp.StatusCode, truncate(string(body), 256))
	}
	if err := json.Unmarshal(body, respBody); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
