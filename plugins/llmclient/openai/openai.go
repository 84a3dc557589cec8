package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"datasmith/pkg/contract"
)

// Options 为 OpenAI 兼容 Chat Completions 接口的配置。
type Options struct {
	BaseURL        string   `json:"base_url"`    // 默认 https://api.openai.com/v1
	Model          string   `json:"model"`       // 默认 DefaultModel
	APIKeyEnv      string   `json:"api_key_env"` // 默认 OPENAI_API_KEY
	APIKey         string   `json:"api_key"`     // 明文，优先于 api_key_env
	TimeoutSeconds int      `json:"timeout_seconds"`
	Temperature    *float64 `json:"temperature,omitempty"`
	// 兼容服务（Azure、OpenRouter、本地推理服务等）
	EndpointPath       string            `json:"endpoint_path"` // 默认 /chat/completions；http(s) 开头时视为完整 URL
	DisableDefaultAuth bool              `json:"disable_default_auth"`
	ExtraHeaders       map[string]string `json:"extra_headers"`
	// JSONObjectForPlan: 规划请求下发 response_format=json_object。
	JSONObjectForPlan bool `json:"json_object_for_plan"`
}

const DefaultModel = "gpt-4o-mini"

// errBodyLimit: 读取错误响应体的上限。
const errBodyLimit = 4 << 10

// Client 通过 net/http 调用 Chat Completions。
type Client struct {
	url      string
	model    string
	temp     *float64
	headers  http.Header
	planJSON bool
	do       func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造客户端；拿不到 API Key 时返回 ErrInvalidInput。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	o := Options{
		BaseURL:        "https://api.openai.com/v1",
		Model:          DefaultModel,
		APIKeyEnv:      "OPENAI_API_KEY",
		EndpointPath:   "/chat/completions",
		TimeoutSeconds: 60,
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	key := o.APIKey
	if key == "" && o.APIKeyEnv != "" {
		key = os.Getenv(o.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("openai: %w: missing api key", contract.ErrInvalidInput)
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	if !o.DisableDefaultAuth {
		h.Set("Authorization", "Bearer "+key)
	}
	for k, v := range o.ExtraHeaders {
		if k != "" {
			h.Set(k, v)
		}
	}
	hc := &http.Client{Timeout: time.Duration(o.TimeoutSeconds) * time.Second}
	return &Client{
		url:      joinURL(o.BaseURL, o.EndpointPath),
		model:    o.Model,
		temp:     o.Temperature,
		headers:  h,
		planJSON: o.JSONObjectForPlan,
		do:       hc.Do,
	}, nil
}

func joinURL(base, endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// body 组装请求：Params 中的模型/温度覆盖客户端默认；MaxTokens<=0 时不下发。
func (c *Client) body(req contract.Request) ([]byte, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("openai: %w: empty messages", contract.ErrInvalidInput)
	}
	cr := chatRequest{
		Model:       cmpOr(req.Params.Model, c.model),
		Temperature: c.temp,
		MaxTokens:   req.Params.MaxTokens,
		Messages:    make([]chatMessage, len(req.Messages)),
	}
	if req.Params.Temperature != nil {
		cr.Temperature = req.Params.Temperature
	}
	if c.planJSON && req.Kind == contract.KindPlan {
		cr.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	for i, m := range req.Messages {
		cr.Messages[i] = chatMessage{Role: cmpOr(strings.TrimSpace(m.Role), "user"), Content: m.Content}
	}
	return json.Marshal(&cr)
}

func cmpOr(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// Complete 实现 contract.LLMClient。
func (c *Client) Complete(ctx context.Context, creq contract.Request) (contract.Raw, error) {
	payload, err := c.body(creq)
	if err != nil {
		return contract.Raw{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return contract.Raw{}, fmt.Errorf("openai: %w: %v", contract.ErrInvalidInput, err)
	}
	req.Header = c.headers.Clone()

	resp, err := c.do(req)
	if err != nil {
		// 父 ctx 结束时返回 ctx 错误本身，便于上层识别取消
		if cerr := ctx.Err(); cerr != nil {
			return contract.Raw{}, cerr
		}
		return contract.Raw{}, err
	}
	defer resp.Body.Close()
	if err := statusError(resp); err != nil {
		return contract.Raw{}, err
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return contract.Raw{}, fmt.Errorf("openai: %w: %v", contract.ErrResponseInvalid, err)
	}
	if len(cr.Choices) == 0 || cr.Choices[0].Message.Content == "" {
		return contract.Raw{}, fmt.Errorf("openai: %w: empty choices", contract.ErrResponseInvalid)
	}
	// 被 max_tokens 截断的 JSON 无法解析，按无效回复处理以触发重试
	if cr.Choices[0].FinishReason == "length" {
		return contract.Raw{}, fmt.Errorf("openai: %w: reply truncated", contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: cr.Choices[0].Message.Content}, nil
}

// statusError 映射非 2xx：429 限流；408/5xx 为上游错误（net.Error）；其余 4xx 视为请求无效。
func statusError(resp *http.Response) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return contract.ErrRateLimited
	}
	msg := errorMessage(io.LimitReader(resp.Body, errBodyLimit))
	if resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode/100 == 5 {
		return upstreamError{status: resp.StatusCode, msg: msg}
	}
	return fmt.Errorf("openai upstream %d: %s: %w", resp.StatusCode, msg, contract.ErrInvalidInput)
}

// errorMessage 优先取 {"error":{"message":...}}，否则返回原文。
func errorMessage(r io.Reader) string {
	b, _ := io.ReadAll(r)
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return strings.TrimSpace(string(b))
}

// upstreamError 让上游 5xx/408 按网络错误分类并携带诊断信息。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("openai upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

var _ contract.LLMClient = (*Client)(nil)
