package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"datasmith/pkg/contract"
)

// Options: Gemini Developer API 最小必需配置。
type Options struct {
	BaseURL        string            `json:"base_url"`    // 覆盖 SDK 默认端点（可选）
	Model          string            `json:"model"`       // 默认 gemini-2.5-flash
	APIKeyEnv      string            `json:"api_key_env"` // 默认 GOOGLE_API_KEY
	APIKey         string            `json:"api_key"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"` // 默认 60
	Temperature    *float64          `json:"temperature,omitempty"`
	ExtraHeaders   map[string]string `json:"extra_headers"`
	// ResponseMIMEType: 设置后所有请求都要求该 MIME 的回复（例如 application/json）。
	ResponseMIMEType string `json:"response_mime_type,omitempty"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

type Client struct {
	model    string
	temp     *float64
	respMIME string
	generate generateFunc
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("gemini options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key", contract.ErrInvalidInput)
	}
	hdr := http.Header{}
	for k, v := range opts.ExtraHeaders {
		if k != "" {
			hdr.Set(k, v)
		}
	}
	gc, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      key,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second},
		HTTPOptions: genai.HTTPOptions{BaseURL: opts.BaseURL, Headers: hdr},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %v: %w", err, contract.ErrInvalidInput)
	}
	return &Client{
		model:    opts.Model,
		temp:     opts.Temperature,
		respMIME: opts.ResponseMIMEType,
		generate: gc.Models.GenerateContent,
	}, nil
}

// upstreamError 实现 net.Error，用于将上游 5xx/408 映射为网络类错误。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("gemini upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// buildContents 把通用消息映射到 Gemini：system 合并为 SystemInstruction，assistant→model，其余→user。
func buildContents(msgs []contract.Message) (*genai.Content, []*genai.Content) {
	var sys []string
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "system":
			sys = append(sys, m.Content)
		case "assistant", "model":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(sys) == 0 {
		return nil, contents
	}
	return genai.NewContentFromText(strings.Join(sys, "\n\n"), genai.RoleUser), contents
}

func (c *Client) config(req contract.Request, sys *genai.Content) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{SystemInstruction: sys, ResponseMIMEType: c.respMIME}
	temp := c.temp
	if req.Params.Temperature != nil {
		temp = req.Params.Temperature
	}
	if temp != nil {
		cfg.Temperature = genai.Ptr(float32(*temp))
	}
	if req.Params.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Params.MaxTokens)
	}
	return cfg
}

// Complete: 单次调用，同步返回。
func (c *Client) Complete(ctx context.Context, req contract.Request) (contract.Raw, error) {
	sys, contents := buildContents(req.Messages)
	if len(contents) == 0 {
		return contract.Raw{}, fmt.Errorf("gemini: %w: no user content", contract.ErrInvalidInput)
	}
	model := c.model
	if req.Params.Model != "" {
		model = req.Params.Model
	}
	resp, err := c.generate(ctx, model, contents, c.config(req, sys))
	if err != nil {
		if ctx.Err() != nil {
			return contract.Raw{}, ctx.Err()
		}
		return contract.Raw{}, classify(err)
	}
	text := responseText(resp)
	if text == "" {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	return contract.Raw{Text: text}, nil
}

// classify 把 SDK 的 APIError 映射到统一错误分类；其他错误原样返回（按网络类处理）。
func classify(err error) error {
	var code int
	var msg string
	var ae genai.APIError
	var aep *genai.APIError
	switch {
	case errors.As(err, &ae):
		code, msg = ae.Code, ae.Message
	case errors.As(err, &aep) && aep != nil:
		code, msg = aep.Code, aep.Message
	default:
		return err
	}
	switch {
	case code == http.StatusTooManyRequests:
		return contract.ErrRateLimited
	case code == http.StatusRequestTimeout || code/100 == 5:
		return upstreamError{status: code, msg: msg}
	case code/100 == 4:
		return fmt.Errorf("gemini upstream %d: %s: %w", code, msg, contract.ErrInvalidInput)
	}
	return err
}

// responseText 拼接首个候选的全部文本分片。
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		if p != nil && p.Text != "" && !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

var _ contract.LLMClient = (*Client)(nil)
