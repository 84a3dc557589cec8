package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"datasmith/pkg/contract"
	"datasmith/plugins/llmclient/mock"
)

// 脚本步骤：每次 Complete 消耗一步，脚本耗尽后一律按 ok 处理。
const (
	StepRateLimited = "rate_limited" // 返回 ErrRateLimited
	StepInvalidJSON = "invalid_json" // 返回无法解析的文本
	StepUpstream    = "upstream"     // 返回可重试的上游 5xx
	StepOK          = "ok"           // 返回与 mock 相同的回复
)

var defaultScript = []string{StepRateLimited, StepInvalidJSON}

// Options: prefix 透传给 mock 回复；script 缺省为 rate_limited → invalid_json；
// log_path 非空时逐行追加每次调用实际执行的步骤。
type Options struct {
	Prefix  string   `json:"prefix"`
	Script  []string `json:"script,omitempty"`
	LogPath string   `json:"log_path,omitempty"`
}

// Client 按脚本制造故障，用于验证重试路径。
type Client struct {
	prefix  string
	logPath string

	mu     sync.Mutex
	script []string
}

// New 构造 Client；未知步骤视为配置错误。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	if o.Prefix == "" {
		o.Prefix = "FLAKY"
	}
	if o.Script == nil {
		o.Script = defaultScript
	}
	for i, s := range o.Script {
		switch s {
		case StepRateLimited, StepInvalidJSON, StepUpstream, StepOK:
		default:
			return nil, fmt.Errorf("flaky: %w: script[%d]=%q", contract.ErrInvalidInput, i, s)
		}
	}
	return &Client{prefix: o.Prefix, logPath: o.LogPath, script: append([]string(nil), o.Script...)}, nil
}

func (c *Client) next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.script) == 0 {
		return StepOK
	}
	s := c.script[0]
	c.script = c.script[1:]
	return s
}

func (c *Client) record(step string) {
	if c.logPath == "" {
		return
	}
	f, err := os.OpenFile(c.logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	_, _ = f.WriteString(step + "\n")
	_ = f.Close()
}

// Complete 实现 contract.LLMClient。
func (c *Client) Complete(ctx context.Context, req contract.Request) (contract.Raw, error) {
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	step := c.next()
	c.record(step)
	switch step {
	case StepRateLimited:
		return contract.Raw{}, contract.ErrRateLimited
	case StepInvalidJSON:
		return contract.Raw{Text: "invalid"}, nil
	case StepUpstream:
		return contract.Raw{}, upstreamErr{}
	default:
		return mock.Reply(c.prefix, req)
	}
}

// upstreamErr 模拟上游 503：实现 net.Error 与 contract.UpstreamError。
type upstreamErr struct{}

func (upstreamErr) Error() string           { return "flaky: upstream 503" }
func (upstreamErr) Timeout() bool           { return false }
func (upstreamErr) Temporary() bool         { return true }
func (upstreamErr) UpstreamStatus() int     { return 503 }
func (upstreamErr) UpstreamMessage() string { return "scripted outage" }

var _ contract.LLMClient = (*Client)(nil)
