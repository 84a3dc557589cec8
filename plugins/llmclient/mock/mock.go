package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"datasmith/pkg/contract"
)

// Options: 离线调试配置（可选）。
type Options struct {
	Prefix string `json:"prefix"` // 占位值前缀，默认 "MOCK"
	// APIKey: 仅参与限流分组；为空时按客户端名分组，不参与任何网络请求。
	APIKey string `json:"api_key"`
	// Plan: KindPlan 请求的固定回复（JSON 对象），默认 "{}"。
	Plan json.RawMessage `json:"plan,omitempty"`
	// Echo: 为 true 时原样回显 user 消息，用于检查提示词。
	Echo bool `json:"echo,omitempty"`
}

type Client struct {
	prefix string
	plan   string
	echo   bool
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	plan := strings.TrimSpace(string(o.Plan))
	if plan == "" || plan == "null" {
		plan = "{}"
	}
	return &Client{prefix: o.Prefix, plan: plan, echo: o.Echo}, nil
}

var _ contract.LLMClient = (*Client)(nil)

// Complete 按 Request.Kind 构造可被内置解码器直接消费的占位回复。
func (c *Client) Complete(ctx context.Context, req contract.Request) (contract.Raw, error) {
	select {
	case <-ctx.Done():
		return contract.Raw{}, ctx.Err()
	default:
	}
	if c.echo {
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == "user" {
				return contract.Raw{Text: req.Messages[i].Content}, nil
			}
		}
		return contract.Raw{}, nil
	}
	if req.Kind == contract.KindPlan {
		return contract.Raw{Text: c.plan}, nil
	}
	return Reply(c.prefix, req)
}

// Reply 生成与请求形态匹配的占位 JSON：
//   - correct: [{"Index":i,"<col>":"<prefix>-<col>-i"}]，i=1..Size
//   - rows:    Size 个对象，覆盖 Columns 中每一列
func Reply(prefix string, req contract.Request) (contract.Raw, error) {
	switch req.Kind {
	case contract.KindCorrect:
		if req.Column == "" || req.Size <= 0 {
			return contract.Raw{}, fmt.Errorf("mock: %w: correct request without column/size", contract.ErrInvalidInput)
		}
		items := make([]map[string]any, 0, req.Size)
		for i := 1; i <= req.Size; i++ {
			items = append(items, map[string]any{
				"Index":    i,
				req.Column: fmt.Sprintf("%s-%s-%d", prefix, req.Column, i),
			})
		}
		b, _ := json.Marshal(items)
		return contract.Raw{Text: string(b)}, nil
	case contract.KindRows:
		if req.Size <= 0 {
			return contract.Raw{}, fmt.Errorf("mock: %w: rows request without size", contract.ErrInvalidInput)
		}
		var sb strings.Builder
		sb.WriteByte('[')
		for i := 1; i <= req.Size; i++ {
			if i > 1 {
				sb.WriteByte(',')
			}
			sb.WriteByte('{')
			for j, col := range req.Columns {
				if j > 0 {
					sb.WriteByte(',')
				}
				k, _ := json.Marshal(col)
				v, _ := json.Marshal(fmt.Sprintf("%s-%s-r%d", prefix, col, i))
				sb.Write(k)
				sb.WriteByte(':')
				sb.Write(v)
			}
			sb.WriteByte('}')
		}
		sb.WriteByte(']')
		return contract.Raw{Text: sb.String()}, nil
	case contract.KindPlan:
		return contract.Raw{Text: "{}"}, nil
	}
	return contract.Raw{}, fmt.Errorf("mock: %w: unknown request kind %q", contract.ErrInvalidInput, req.Kind)
}
