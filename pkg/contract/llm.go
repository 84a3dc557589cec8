package contract

import (
	"context"
	"errors"
)

// RequestKind: 请求形态，供客户端/调试实现识别用途。
type RequestKind string

const (
	KindCorrect RequestKind = "correct" // 批量修正/补全
	KindRows    RequestKind = "rows"    // 行合成
	KindPlan    RequestKind = "plan"    // 自然语言 → Plan
)

// Message: 最小会话消息形状。Role 取 system|user|assistant。
type Message struct {
	Role    string
	Content string
}

// Params: 单次请求的生成参数。Model 为空时使用客户端默认模型；
// MaxTokens<=0 与 Temperature=nil 表示交由上游默认。
type Params struct {
	Model       string
	MaxTokens   int
	Temperature *float64
}

// Request: 发往模型的完整请求。
// Column/Size/Columns 为只读元信息：核心流程不依赖，离线客户端可据此构造占位回复。
type Request struct {
	Kind     RequestKind
	Messages []Message
	Params   Params
	Column   string
	Size     int
	Columns  []string
}

// Raw: LLM 客户端返回的原始文本载荷。
// 约束：原样返回，不做清洗/截断/归一化。
type Raw struct {
	Text string
}

// LLMClient: 与大模型交互的唯一入口。单次调用、同步返回；应尊重 ctx 取消/超时。
type LLMClient interface {
	Complete(ctx context.Context, req Request) (Raw, error)
}

// 最小错误分类（用于上层策略判定）。
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrResponseInvalid = errors.New("response invalid")
	ErrInvalidInput    = errors.New("invalid input")
)

// Float 返回 v 的指针，便于填写 Params.Temperature。
func Float(v float64) *float64 { return &v }
