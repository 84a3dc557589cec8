package contract

import (
	"context"

	"datasmith/pkg/dataset"
)

// RowSynthesizer: 行合成的请求构造与回复解析（Row Synthesizer）。
// 请求由 pipeline 统一发送（限流/重试/超时），实现本身不做 I/O。
type RowSynthesizer interface {
	// BuildRequest 基于样例行构造合成 count 行的请求；空数据集返回 ErrInvalidInput。
	BuildRequest(ctx context.Context, ds *dataset.Dataset, count int, description string) (Request, error)
	// Decode 解析回复为恰好 count 行；不可解析或不足 count 行返回 ErrResponseInvalid（从不部分成功）。
	Decode(ctx context.Context, raw Raw, count int) ([]dataset.Record, error)
}

// Planner: 自然语言 → Plan（Configuration Synthesizer）。
type Planner interface {
	BuildRequest(ctx context.Context, description string, columns []string) (Request, error)
	// Decode 解析回复；失败返回 ErrResponseInvalid，调用方据此回退到 DefaultPlan。
	Decode(ctx context.Context, raw Raw) (Plan, error)
}
