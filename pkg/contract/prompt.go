package contract

import (
	"context"

	"datasmith/pkg/dataset"
)

// PromptBuilder: 基于 Batch 构造确定性的修正请求（Prompt Builder）。
// 约束：
//   - 纯计算，不做 I/O；
//   - 空值单元格以字面量 "Missing" 呈现；
//   - 回复形状要求为 [{"Index": <pos>, "<column>": <value>}]，Index 为批内 1 基序号。
type PromptBuilder interface {
	Build(ctx context.Context, ds *dataset.Dataset, b Batch, contextCols []string, instruction string) (Request, error)
}

// TokenEstimator: 文本→token 的近似估算函数。
// 典型实现：ceil(len(utf8_bytes)/BytesPerToken)。
type TokenEstimator func(s string) int
