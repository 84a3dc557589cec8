package contract

import "context"

// Decoder: 将修正回复解析为显式结果（Response Merger 的解析半部）。
// 约束：
//   - 回复整体不可解析为 JSON 数组时返回包裹 ErrResponseInvalid 的错误；
//   - 序号缺失/非法/越界的元素丢弃，不影响其他元素；
//   - 值缺失或为 null 的元素不产生修正。
type Decoder interface {
	Decode(ctx context.Context, b Batch, raw Raw) ([]Correction, error)
}
