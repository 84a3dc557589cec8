package contract

import (
	"context"
	"io"

	"datasmith/pkg/dataset"
)

// Codec: 表格字节流 ⇄ Dataset。
// 约束：
//  1. Decode 按载入顺序分配 RowID；
//  2. Encode 保持列顺序（原有列在前，新增列在后）与行顺序；
//  3. 空值与空字段互相映射。
type Codec interface {
	Decode(ctx context.Context, r io.Reader) (*dataset.Dataset, error)
	Encode(ctx context.Context, w io.Writer, ds *dataset.Dataset) error
}
