package contract

import (
	"context"

	"datasmith/pkg/dataset"
)

// Batcher: 为单个目标列切分批次（Batch Partitioner）。
// 约束：
//  1. 可处理集合：ignore-valued 列仅包含空值/空串单元格，否则包含全部行；
//  2. 保持数据集顺序，按 plan.BatchSize(column) 连续切片；
//  3. 每批记录 1 基序号 → RowID 映射；
//  4. 可处理集合为空时返回零个批次（不发起模型调用）。
type Batcher interface {
	Make(ctx context.Context, ds *dataset.Dataset, column string, plan Plan) ([]Batch, error)
}
