package eligible

import (
	"context"
	"fmt"

	"datasmith/internal/prompt"
	"datasmith/pkg/contract"
	"datasmith/pkg/dataset"
)

// Options 为可处理行 Batcher 的可选配置（最小必要）。
type Options struct {
	// DefaultBatchSize: plan 未指定列批大小时使用的默认值；<=0 采用 contract.DefaultBatchSize。
	DefaultBatchSize int `json:"default_batch_size"`
	// MaxBatchTokens: 单批估算 token 上限（上下文+当前值）；<=0 关闭。
	// 开启后批次在不超过 batch size 的前提下可能提前截断，仍保持连续。
	MaxBatchTokens int `json:"max_batch_tokens"`
	// BytesPerToken: 估算系数，tokens ≈ ceil(utf8_bytes / BytesPerToken)；<=0 采用 4。
	BytesPerToken int `json:"bytes_per_token"`
	// ExtraBytesPerRecord: 每条成员在提示词包装中的额外字节估算（Entry/Context/Current 标签等）。
	ExtraBytesPerRecord int `json:"extra_bytes_per_record"`
}

// Batcher 按可处理集合连续切批。
type Batcher struct {
	defSize   int
	maxTokens int
	est       contract.TokenEstimator
	extraTok  int
}

// New 创建 Batcher。
func New(opts *Options) *Batcher {
	b := &Batcher{defSize: contract.DefaultBatchSize, est: prompt.MakeEstimator(0)}
	if opts == nil {
		return b
	}
	if opts.DefaultBatchSize > 0 {
		b.defSize = opts.DefaultBatchSize
	}
	if opts.MaxBatchTokens > 0 {
		b.maxTokens = opts.MaxBatchTokens
	}
	b.est = prompt.MakeEstimator(opts.BytesPerToken)
	if opts.ExtraBytesPerRecord > 0 {
		bpt := opts.BytesPerToken
		if bpt <= 0 {
			bpt = 4
		}
		b.extraTok = (opts.ExtraBytesPerRecord + bpt - 1) / bpt
	}
	return b
}

var _ contract.Batcher = (*Batcher)(nil)

// Make 计算可处理集合并切分为批：
// - ignore-valued 列只保留空值/空串单元格；
// - 保持数据集顺序；
// - 每批记录 1 基序号 → RowID。
func (b *Batcher) Make(ctx context.Context, ds *dataset.Dataset, column string, plan contract.Plan) ([]contract.Batch, error) {
	if ds == nil {
		return nil, fmt.Errorf("batcher: %w: nil dataset", contract.ErrInvalidInput)
	}
	if !ds.HasColumn(column) {
		return nil, fmt.Errorf("batcher: %w: column %q not in dataset", contract.ErrInvalidInput, column)
	}
	size := b.defSize
	if n := plan.BatchSizes[column]; n > 0 {
		size = n
	}
	ignoreValued := plan.IgnoreValued(column)
	ctxCols := plan.ColumnContext.Context(column)

	var eligible []dataset.RowID
	for i, id := range ds.IDs() {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if ignoreValued {
			c, _ := ds.Get(id, column)
			if !c.IsBlank() {
				continue
			}
		}
		eligible = append(eligible, id)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	var out []contract.Batch
	cur := contract.Batch{Column: column}
	curTokens := 0
	flush := func() {
		if len(cur.Members) == 0 {
			return
		}
		cur.Index = len(out)
		out = append(out, cur)
		cur = contract.Batch{Column: column}
		curTokens = 0
	}
	for _, id := range eligible {
		cost := 0
		if b.maxTokens > 0 {
			cost = b.rowTokens(ds, id, column, ctxCols)
			// 单行超限仍独占一批，不丢弃
			if len(cur.Members) > 0 && curTokens+cost > b.maxTokens {
				flush()
			}
		}
		cur.Members = append(cur.Members, contract.Member{Pos: len(cur.Members) + 1, Row: id})
		curTokens += cost
		if len(cur.Members) >= size {
			flush()
		}
	}
	flush()
	return out, nil
}

func (b *Batcher) rowTokens(ds *dataset.Dataset, id dataset.RowID, column string, ctxCols []string) int {
	c, _ := ds.Get(id, column)
	text := prompt.AssembleContext(ds, id, ctxCols) + c.Value
	return b.est(text) + b.extraTok
}
