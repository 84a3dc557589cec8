package pipeline

import (
	"fmt"

	"datasmith/internal/report"
	"datasmith/pkg/contract"
	"datasmith/pkg/dataset"
)

// Outcome: 单批处理结果。失败批次不影响其他批次。
type Outcome struct {
	OK      bool
	Applied int // 实际写回的单元格数
	Ignored int // 序号越界或写回失败而丢弃的修正数
	Err     error
}

// Merge 按批内序号→RowID 映射把修正写回 b.Column。
// onChange 非空时对每次写回回调一次（用于变更边车）。
func Merge(ds *dataset.Dataset, b contract.Batch, corrs []contract.Correction, onChange func(report.Change)) Outcome {
	out := Outcome{OK: true}
	for _, c := range corrs {
		id, ok := b.RowAt(c.Pos)
		if !ok {
			out.Ignored++
			continue
		}
		before, _ := ds.Get(id, b.Column)
		if err := ds.Set(id, b.Column, dataset.Str(c.Value)); err != nil {
			out.Ignored++
			if out.Err == nil {
				out.Err = fmt.Errorf("merge %s[%d]: %w: %w", b.Column, id, contract.ErrInvariantViolation, err)
			}
			continue
		}
		out.Applied++
		if onChange != nil {
			ch := report.Change{Row: int64(id), Column: b.Column, After: c.Value}
			if before.Valid {
				v := before.Value
				ch.Before = &v
			}
			onChange(ch)
		}
	}
	return out
}
