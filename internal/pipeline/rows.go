package pipeline

import (
	"fmt"

	"datasmith/pkg/contract"
	"datasmith/pkg/dataset"
)

// AppendRows 追加合成行。
// 行中未知的键按首次出现顺序新增为列（既有行填空值）；行中缺失的列为空值。
// 返回新增行数与新增列。
func AppendRows(ds *dataset.Dataset, recs []dataset.Record) (int, []string, error) {
	var newCols []string
	for _, rec := range recs {
		for _, k := range rec.Keys {
			if ds.AddColumn(k) {
				newCols = append(newCols, k)
			}
		}
	}
	added := 0
	for i, rec := range recs {
		if _, err := ds.AppendRow(rec); err != nil {
			return added, newCols, fmt.Errorf("append row %d: %w: %w", i, contract.ErrInvariantViolation, err)
		}
		added++
	}
	return added, newCols, nil
}
