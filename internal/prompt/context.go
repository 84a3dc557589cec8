package prompt

import (
	"strings"

	"datasmith/pkg/dataset"
)

// ContextSeparator: 上下文字段之间的分隔符。
const ContextSeparator = " | "

// AssembleContext 以 "name: value" 形式拼接行内上下文列，分隔符为 " | "。
// 数据集中不存在的列与空值单元格被跳过；全部跳过时返回空串。
func AssembleContext(ds *dataset.Dataset, id dataset.RowID, cols []string) string {
	var b strings.Builder
	for _, col := range cols {
		c, ok := ds.Get(id, col)
		if !ok || !c.Valid {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(ContextSeparator)
		}
		b.WriteString(col)
		b.WriteString(": ")
		b.WriteString(c.Value)
	}
	return b.String()
}
