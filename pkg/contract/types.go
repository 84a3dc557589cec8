package contract

import "datasmith/pkg/dataset"

// Member: 批内成员。Pos 为提示词中展示的 1 基序号，Row 为其对应的稳定 RowID。
type Member struct {
	Pos int
	Row dataset.RowID
}

// Batch: 同一目标列的一段连续可处理行。
// 约束：
//   - Members 按数据集顺序排列，Pos 自 1 连续递增；
//   - Index 为该列内批序（0..n-1）。
type Batch struct {
	Column  string
	Index   int
	Members []Member
}

// RowAt 将 1 基序号映射回 RowID；越界时 ok=false。
func (b Batch) RowAt(pos int) (dataset.RowID, bool) {
	if pos < 1 || pos > len(b.Members) {
		return 0, false
	}
	return b.Members[pos-1].Row, true
}

// Correction: 解码得到的单个单元格修正（尚未写回）。
type Correction struct {
	Pos   int
	Value string
}
