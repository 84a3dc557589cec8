package dataset

import (
	"errors"
	"fmt"
	"sync"
)

// RowID: 行的稳定标识。载入时按顺序分配（0..n-1），追加行延续序列；
// 一经分配不再改变，插入列不影响 RowID。
type RowID int64

// Cell: 单元格值；Valid=false 表示空值（null）。
type Cell struct {
	Value string
	Valid bool
}

// Null 返回空值单元格。
func Null() Cell { return Cell{} }

// Str 返回非空字符串单元格。
func Str(s string) Cell { return Cell{Value: s, Valid: true} }

// IsBlank: 空值或空串。
func (c Cell) IsBlank() bool { return !c.Valid || c.Value == "" }

func (c Cell) String() string {
	if !c.Valid {
		return "<null>"
	}
	return c.Value
}

// ErrUnknownColumn: 访问不存在的列。
var ErrUnknownColumn = errors.New("dataset: unknown column")

// ErrUnknownRow: 访问不存在的 RowID。
var ErrUnknownRow = errors.New("dataset: unknown row")

// ErrDuplicateColumn: 列名重复。
var ErrDuplicateColumn = errors.New("dataset: duplicate column")

type row struct {
	id    RowID
	cells []Cell
}

// Dataset: 有序表格。列名有序且唯一；所有读写经 RWMutex 保护，可被多列并发处理共享。
type Dataset struct {
	mu     sync.RWMutex
	cols   []string
	colIdx map[string]int
	rows   []row
	byID   map[RowID]int
	nextID RowID
}

// New 以给定列名构造空表。
func New(cols []string) (*Dataset, error) {
	d := &Dataset{colIdx: make(map[string]int, len(cols)), byID: make(map[RowID]int)}
	for _, c := range cols {
		if _, dup := d.colIdx[c]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c)
		}
		d.colIdx[c] = len(d.cols)
		d.cols = append(d.cols, c)
	}
	return d, nil
}

// Columns 返回列名副本（按插入顺序）。
func (d *Dataset) Columns() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.cols))
	copy(out, d.cols)
	return out
}

func (d *Dataset) HasColumn(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.colIdx[name]
	return ok
}

// Len 返回行数。
func (d *Dataset) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rows)
}

// IDs 返回全部 RowID（数据集顺序）。
func (d *Dataset) IDs() []RowID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]RowID, len(d.rows))
	for i, r := range d.rows {
		out[i] = r.id
	}
	return out
}

// Get 读取单元格；列或行不存在时 ok=false。
func (d *Dataset) Get(id RowID, col string) (Cell, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ci, ok := d.colIdx[col]
	if !ok {
		return Cell{}, false
	}
	ri, ok := d.byID[id]
	if !ok {
		return Cell{}, false
	}
	return d.rows[ri].cells[ci], true
}

// Set 写入单元格。
func (d *Dataset) Set(id RowID, col string, c Cell) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ci, ok := d.colIdx[col]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, col)
	}
	ri, ok := d.byID[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownRow, id)
	}
	d.rows[ri].cells[ci] = c
	return nil
}

// AddColumn 在末尾追加列，既有行填充空值；列已存在返回 false。
func (d *Dataset) AddColumn(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.colIdx[name]; ok {
		return false
	}
	d.colIdx[name] = len(d.cols)
	d.cols = append(d.cols, name)
	for i := range d.rows {
		d.rows[i].cells = append(d.rows[i].cells, Null())
	}
	return true
}

// AppendRow 追加一行并分配新 RowID。Record 中缺失的列填空值；
// Record 含未知列时返回 ErrUnknownColumn（调用方应先 AddColumn）。
func (d *Dataset) AppendRow(rec Record) (RowID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cells := make([]Cell, len(d.cols))
	for _, k := range rec.Keys {
		ci, ok := d.colIdx[k]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownColumn, k)
		}
		cells[ci] = rec.Values[k]
	}
	id := d.nextID
	d.nextID++
	d.byID[id] = len(d.rows)
	d.rows = append(d.rows, row{id: id, cells: cells})
	return id, nil
}

// Row 以 Record 形式返回一行（列顺序）。
func (d *Dataset) Row(id RowID) (Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ri, ok := d.byID[id]
	if !ok {
		return Record{}, false
	}
	rec := Record{Keys: make([]string, len(d.cols)), Values: make(map[string]Cell, len(d.cols))}
	for i, c := range d.cols {
		rec.Keys[i] = c
		rec.Values[c] = d.rows[ri].cells[i]
	}
	return rec, true
}

// Snapshot 返回列名与按行排列的单元格副本，用于编码输出。
func (d *Dataset) Snapshot() ([]string, [][]Cell) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cols := make([]string, len(d.cols))
	copy(cols, d.cols)
	rows := make([][]Cell, len(d.rows))
	for i, r := range d.rows {
		cells := make([]Cell, len(r.cells))
		copy(cells, r.cells)
		rows[i] = cells
	}
	return cols, rows
}

// Record: 有序键值行。Keys 保留来源顺序（例如模型输出对象的键序）。
type Record struct {
	Keys   []string
	Values map[string]Cell
}

// NewRecord 构造空 Record。
func NewRecord() Record { return Record{Values: map[string]Cell{}} }

// Put 设置键值；新键追加到 Keys 末尾。
func (r *Record) Put(k string, c Cell) {
	if r.Values == nil {
		r.Values = map[string]Cell{}
	}
	if _, ok := r.Values[k]; !ok {
		r.Keys = append(r.Keys, k)
	}
	r.Values[k] = c
}

// Get 读取键值。
func (r Record) Get(k string) (Cell, bool) {
	c, ok := r.Values[k]
	return c, ok
}
