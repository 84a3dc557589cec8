package contract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// DefaultBatchSize: batch_sizes 未指定某列时的批大小。
const DefaultBatchSize = 10

// Plan: 一次增强运行的结构化配置。JSON 形状：
//
//	{
//	  "column_context": {"<target>": ["<ctx col>", ...]},
//	  "batch_sizes": {"<target>": 10},
//	  "ignore_valued_columns": {"<target>": true},
//	  "transformation_instructions": {"<target>": "..."},
//	  "generate_rows": 0,
//	  "dataset_description": "..."
//	}
//
// 只有出现在 column_context 中的列会被处理；其余映射中的多余键不生效。
type Plan struct {
	ColumnContext              ColumnContext     `json:"column_context"`
	BatchSizes                 map[string]int    `json:"batch_sizes" validate:"omitempty,dive,gt=0"`
	IgnoreValuedColumns        map[string]bool   `json:"ignore_valued_columns"`
	TransformationInstructions map[string]string `json:"transformation_instructions"`
	GenerateRows               int               `json:"generate_rows" validate:"gte=0"`
	DatasetDescription         string            `json:"dataset_description"`
}

// DefaultPlan: 全部映射为空、不生成行（空操作配置）。
func DefaultPlan() Plan {
	var p Plan
	p.Normalize()
	return p
}

// Normalize 填充空映射，使零值 Plan 可直接使用。
func (p *Plan) Normalize() {
	if p.BatchSizes == nil {
		p.BatchSizes = map[string]int{}
	}
	if p.IgnoreValuedColumns == nil {
		p.IgnoreValuedColumns = map[string]bool{}
	}
	if p.TransformationInstructions == nil {
		p.TransformationInstructions = map[string]string{}
	}
	if p.ColumnContext.ctx == nil {
		p.ColumnContext.ctx = map[string][]string{}
	}
}

// BatchSize 返回列的批大小；未配置或非正数时为 DefaultBatchSize。
func (p Plan) BatchSize(col string) int {
	if n := p.BatchSizes[col]; n > 0 {
		return n
	}
	return DefaultBatchSize
}

// IgnoreValued 报告该列是否只处理空值/空串单元格。
func (p Plan) IgnoreValued(col string) bool { return p.IgnoreValuedColumns[col] }

// Instruction 返回该列的转换指令（可能为空）。
func (p Plan) Instruction(col string) string { return p.TransformationInstructions[col] }

// IsNoop: 既不处理列也不生成行。
func (p Plan) IsNoop() bool { return p.ColumnContext.Len() == 0 && p.GenerateRows <= 0 }

var planValidator = validator.New()

// Validate 校验字段约束（generate_rows>=0、batch_sizes>0）。
func (p Plan) Validate() error {
	if err := planValidator.Struct(p); err != nil {
		return fmt.Errorf("plan: %w: %v", ErrInvalidInput, err)
	}
	return nil
}

// ColumnContext: 目标列 → 上下文列 的有序映射，保留插入顺序（含 JSON 往返）。
type ColumnContext struct {
	order []string
	ctx   map[string][]string
}

// Set 设置目标列的上下文列；新目标列追加到末尾。
func (c *ColumnContext) Set(target string, ctxCols []string) {
	if c.ctx == nil {
		c.ctx = map[string][]string{}
	}
	if _, ok := c.ctx[target]; !ok {
		c.order = append(c.order, target)
	}
	cp := make([]string, len(ctxCols))
	copy(cp, ctxCols)
	c.ctx[target] = cp
}

// Targets 返回目标列（插入顺序）。
func (c ColumnContext) Targets() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Context 返回目标列的上下文列。
func (c ColumnContext) Context(target string) []string { return c.ctx[target] }

func (c ColumnContext) Has(target string) bool {
	_, ok := c.ctx[target]
	return ok
}

func (c ColumnContext) Len() int { return len(c.order) }

func (c ColumnContext) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range c.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		v := c.ctx[k]
		if v == nil {
			v = []string{}
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 逐 token 解析对象以保留键序；重复键以后者为准且保持首次出现的位置。
func (c *ColumnContext) UnmarshalJSON(b []byte) error {
	*c = ColumnContext{ctx: map[string][]string{}}
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("column_context: expect object, got %v", tok)
	}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("column_context: bad key %v", kt)
		}
		var cols []string
		if err := dec.Decode(&cols); err != nil {
			return fmt.Errorf("column_context[%s]: %w", key, err)
		}
		c.Set(key, cols)
	}
	_, err = dec.Token()
	return err
}
