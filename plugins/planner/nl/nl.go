package nl

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"datasmith/internal/jsonx"
	"datasmith/pkg/contract"
)

// Options 为自然语言规划器配置。
// - ExtraRules: 追加到规则列表末尾的自定义约束（可选）。
type Options struct {
	ExtraRules []string `json:"extra_rules"`
}

// Planner: 把用户的一句话需求转为 Plan。
type Planner struct {
	extra []string
}

// New 创建规划器。
func New(opts *Options) (*Planner, error) {
	p := &Planner{}
	if opts != nil {
		for _, r := range opts.ExtraRules {
			if r = strings.TrimSpace(r); r != "" {
				p.extra = append(p.extra, r)
			}
		}
	}
	return p, nil
}

var _ contract.Planner = (*Planner)(nil)

// BuildRequest 构造规划请求；description 为空视为非法输入。
func (p *Planner) BuildRequest(ctx context.Context, description string, columns []string) (contract.Request, error) {
	if err := ctx.Err(); err != nil {
		return contract.Request{}, err
	}
	if strings.TrimSpace(description) == "" {
		return contract.Request{}, fmt.Errorf("planner: %w: empty description", contract.ErrInvalidInput)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "I have a CSV file with the following columns: %s\n\n", strings.Join(columns, ", "))
	fmt.Fprintf(&sb, "The user wants to: %s\n\n", strings.TrimSpace(description))
	sb.WriteString(planRules)
	for i, r := range p.extra {
		fmt.Fprintf(&sb, "%d. %s\n", 6+i, r)
	}
	sb.WriteString(planBody)
	cols := make([]string, len(columns))
	copy(cols, columns)
	return contract.Request{
		Kind: contract.KindPlan,
		Messages: []contract.Message{
			{Role: "system", Content: "You are a helpful assistant."},
			{Role: "user", Content: sb.String()},
		},
		Params:  contract.Params{MaxTokens: 1000, Temperature: contract.Float(0.3)},
		Columns: cols,
	}, nil
}

// Decode 解析第一个 '{' 到最后一个 '}' 之间的对象。
// 缺失字段取默认；generate_rows>0 且未配置任何列时清空其余列映射（仅生成行）。
func (p *Planner) Decode(ctx context.Context, raw contract.Raw) (contract.Plan, error) {
	if err := ctx.Err(); err != nil {
		return contract.Plan{}, err
	}
	frag, ok := jsonx.Span(raw.Text, '{', '}')
	if !ok {
		return contract.Plan{}, fmt.Errorf("planner: %w: no json object", contract.ErrResponseInvalid)
	}
	var reply planReply
	if err := jsonx.Unmarshal(frag, '{', '}', &reply); err != nil {
		return contract.Plan{}, fmt.Errorf("planner: %w: %v", contract.ErrResponseInvalid, err)
	}
	plan, err := reply.plan()
	if err != nil {
		return contract.Plan{}, fmt.Errorf("planner: %w: %v", contract.ErrResponseInvalid, err)
	}
	if plan.GenerateRows > 0 && plan.ColumnContext.Len() == 0 {
		plan.BatchSizes = map[string]int{}
		plan.IgnoreValuedColumns = map[string]bool{}
		plan.TransformationInstructions = map[string]string{}
	}
	if err := plan.Validate(); err != nil {
		return contract.Plan{}, fmt.Errorf("planner: %w: %v", contract.ErrResponseInvalid, err)
	}
	return plan, nil
}

// planReply 宽松接收模型回复中的数值字段：
// batch_sizes 的非正或非整数值被丢弃（回落到默认批大小），generate_rows 接受 5.0、"5" 之类的整值。
type planReply struct {
	contract.Plan
	BatchSizes   map[string]json.RawMessage `json:"batch_sizes"`
	GenerateRows json.RawMessage            `json:"generate_rows"`
}

func (r planReply) plan() (contract.Plan, error) {
	p := r.Plan
	p.Normalize()
	for col, raw := range r.BatchSizes {
		if n, ok := jsonx.Int(raw); ok && n > 0 {
			p.BatchSizes[col] = n
		}
	}
	if len(r.GenerateRows) > 0 && !jsonx.IsNull(r.GenerateRows) {
		n, ok := jsonx.Int(r.GenerateRows)
		if !ok {
			return contract.Plan{}, fmt.Errorf("generate_rows: not an integer: %s", r.GenerateRows)
		}
		p.GenerateRows = n
	}
	return p, nil
}

const planRules = `Generate a configuration for processing this CSV file. The configuration should include ONLY what the user explicitly asks for:
1. Which columns to process (including new columns that don't exist yet) - ONLY if the user asks for column operations
2. What context columns to use for each column being processed
3. Appropriate batch sizes for each column
4. Whether to ignore existing values
5. Any specific transformation instructions for each column
`

const planBody = `
If the user wants to create a new column that doesn't exist in the original CSV, include it in the configuration.
If the user wants to generate new rows, set the "generate_rows" field to the number of rows to generate.

IMPORTANT: If the user ONLY asks to generate new rows and doesn't mention any column operations,
the "column_context", "batch_sizes", "ignore_valued_columns", and "transformation_instructions"
should be empty objects. DO NOT add any columns to process unless explicitly requested.

IMPORTANT: If the user says something like "only generate rows" or "just add new rows" or "generate rows without modifying columns",
this means they ONLY want to generate rows and DO NOT want to process any columns.

Return the configuration as a JSON object with this structure:
{
    "column_context": {"column_name": ["context_column1", "context_column2"]},
    "batch_sizes": {"column_name": batch_size},
    "ignore_valued_columns": {"column_name": true_or_false},
    "transformation_instructions": {"column_name": "specific instruction for this column"},
    "generate_rows": number_of_rows_to_generate,
    "dataset_description": "optional description of what this dataset represents"
}

Examples:
1. If the user wants to categorize items as edible or inedible, the configuration might be:
{
  "column_context": {"Category": ["Title", "Description"]},
  "batch_sizes": {"Category": 10},
  "ignore_valued_columns": {"Category": false},
  "transformation_instructions": {"Category": "Categorize each item as either 'Edible' or 'Inedible' based on the product type and description"},
  "generate_rows": 0
}

2. If the user wants to add a new column for popularity ratings, the configuration might include:
{
  "column_context": {"Popularity": ["Title", "Description", "Price"]},
  "batch_sizes": {"Popularity": 10},
  "ignore_valued_columns": {"Popularity": false},
  "transformation_instructions": {"Popularity": "Assign a popularity rating of 'Low', 'Moderate', or 'High' based on the product attributes"},
  "generate_rows": 0
}

3. If the user ONLY wants to generate 5 new rows, the configuration should be:
{
  "column_context": {},
  "batch_sizes": {},
  "ignore_valued_columns": {},
  "transformation_instructions": {},
  "generate_rows": 5,
  "dataset_description": "This is a product catalog with items, categories, and prices"
}

4. If the user says "generate 10 new rows and add a popularity column", the configuration should include both:
{
  "column_context": {"Popularity": ["Title", "Description", "Price"]},
  "batch_sizes": {"Popularity": 10},
  "ignore_valued_columns": {"Popularity": false},
  "transformation_instructions": {"Popularity": "Assign a popularity rating of 'Low', 'Moderate', or 'High' based on the product attributes"},
  "generate_rows": 10,
  "dataset_description": "This is a product catalog with items, categories, and prices"
}
`
