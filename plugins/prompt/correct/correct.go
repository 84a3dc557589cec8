package correct

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"text/template"

	"datasmith/internal/prompt"
	"datasmith/pkg/contract"
	"datasmith/pkg/dataset"
)

// MissingLiteral: 空值单元格在提示词中的呈现。
const MissingLiteral = "Missing"

// Options 为批量修正 PromptBuilder 的最小配置。
// - InlineSystemTemplate / SystemTemplatePath: system 提示（二选一，均为空使用内置默认）。
// - InlineUserTemplate / UserTemplatePath: user 提示模板（text/template，数据见 View）。
type Options struct {
	InlineSystemTemplate string `json:"inline_system_template"`
	SystemTemplatePath   string `json:"system_template_path"`
	InlineUserTemplate   string `json:"inline_user_template"`
	UserTemplatePath     string `json:"user_template_path"`
}

// View: user 模板的渲染数据。
type View struct {
	Column      string
	Instruction string
	Entries     []Entry
}

// Entry: 批内单个成员的呈现。
type Entry struct {
	Pos     int
	Context string
	Current string
}

// Builder: 以 Batch 构造修正请求（system+user）。
// 运行期不做 I/O；模板在构造期加载与解析。
type Builder struct {
	sysT  *template.Template
	userT *template.Template
}

// New 创建 PromptBuilder。
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	sysSrc, err := pick(o.InlineSystemTemplate, o.SystemTemplatePath, defaultSystemTemplate)
	if err != nil {
		return nil, fmt.Errorf("system template read: %w", err)
	}
	userSrc, err := pick(o.InlineUserTemplate, o.UserTemplatePath, defaultUserTemplate)
	if err != nil {
		return nil, fmt.Errorf("user template read: %w", err)
	}
	sysT, err := template.New("system").Parse(sysSrc)
	if err != nil {
		return nil, fmt.Errorf("system template parse: %w", err)
	}
	userT, err := template.New("user").Option("missingkey=error").Parse(userSrc)
	if err != nil {
		return nil, fmt.Errorf("user template parse: %w", err)
	}
	return &Builder{sysT: sysT, userT: userT}, nil
}

func pick(inline, path, def string) (string, error) {
	if inline != "" {
		return inline, nil
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return def, nil
}

var _ contract.PromptBuilder = (*Builder)(nil)

// Build 渲染批内每个成员的 Entry 块并附加转换指令与回复格式。
func (b *Builder) Build(ctx context.Context, ds *dataset.Dataset, batch contract.Batch, contextCols []string, instruction string) (contract.Request, error) {
	if err := ctx.Err(); err != nil {
		return contract.Request{}, err
	}
	if len(batch.Members) == 0 {
		return contract.Request{}, fmt.Errorf("prompt: %w: empty batch", contract.ErrInvalidInput)
	}
	v := View{Column: batch.Column, Instruction: instruction, Entries: make([]Entry, 0, len(batch.Members))}
	for _, m := range batch.Members {
		cur := MissingLiteral
		if c, ok := ds.Get(m.Row, batch.Column); ok && c.Valid {
			cur = c.Value
		}
		v.Entries = append(v.Entries, Entry{
			Pos:     m.Pos,
			Context: prompt.AssembleContext(ds, m.Row, contextCols),
			Current: cur,
		})
	}
	var sys, user bytes.Buffer
	if err := b.sysT.Execute(&sys, v); err != nil {
		return contract.Request{}, fmt.Errorf("system render: %w: %v", contract.ErrInvalidInput, err)
	}
	if err := b.userT.Execute(&user, v); err != nil {
		return contract.Request{}, fmt.Errorf("user render: %w: %v", contract.ErrInvalidInput, err)
	}
	return contract.Request{
		Kind: contract.KindCorrect,
		Messages: []contract.Message{
			{Role: "system", Content: sys.String()},
			{Role: "user", Content: user.String()},
		},
		Params: contract.Params{MaxTokens: 1000, Temperature: contract.Float(0.3)},
		Column: batch.Column,
		Size:   len(batch.Members),
	}, nil
}

const defaultSystemTemplate = `You are a helpful assistant.`

const defaultUserTemplate = `You are cleaning and enhancing a dataset. Each entry has various attributes that may need validation or filling in.
Your task is to assess and correct the {{.Column}} values using the given context.
{{if .Instruction}}
{{.Instruction}}
{{end}}
Here are multiple entries:
{{range .Entries}}Entry {{.Pos}}:
Context: {{.Context}}
Current {{$.Column}}: {{.Current}}
{{end}}
Respond ONLY with a JSON array (no markdown, no commentary), one object per entry, where Index is the entry number shown above:
[
  {"Index": 1, "{{.Column}}": "<Corrected Value>"},
  {"Index": 2, ...}
]
`
