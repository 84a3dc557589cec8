package fewshot

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"datasmith/internal/jsonx"
	"datasmith/pkg/contract"
	"datasmith/pkg/dataset"
)

// DefaultSampleSize: 提示词中展示的样例行上限。
const DefaultSampleSize = 5

// Options 为少样本行合成器配置。
// - SampleSize: 样例行数上限（默认 5）。
// - Seed: 抽样随机种子；0 表示按时间取种。
type Options struct {
	SampleSize int    `json:"sample_size"`
	Seed       uint64 `json:"seed"`
}

// Synth: 从现有数据抽样构造合成请求，并严格解析回复。
type Synth struct {
	sample int
	mu     sync.Mutex
	rng    *rand.Rand
}

// New 创建行合成器。
func New(opts *Options) (*Synth, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.SampleSize < 0 {
		return nil, fmt.Errorf("fewshot: %w: sample_size < 0", contract.ErrInvalidInput)
	}
	if o.SampleSize == 0 {
		o.SampleSize = DefaultSampleSize
	}
	seed := o.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Synth{sample: o.SampleSize, rng: rand.New(rand.NewPCG(seed, seed>>1|1))}, nil
}

var _ contract.RowSynthesizer = (*Synth)(nil)

// BuildRequest 抽取至多 SampleSize 行作为样例；样例按数据集顺序展示。
func (s *Synth) BuildRequest(ctx context.Context, ds *dataset.Dataset, count int, description string) (contract.Request, error) {
	if err := ctx.Err(); err != nil {
		return contract.Request{}, err
	}
	if count <= 0 {
		return contract.Request{}, fmt.Errorf("fewshot: %w: count=%d", contract.ErrInvalidInput, count)
	}
	ids := ds.IDs()
	if len(ids) == 0 {
		return contract.Request{}, fmt.Errorf("fewshot: %w: empty dataset", contract.ErrInvalidInput)
	}
	picked := s.pick(len(ids))
	cols := ds.Columns()

	var sb strings.Builder
	sb.WriteString("You are generating synthetic data that matches the patterns in an existing dataset.\n\n")
	if d := strings.TrimSpace(description); d != "" {
		fmt.Fprintf(&sb, "Dataset description: %s\n\n", d)
	}
	fmt.Fprintf(&sb, "The dataset has the following columns: %s\n\n", strings.Join(cols, ", "))
	sb.WriteString("Here are some example rows from the dataset:\n")
	for i, idx := range picked {
		rec, ok := ds.Row(ids[idx])
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "Row %d:\n", i+1)
		for _, k := range rec.Keys {
			if c := rec.Values[k]; c.Valid {
				fmt.Fprintf(&sb, "  %s: %s\n", k, c.Value)
			}
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Please generate %d new rows that follow the same patterns and relationships between columns.\n", count)
	sb.WriteString("The data should be realistic and consistent with the examples.\n\n")
	sb.WriteString("IMPORTANT: Make sure to include ALL columns in your response, even if some values are null or empty.\n\n")
	sb.WriteString("Return the data as a JSON array of objects, where each object represents a row with column names as keys.\n")
	sb.WriteString("Example format:\n[\n  {\"column1\": \"value1\", \"column2\": \"value2\", ...},\n  {\"column1\": \"value3\", \"column2\": \"value4\", ...}\n]\n")

	return contract.Request{
		Kind: contract.KindRows,
		Messages: []contract.Message{
			{Role: "system", Content: "You are a helpful assistant that generates realistic synthetic data."},
			{Role: "user", Content: sb.String()},
		},
		Params:  contract.Params{MaxTokens: 2000, Temperature: contract.Float(0.7)},
		Size:    count,
		Columns: cols,
	}, nil
}

// pick 返回升序的样例下标；n 不超过样例上限时取全部。
func (s *Synth) pick(n int) []int {
	if n <= s.sample {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	s.mu.Lock()
	out := s.rng.Perm(n)[:s.sample]
	s.mu.Unlock()
	slices.Sort(out)
	return out
}

// Decode 期望回复含 JSON 对象数组；任一元素非对象或行数不足时整体失败，多余行截断。
func (s *Synth) Decode(ctx context.Context, raw contract.Raw, count int) ([]dataset.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var arr []json.RawMessage
	if err := jsonx.Unmarshal(raw.Text, '[', ']', &arr); err != nil {
		return nil, fmt.Errorf("decode rows: %w: %v", contract.ErrResponseInvalid, err)
	}
	if len(arr) < count {
		return nil, fmt.Errorf("decode rows: %w: got %d rows, want %d", contract.ErrResponseInvalid, len(arr), count)
	}
	arr = arr[:count]
	out := make([]dataset.Record, 0, count)
	for i, el := range arr {
		keys, vals, err := jsonx.Object(el)
		if err != nil {
			return nil, fmt.Errorf("decode rows: %w: row %d: %v", contract.ErrResponseInvalid, i+1, err)
		}
		rec := dataset.NewRecord()
		for _, k := range keys {
			if strings.TrimSpace(k) == "" {
				continue
			}
			v := vals[k]
			if jsonx.IsNull(v) {
				rec.Put(k, dataset.Null())
				continue
			}
			rec.Put(k, dataset.Str(jsonx.Stringify(v)))
		}
		out = append(out, rec)
	}
	return out, nil
}
