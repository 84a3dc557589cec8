package correction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"datasmith/internal/jsonx"
	"datasmith/pkg/contract"
)

// Options 为修正回复解码器的配置。
// - IndexKey: 序号字段名（默认 "Index"，匹配时不区分大小写）。
// - Strict: 为 true 时不做片段回退，仅接受整体为 JSON 数组的回复。
type Options struct {
	IndexKey string `json:"index_key"`
	Strict   bool   `json:"strict"`
}

type decoder struct {
	indexKey string
	strict   bool
}

// New 创建解码器。
func New(opts *Options) (contract.Decoder, error) {
	d := &decoder{indexKey: "Index"}
	if opts != nil {
		if k := strings.TrimSpace(opts.IndexKey); k != "" {
			d.indexKey = k
		}
		d.strict = opts.Strict
	}
	return d, nil
}

var _ contract.Decoder = (*decoder)(nil)

// Decode 期望回复为 [{"Index": n, "<col>": value}, ...]。
// 数组整体不可解析时返回 ErrResponseInvalid；单个元素的问题只丢弃该元素。
func (d *decoder) Decode(ctx context.Context, b contract.Batch, raw contract.Raw) ([]contract.Correction, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	var arr []json.RawMessage
	var err error
	if d.strict {
		err = json.Unmarshal([]byte(strings.TrimSpace(raw.Text)), &arr)
	} else {
		err = jsonx.Unmarshal(raw.Text, '[', ']', &arr)
	}
	if err != nil {
		return nil, fmt.Errorf("decode corrections: %w: %v", contract.ErrResponseInvalid, err)
	}
	out := make([]contract.Correction, 0, len(arr))
	for _, el := range arr {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(el, &obj); err != nil {
			continue
		}
		idxRaw, ok := lookup(obj, d.indexKey)
		if !ok {
			continue
		}
		pos, ok := jsonx.Int(idxRaw)
		if !ok {
			continue
		}
		if _, ok := b.RowAt(pos); !ok {
			continue
		}
		val, ok := lookup(obj, b.Column)
		if !ok || jsonx.IsNull(val) {
			continue
		}
		out = append(out, contract.Correction{Pos: pos, Value: jsonx.Stringify(val)})
	}
	return out, nil
}

// lookup 先精确匹配键名，失败后不区分大小写匹配。
func lookup(obj map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	if v, ok := obj[key]; ok {
		return v, true
	}
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
