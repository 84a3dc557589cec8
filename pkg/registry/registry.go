package registry

import (
	"bytes"
	"encoding/json"

	"datasmith/pkg/contract"
	beli "datasmith/plugins/batcher/eligible"
	ccsv "datasmith/plugins/codec/csv"
	dcor "datasmith/plugins/decoder/correction"
	flaky "datasmith/plugins/llmclient/flaky"
	gmi "datasmith/plugins/llmclient/gemini"
	mock "datasmith/plugins/llmclient/mock"
	oai "datasmith/plugins/llmclient/openai"
	pnl "datasmith/plugins/planner/nl"
	pcor "datasmith/plugins/prompt/correct"
	rfs "datasmith/plugins/reader/filesystem"
	sfew "datasmith/plugins/synth/fewshot"
	wfs "datasmith/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// 工厂签名：均接收原样 JSON Options。
type (
	NewReader         func(raw json.RawMessage) (contract.Reader, error)
	NewCodec          func(raw json.RawMessage) (contract.Codec, error)
	NewBatcher        func(raw json.RawMessage) (contract.Batcher, error)
	NewPromptBuilder  func(raw json.RawMessage) (contract.PromptBuilder, error)
	NewLLMClient      func(raw json.RawMessage) (contract.LLMClient, error)
	NewDecoder        func(raw json.RawMessage) (contract.Decoder, error)
	NewRowSynthesizer func(raw json.RawMessage) (contract.RowSynthesizer, error)
	NewPlanner        func(raw json.RawMessage) (contract.Planner, error)
	NewWriter         func(raw json.RawMessage) (contract.Writer, error)
)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Codec 工厂注册表。
var Codec = map[string]NewCodec{
	"csv": func(raw json.RawMessage) (contract.Codec, error) {
		var opts ccsv.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ccsv.New(&opts)
	},
}

// Batcher 工厂注册表。
var Batcher = map[string]NewBatcher{
	// eligible: 可处理行连续切批
	"eligible": func(raw json.RawMessage) (contract.Batcher, error) {
		var opts beli.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return beli.New(&opts), nil
	},
}

// PromptBuilder 工厂注册表。
var PromptBuilder = map[string]NewPromptBuilder{
	// correct: 批量修正/补全
	"correct": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts pcor.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pcor.New(&opts)
	},
}

// LLMClient 工厂注册表。
var LLMClient = map[string]NewLLMClient{
	"openai": func(raw json.RawMessage) (contract.LLMClient, error) { return oai.New(raw) },
	"gemini": func(raw json.RawMessage) (contract.LLMClient, error) { return gmi.New(raw) },
	"mock":   func(raw json.RawMessage) (contract.LLMClient, error) { return mock.New(raw) },
	"flaky":  func(raw json.RawMessage) (contract.LLMClient, error) { return flaky.New(raw) },
}

// Decoder 工厂注册表。
var Decoder = map[string]NewDecoder{
	// correction: [{"Index":n,"<col>":value}] 解码器
	"correction": func(raw json.RawMessage) (contract.Decoder, error) {
		var opts dcor.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return dcor.New(&opts)
	},
}

// RowSynthesizer 工厂注册表。
var RowSynthesizer = map[string]NewRowSynthesizer{
	// fewshot: 抽样示例行 → 合成新行
	"fewshot": func(raw json.RawMessage) (contract.RowSynthesizer, error) {
		var opts sfew.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return sfew.New(&opts)
	},
}

// Planner 工厂注册表。
var Planner = map[string]NewPlanner{
	// nl: 自然语言 → Plan
	"nl": func(raw json.RawMessage) (contract.Planner, error) {
		var opts pnl.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pnl.New(&opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
