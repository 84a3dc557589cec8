package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"datasmith/internal/pipeline"
	"datasmith/internal/rate"
	"datasmith/pkg/contract"
	"datasmith/pkg/registry"
)

var cfgValidator = validator.New()

// Validate 对最小必要边界做静态校验：数值范围、provider 与已注册组件名。
func Validate(cfg Config) error {
	if err := cfgValidator.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.LLM == "" {
		return errors.New("config: llm not set")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return fmt.Errorf("config: provider %q not found", cfg.LLM)
	}
	if prov.Client == "" {
		return fmt.Errorf("config: provider %q missing client", cfg.LLM)
	}
	if registry.LLMClient[prov.Client] == nil {
		return fmt.Errorf("config: llm client %q not registered", prov.Client)
	}
	n := names(cfg)
	checks := []struct {
		kind string
		name string
		ok   bool
	}{
		{"reader", n.Reader, registry.Reader[n.Reader] != nil},
		{"codec", n.Codec, registry.Codec[n.Codec] != nil},
		{"writer", n.Writer, registry.Writer[n.Writer] != nil},
		{"batcher", n.Batcher, registry.Batcher[n.Batcher] != nil},
		{"prompt_builder", n.PromptBuilder, registry.PromptBuilder[n.PromptBuilder] != nil},
		{"decoder", n.Decoder, registry.Decoder[n.Decoder] != nil},
		{"row_synthesizer", n.RowSynthesizer, registry.RowSynthesizer[n.RowSynthesizer] != nil},
		{"planner", n.Planner, registry.Planner[n.Planner] != nil},
	}
	for _, c := range checks {
		if !c.ok {
			return fmt.Errorf("config: %s %q not registered", c.kind, c.name)
		}
	}
	return nil
}

// Assemble 构造 Components 与 Settings（含限流 Gate 与分组键）。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 JSON。Settings.Input/Output 由调用方填写。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	var comp pipeline.Components
	if err := Validate(cfg); err != nil {
		return comp, pipeline.Settings{}, err
	}
	n := names(cfg)
	steps := []struct {
		kind string
		opts RawOptions
		make func(json.RawMessage) error
	}{
		{"reader", cfg.Options.Reader, func(raw json.RawMessage) (err error) {
			comp.Reader, err = registry.Reader[n.Reader](raw)
			return
		}},
		{"codec", cfg.Options.Codec, func(raw json.RawMessage) (err error) {
			comp.Codec, err = registry.Codec[n.Codec](raw)
			return
		}},
		{"writer", cfg.Options.Writer, func(raw json.RawMessage) (err error) {
			comp.Writer, err = registry.Writer[n.Writer](raw)
			return
		}},
		{"batcher", cfg.Options.Batcher, func(raw json.RawMessage) (err error) {
			comp.Batcher, err = registry.Batcher[n.Batcher](raw)
			return
		}},
		{"prompt_builder", cfg.Options.PromptBuilder, func(raw json.RawMessage) (err error) {
			comp.Prompt, err = registry.PromptBuilder[n.PromptBuilder](raw)
			return
		}},
		{"decoder", cfg.Options.Decoder, func(raw json.RawMessage) (err error) {
			comp.Decoder, err = registry.Decoder[n.Decoder](raw)
			return
		}},
		{"row_synthesizer", cfg.Options.RowSynthesizer, func(raw json.RawMessage) (err error) {
			comp.Rows, err = registry.RowSynthesizer[n.RowSynthesizer](raw)
			return
		}},
		{"planner", cfg.Options.Planner, func(raw json.RawMessage) (err error) {
			comp.Planner, err = registry.Planner[n.Planner](raw)
			return
		}},
	}
	for _, s := range steps {
		raw, err := s.opts.JSON()
		if err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("options.%s: %w", s.kind, err)
		}
		if err := s.make(raw); err != nil {
			return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("%s: %w", s.kind, err)
		}
	}

	// LLM 客户端
	prov := cfg.Provider[cfg.LLM]
	praw, err := prov.Options.JSON()
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("provider.%s.options: %w", cfg.LLM, err)
	}
	comp.LLM, err = registry.LLMClient[prov.Client](praw)
	if err != nil {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("llm %s: %w", cfg.LLM, err)
	}

	// 限流 Gate：分组键优先由 API Key 派生；失败则退化为 provider 名称。
	key, derr := rate.DeriveKey(prov.Client, praw)
	if derr != nil {
		key = rate.LimitKey(cfg.LLM)
	}
	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{
		key: {RPM: prov.Limits.RPM, TPM: prov.Limits.TPM, MaxTokensPerReq: prov.Limits.MaxTokensPerReq},
	}, nil)

	set := pipeline.Settings{
		Concurrency:    cfg.Concurrency,
		MaxRetries:     cfg.MaxRetries,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		BytesPerToken:  cfg.BytesPerToken,
		Gate:           gate,
		GateKey:        key,
		Correct:        generation(cfg.Generation.Correct),
		Rows:           generation(cfg.Generation.Rows),
		Plan:           generation(cfg.Generation.Plan),
		LLMName:        cfg.LLM,
	}
	return comp, set, nil
}

func generation(g GenParams) pipeline.Generation {
	out := pipeline.Generation{Model: g.Model, MaxTokens: g.MaxTokens}
	if g.Temperature != nil {
		out.Temperature = contract.Float(*g.Temperature)
	}
	return out
}

// names 返回生效的组件名（空值取默认）。
func names(cfg Config) Components {
	d := Defaults().Components
	c := cfg.Components
	pick(&d.Reader, c.Reader)
	pick(&d.Codec, c.Codec)
	pick(&d.Writer, c.Writer)
	pick(&d.Batcher, c.Batcher)
	pick(&d.PromptBuilder, c.PromptBuilder)
	pick(&d.Decoder, c.Decoder)
	pick(&d.RowSynthesizer, c.RowSynthesizer)
	pick(&d.Planner, c.Planner)
	return d
}
