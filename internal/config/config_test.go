package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"datasmith/internal/rate"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

// 解析 YAML 配置
func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "config.yaml", `
concurrency: 4
llm: local
provider:
  local:
    client: openai
    options: {base_url: "http://localhost:11434/v1", api_key: x, model: llama3}
    limits: {rpm: 30}
generation:
  correct: {temperature: 0}
options:
  codec: {delimiter: ";"}
`)
	cfg, err := Load(p, nil)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Concurrency)
	require.Equal(t, -1, cfg.MaxRetries, "未出现的 max_retries 记为未设置")
	require.Equal(t, "openai", cfg.Provider["local"].Client)
	require.Equal(t, "llama3", cfg.Provider["local"].Options["model"])
	require.NotNil(t, cfg.Generation.Correct.Temperature)
	require.Zero(t, *cfg.Generation.Correct.Temperature)

	merged := Merge(Defaults(), cfg)
	require.Equal(t, 2, merged.MaxRetries)
	require.NoError(t, Validate(merged))
}

// JSON 作为 YAML 子集可读
func TestLoadJSONAsYAML(t *testing.T) {
	cfg, err := Load("", []byte(`{"llm":"mock","provider":{"mock":{"client":"mock"}},"max_retries":0}`))
	require.NoError(t, err)
	require.Equal(t, 0, cfg.MaxRetries)
	require.Equal(t, 0, Merge(Defaults(), cfg).MaxRetries)
}

func TestLoadUnknownField(t *testing.T) {
	_, err := Load("", []byte("unknown: 1\n"))
	require.Error(t, err)
	_, err = Load("", []byte("server: {port: 1}\n"))
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
	_, err = Load("", nil)
	require.Error(t, err)
}

// ENV 覆盖部分字段
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"DATASMITH_CONCURRENCY=3",
		"DATASMITH_MAX_RETRIES=0",
		"DATASMITH_LLM=mock",
		"DATASMITH_COMPONENTS_READER=fs",
		"DATASMITH_SERVER_ALLOWED_ORIGINS=http://a, http://b",
		"DATASMITH_PROVIDER__mock__CLIENT=mock",
		"DATASMITH_PROVIDER__mock__LIMITS_RPM=12",
		`DATASMITH_PROVIDER__mock__OPTIONS_JSON={"prefix":"ENV"}`,
		"DATASMITH_PROVIDER__openai__CLIENT=",
		"OTHER_CONCURRENCY=9",
	}
	over, err := EnvOverlay(env)
	require.NoError(t, err)
	require.Equal(t, 3, over.Concurrency)
	require.Equal(t, 0, over.MaxRetries)
	require.Equal(t, "mock", over.LLM)
	require.Equal(t, []string{"http://a", "http://b"}, over.Server.AllowedOrigins)
	require.Equal(t, 12, over.Provider["mock"].Limits.RPM)
	require.Equal(t, "ENV", over.Provider["mock"].Options["prefix"])
	_, ok := over.Provider["openai"]
	require.False(t, ok, "空值不应产生 provider 覆盖")

	_, err = EnvOverlay([]string{"DATASMITH_PROVIDER__x__OPTIONS_JSON={bad"})
	require.Error(t, err)
}

func TestMergeProviderFieldwise(t *testing.T) {
	base := Defaults()
	base.Provider = map[string]Provider{"p": {Client: "openai", Options: RawOptions{"api_key": "k"}, Limits: Limits{RPM: 5, TPM: 100}}}
	over := Config{MaxRetries: -1, Provider: map[string]Provider{"p": {Limits: Limits{RPM: 9}}}}
	out := Merge(base, over)
	require.Equal(t, "openai", out.Provider["p"].Client)
	require.Equal(t, "k", out.Provider["p"].Options["api_key"])
	require.Equal(t, Limits{RPM: 9, TPM: 100}, out.Provider["p"].Limits)
	// 原映射不被修改
	require.Equal(t, 5, base.Provider["p"].Limits.RPM)
}

func TestValidateErrors(t *testing.T) {
	require.Error(t, Validate(Config{}))

	cfg, err := DefaultTemplateConfig()
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	bad := cfg
	bad.Concurrency = 0
	require.Error(t, Validate(bad))

	bad = cfg
	bad.LLM = "missing"
	require.Error(t, Validate(bad))

	bad = cfg
	bad.Provider = map[string]Provider{"mock": {Client: ""}}
	require.Error(t, Validate(bad))

	bad = cfg
	bad.Components.Codec = "xlsx"
	require.ErrorContains(t, Validate(bad), "codec")

	bad = cfg
	tooHot := 3.0
	bad.Generation.Rows.Temperature = &tooHot
	require.Error(t, Validate(bad))
}

func TestAssembleTemplate(t *testing.T) {
	cfg, err := DefaultTemplateConfig()
	require.NoError(t, err)
	comp, set, err := Assemble(cfg)
	require.NoError(t, err)
	require.NotNil(t, comp.Reader)
	require.NotNil(t, comp.Codec)
	require.NotNil(t, comp.Writer)
	require.NotNil(t, comp.Batcher)
	require.NotNil(t, comp.Prompt)
	require.NotNil(t, comp.Decoder)
	require.NotNil(t, comp.Rows)
	require.NotNil(t, comp.Planner)
	require.NotNil(t, comp.LLM)
	require.NotNil(t, set.Gate)
	require.Equal(t, "mock", set.LLMName)
	require.Equal(t, 2, set.MaxRetries)
	require.Equal(t, 1000, set.Correct.MaxTokens)
	require.InDelta(t, 0.7, *set.Rows.Temperature, 1e-9)

	want, err := rate.DeriveKey("mock", nil)
	require.NoError(t, err)
	require.Equal(t, want, set.GateKey)
}

func TestAssembleRejectsUnknownOption(t *testing.T) {
	cfg, err := DefaultTemplateConfig()
	require.NoError(t, err)
	cfg.Options.Batcher = RawOptions{"window": 3}
	_, _, err = Assemble(cfg)
	require.ErrorContains(t, err, "batcher")
}

func TestFindPrefersExplicitThenEnv(t *testing.T) {
	require.Equal(t, "x.yaml", Find("x.yaml"))
	t.Setenv(EnvPrefix+"CONFIG_FILE", "env.yaml")
	require.Equal(t, "env.yaml", Find(""))
}

func TestRawOptionsJSON(t *testing.T) {
	raw, err := RawOptions(nil).JSON()
	require.NoError(t, err)
	require.Nil(t, raw)
	raw, err = RawOptions{"a": []any{1, "b"}}.JSON()
	require.NoError(t, err)
	require.JSONEq(t, `{"a":[1,"b"]}`, string(raw))
}

func TestSplitCommaAtoi(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, splitComma("a, b , ,c"))
	v, err := atoi(" 10 ")
	require.NoError(t, err)
	require.Equal(t, 10, v)
}
