package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"datasmith/pkg/contract"
)

// TestStrictUnmarshal 验证严格解码逻辑。
func TestStrictUnmarshal(t *testing.T) {
	type opt struct {
		A int `json:"a"`
	}
	var o opt
	require.NoError(t, strictUnmarshal(nil, &o))
	require.Zero(t, o.A)
	require.NoError(t, strictUnmarshal(json.RawMessage(`{"a":1}`), &o))
	require.Equal(t, 1, o.A)
	require.Error(t, strictUnmarshal(json.RawMessage(`{"a":1,"b":2}`), &o), "未知字段应报错")
}

// TestFactories 遍历注册表入口：空选项可构造，未知字段被拒绝。
func TestFactories(t *testing.T) {
	type factory func(json.RawMessage) (any, error)
	wrap := func(f any) factory {
		switch fn := f.(type) {
		case NewReader:
			return func(r json.RawMessage) (any, error) { return fn(r) }
		case NewCodec:
			return func(r json.RawMessage) (any, error) { return fn(r) }
		case NewBatcher:
			return func(r json.RawMessage) (any, error) { return fn(r) }
		case NewPromptBuilder:
			return func(r json.RawMessage) (any, error) { return fn(r) }
		case NewDecoder:
			return func(r json.RawMessage) (any, error) { return fn(r) }
		case NewRowSynthesizer:
			return func(r json.RawMessage) (any, error) { return fn(r) }
		case NewPlanner:
			return func(r json.RawMessage) (any, error) { return fn(r) }
		case NewWriter:
			return func(r json.RawMessage) (any, error) { return fn(r) }
		}
		t.Fatalf("unexpected factory %T", f)
		return nil
	}
	cases := map[string]factory{
		"reader/fs":          wrap(Reader["fs"]),
		"codec/csv":          wrap(Codec["csv"]),
		"batcher/eligible":   wrap(Batcher["eligible"]),
		"prompt/correct":     wrap(PromptBuilder["correct"]),
		"decoder/correction": wrap(Decoder["correction"]),
		"synth/fewshot":      wrap(RowSynthesizer["fewshot"]),
		"planner/nl":         wrap(Planner["nl"]),
		"writer/fs":          wrap(Writer["fs"]),
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			v, err := f(json.RawMessage(`{}`))
			require.NoError(t, err)
			require.NotNil(t, v)
			_, err = f(json.RawMessage(`{"x":1}`))
			require.Error(t, err, "未知字段应报错")
		})
	}
}

func TestCodecBadDelimiter(t *testing.T) {
	_, err := Codec["csv"](json.RawMessage(`{"delimiter":"ab"}`))
	require.True(t, errors.Is(err, contract.ErrInvalidInput))
}

func TestWriterOutputDir(t *testing.T) {
	raw := json.RawMessage(fmt.Sprintf(`{"output_dir":%q}`, t.TempDir()))
	_, err := Writer["fs"](raw)
	require.NoError(t, err)
}

func TestLLMClients(t *testing.T) {
	for _, name := range []string{"mock", "flaky"} {
		c, err := LLMClient[name](json.RawMessage(`{}`))
		require.NoError(t, err, name)
		require.NotNil(t, c)
	}
	noKey := json.RawMessage(`{"api_key_env":"DATASMITH_TEST_UNSET_KEY"}`)
	for _, name := range []string{"openai", "gemini"} {
		_, err := LLMClient[name](noKey)
		require.True(t, errors.Is(err, contract.ErrInvalidInput), "%s: %v", name, err)
	}
}
