package jsonx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpan(t *testing.T) {
	s, ok := Span("noise [1,2] more ] end", '[', ']')
	require.True(t, ok)
	require.Equal(t, "[1,2] more ]", s)

	_, ok = Span("] before [", '[', ']')
	require.False(t, ok)
	_, ok = Span("nothing", '{', '}')
	require.False(t, ok)
}

func TestUnmarshalFallback(t *testing.T) {
	var v []int
	require.NoError(t, Unmarshal("```json\n[1, 2, 3]\n```", '[', ']', &v))
	require.Equal(t, []int{1, 2, 3}, v)

	var m map[string]int
	require.NoError(t, Unmarshal(`{"a": 1}`, '{', '}', &m))
	require.Equal(t, 1, m["a"])

	require.Error(t, Unmarshal("no json here", '[', ']', &v))
	require.Error(t, Unmarshal("[1, oops]", '[', ']', &v))
}

func TestStringify(t *testing.T) {
	cases := map[string]string{
		`"hello"`:       "hello",
		`12.50`:         "12.50",
		`true`:          "true",
		`{"a": [1, 2]}`: `{"a":[1,2]}`,
		` "" `:          "",
	}
	for in, want := range cases {
		require.Equal(t, want, Stringify(json.RawMessage(in)), in)
	}
}

func TestIntAndNull(t *testing.T) {
	for in, want := range map[string]int{`3`: 3, `"4"`: 4, `5.0`: 5, `" 6 "`: 6} {
		n, ok := Int(json.RawMessage(in))
		require.True(t, ok, in)
		require.Equal(t, want, n, in)
	}
	for _, in := range []string{`"x"`, `1.5`, `null`, ``, `[1]`} {
		_, ok := Int(json.RawMessage(in))
		require.False(t, ok, in)
	}
	require.True(t, IsNull(json.RawMessage(" null ")))
	require.True(t, IsNull(nil))
	require.False(t, IsNull(json.RawMessage(`""`)))
}

func TestObjectKeepsOrder(t *testing.T) {
	keys, vals, err := Object(json.RawMessage(`{"b": 1, "a": null, "b": 2, "c": "x"}`))
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a", "c"}, keys)
	require.Equal(t, "2", string(vals["b"]))
	require.True(t, IsNull(vals["a"]))

	_, _, err = Object(json.RawMessage(`[1]`))
	require.Error(t, err)
}
