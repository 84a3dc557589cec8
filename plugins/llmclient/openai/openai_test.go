package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"datasmith/pkg/contract"
)

func newTestClient(t *testing.T, h http.HandlerFunc, extra map[string]any) contract.LLMClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts := map[string]any{"base_url": srv.URL, "api_key": "sk-test"}
	for k, v := range extra {
		opts[k] = v
	}
	raw, _ := json.Marshal(opts)
	c, err := New(raw)
	require.NoError(t, err)
	return c
}

func chatReq(kind contract.RequestKind) contract.Request {
	return contract.Request{
		Kind:     kind,
		Messages: []contract.Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}},
		Params:   contract.Params{MaxTokens: 1000, Temperature: contract.Float(0.3)},
	}
}

func TestCompleteSendsParams(t *testing.T) {
	var got chatRequest
	var auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"[]"}}]}`))
	}, map[string]any{"json_object_for_plan": true})

	raw, err := c.Complete(context.Background(), chatReq(contract.KindCorrect))
	require.NoError(t, err)
	require.Equal(t, "[]", raw.Text)
	require.Equal(t, "Bearer sk-test", auth)
	require.Equal(t, DefaultModel, got.Model)
	require.Equal(t, 1000, got.MaxTokens)
	require.InDelta(t, 0.3, *got.Temperature, 1e-9)
	require.Len(t, got.Messages, 2)
	require.Nil(t, got.ResponseFormat)

	req := chatReq(contract.KindPlan)
	req.Params.Model = "gpt-x"
	_, err = c.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "gpt-x", got.Model)
	require.NotNil(t, got.ResponseFormat)
	require.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestCompleteStatusMapping(t *testing.T) {
	status := http.StatusTooManyRequests
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("boom"))
	}, nil)

	_, err := c.Complete(context.Background(), chatReq(contract.KindCorrect))
	require.ErrorIs(t, err, contract.ErrRateLimited)

	status = http.StatusBadGateway
	_, err = c.Complete(context.Background(), chatReq(contract.KindCorrect))
	var ne net.Error
	require.True(t, errors.As(err, &ne))
	var ue contract.UpstreamError
	require.True(t, errors.As(err, &ue))
	require.Equal(t, http.StatusBadGateway, ue.UpstreamStatus())
	require.Equal(t, "boom", ue.UpstreamMessage())

	status = http.StatusBadRequest
	_, err = c.Complete(context.Background(), chatReq(contract.KindCorrect))
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestCompleteInvalidBody(t *testing.T) {
	body := `not json`
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(body)) }, nil)
	_, err := c.Complete(context.Background(), chatReq(contract.KindCorrect))
	require.ErrorIs(t, err, contract.ErrResponseInvalid)

	body = `{"choices":[]}`
	_, err = c.Complete(context.Background(), chatReq(contract.KindCorrect))
	require.ErrorIs(t, err, contract.ErrResponseInvalid)

	_, err = c.Complete(context.Background(), contract.Request{Kind: contract.KindCorrect})
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestCompleteUpstreamDetails(t *testing.T) {
	body := `{"error":{"message":"model overloaded","type":"server_error"}}`
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if body == "" {
			_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"[{\"Index\":1"},"finish_reason":"length"}]}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(body))
	}, map[string]any{"extra_headers": map[string]string{"X-Org": "o1"}})

	_, err := c.Complete(context.Background(), chatReq(contract.KindCorrect))
	var ue contract.UpstreamError
	require.True(t, errors.As(err, &ue))
	require.Equal(t, "model overloaded", ue.UpstreamMessage())

	body = ""
	_, err = c.Complete(context.Background(), chatReq(contract.KindCorrect))
	require.ErrorIs(t, err, contract.ErrResponseInvalid)
}

func TestExtraHeadersAndNoAuth(t *testing.T) {
	var h http.Header
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		h = r.Header.Clone()
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}, map[string]any{"disable_default_auth": true, "extra_headers": map[string]string{"api-key": "azure"}})
	_, err := c.Complete(context.Background(), chatReq(contract.KindRows))
	require.NoError(t, err)
	require.Empty(t, h.Get("Authorization"))
	require.Equal(t, "azure", h.Get("Api-Key"))
	require.Equal(t, "application/json", h.Get("Content-Type"))
}

func TestNewRequiresKey(t *testing.T) {
	t.Setenv("DATASMITH_TEST_NO_KEY", "")
	_, err := New(json.RawMessage(`{"api_key_env":"DATASMITH_TEST_NO_KEY"}`))
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestJoinURL(t *testing.T) {
	require.Equal(t, "https://x/v1/chat", joinURL("https://x/v1/", "/chat"))
	require.Equal(t, "http://other/p", joinURL("https://x", "http://other/p"))
}
