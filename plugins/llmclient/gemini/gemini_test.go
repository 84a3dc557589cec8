package gemini

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"datasmith/pkg/contract"
)

type capture struct {
	model    string
	contents []*genai.Content
	cfg      *genai.GenerateContentConfig
}

func fakeClient(resp *genai.GenerateContentResponse, err error, cap *capture) *Client {
	return &Client{
		model: "gemini-test",
		generate: func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			if cap != nil {
				cap.model, cap.contents, cap.cfg = model, contents, cfg
			}
			return resp, err
		},
	}
}

func textResp(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(s, genai.RoleModel)}}}
}

func TestCompleteMapsMessagesAndParams(t *testing.T) {
	var cp capture
	c := fakeClient(textResp(`[{"Index":1}]`), nil, &cp)
	req := contract.Request{
		Kind:     contract.KindCorrect,
		Messages: []contract.Message{{Role: "system", Content: "be helpful"}, {Role: "user", Content: "hi"}, {Role: "assistant", Content: "ok"}},
		Params:   contract.Params{MaxTokens: 1000, Temperature: contract.Float(0.3)},
	}
	raw, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, `[{"Index":1}]`, raw.Text)

	require.Equal(t, "gemini-test", cp.model)
	require.Len(t, cp.contents, 2)
	require.Equal(t, genai.RoleUser, cp.contents[0].Role)
	require.Equal(t, genai.RoleModel, cp.contents[1].Role)
	require.NotNil(t, cp.cfg.SystemInstruction)
	require.Equal(t, "be helpful", cp.cfg.SystemInstruction.Parts[0].Text)
	require.EqualValues(t, 1000, cp.cfg.MaxOutputTokens)
	require.InDelta(t, 0.3, float64(*cp.cfg.Temperature), 1e-6)

	req.Params.Model = "override"
	_, err = c.Complete(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "override", cp.model)
}

func TestCompleteEmptyResponse(t *testing.T) {
	c := fakeClient(&genai.GenerateContentResponse{}, nil, nil)
	_, err := c.Complete(context.Background(), contract.Request{Messages: []contract.Message{{Role: "user", Content: "x"}}})
	require.ErrorIs(t, err, contract.ErrResponseInvalid)

	_, err = c.Complete(context.Background(), contract.Request{Messages: []contract.Message{{Role: "system", Content: "only"}}})
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestClassify(t *testing.T) {
	require.ErrorIs(t, classify(genai.APIError{Code: http.StatusTooManyRequests}), contract.ErrRateLimited)

	err := classify(genai.APIError{Code: http.StatusServiceUnavailable, Message: "overloaded"})
	var ne net.Error
	require.True(t, errors.As(err, &ne))
	var ue contract.UpstreamError
	require.True(t, errors.As(err, &ue))
	require.Equal(t, "overloaded", ue.UpstreamMessage())

	require.ErrorIs(t, classify(genai.APIError{Code: http.StatusBadRequest}), contract.ErrInvalidInput)

	plain := errors.New("dial tcp: refused")
	require.Equal(t, plain, classify(plain))
}

func TestCompleteCanceled(t *testing.T) {
	c := fakeClient(nil, errors.New("transport closed"), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, contract.Request{Messages: []contract.Message{{Role: "user", Content: "x"}}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRequiresKey(t *testing.T) {
	t.Setenv("DATASMITH_TEST_NO_KEY", "")
	_, err := New([]byte(`{"api_key_env":"DATASMITH_TEST_NO_KEY"}`))
	require.ErrorIs(t, err, contract.ErrInvalidInput)
}
