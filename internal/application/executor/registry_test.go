package executor

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smilemakc/planflow/internal/domain"
	flowerrors "github.com/smilemakc/planflow/internal/domain/errors"
)

type stubDoer struct {
	req  *http.Request
	resp *http.Response
	err  error
}

func (d *stubDoer) Do(req *http.Request) (*http.Response, error) {
	d.req = req
	if d.err != nil {
		return nil, d.err
	}
	return d.resp, nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func httpToolCtx() *domain.ToolContext {
	return &domain.ToolContext{Context: context.Background()}
}

func TestHTTPTool_DecodesJSONBody(t *testing.T) {
	doer := &stubDoer{resp: jsonResponse(200, `{"items": [1, 2]}`)}
	tool := NewHTTPTool(doer)

	out, suspend, err := tool.Execute(map[string]any{
		"method": "get",
		"url":    "http://example.com/items",
	}, httpToolCtx())
	require.NoError(t, err)
	assert.Nil(t, suspend)

	assert.Equal(t, 200, out["status"])
	assert.Equal(t, map[string]any{"items": []any{float64(1), float64(2)}}, out["data"])
	assert.Equal(t, http.MethodGet, doer.req.Method)
}

func TestHTTPTool_SendsJSONBodyAndHeaders(t *testing.T) {
	doer := &stubDoer{resp: jsonResponse(201, `{}`)}
	tool := NewHTTPTool(doer)

	_, _, err := tool.Execute(map[string]any{
		"method":  "post",
		"url":     "http://example.com/create",
		"headers": map[string]any{"X-Token": "abc"},
		"body":    map[string]any{"name": "thing"},
	}, httpToolCtx())
	require.NoError(t, err)

	assert.Equal(t, "abc", doer.req.Header.Get("X-Token"))
	assert.Equal(t, "application/json", doer.req.Header.Get("Content-Type"))
	sent, _ := io.ReadAll(doer.req.Body)
	assert.JSONEq(t, `{"name":"thing"}`, string(sent))
}

func TestHTTPTool_StatusClassification(t *testing.T) {
	t.Run("5xx is transient", func(t *testing.T) {
		tool := NewHTTPTool(&stubDoer{resp: jsonResponse(503, `{}`)})
		_, _, err := tool.Execute(map[string]any{"method": "GET", "url": "http://x"}, httpToolCtx())
		require.Error(t, err)
		var fe *flowerrors.FlowError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, flowerrors.ErrToolFailureTransient, fe.Kind)
	})

	t.Run("4xx is permanent", func(t *testing.T) {
		tool := NewHTTPTool(&stubDoer{resp: jsonResponse(404, `{}`)})
		_, _, err := tool.Execute(map[string]any{"method": "GET", "url": "http://x"}, httpToolCtx())
		require.Error(t, err)
		var fe *flowerrors.FlowError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, flowerrors.ErrToolFailurePermanent, fe.Kind)
	})
}

func TestHTTPTool_MissingRequiredInputs(t *testing.T) {
	tool := NewHTTPTool(&stubDoer{})
	_, _, err := tool.Execute(map[string]any{"url": "http://x"}, httpToolCtx())
	require.Error(t, err)
	var fe *flowerrors.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, flowerrors.ErrInputValidation, fe.Kind)
}

func TestNewRegistry_RegistersReferenceTools(t *testing.T) {
	reg := NewRegistry(&stubDoer{}, nil)

	_, ok := reg.Tool("http.request")
	assert.True(t, ok)
	_, ok = reg.Tool("llm.complete")
	assert.False(t, ok, "llm tool absent without an OpenAI client")
}

func TestRegistry_JoinLookup(t *testing.T) {
	reg := domain.NewRegistry()
	join := &domain.Join{FromToolID: "a", ToToolID: "b",
		Decode: func(m map[string]any) (map[string]any, error) { return m, nil }}
	reg.RegisterJoin(join)

	got, ok := reg.JoinFor("a", "b")
	require.True(t, ok)
	assert.Same(t, join, got)

	_, ok = reg.JoinFor("b", "a")
	assert.False(t, ok, "joins are directional")
}

func TestJoinRoundTrip(t *testing.T) {
	join := &domain.Join{
		FromToolID: "a", ToToolID: "b",
		Decode: func(from map[string]any) (map[string]any, error) {
			return map[string]any{"text": from["title"]}, nil
		},
		Encode: func(to map[string]any) (map[string]any, error) {
			return map[string]any{"title": to["text"]}, nil
		},
	}

	to := map[string]any{"text": "Item-1"}
	encoded, err := join.Encode(to)
	require.NoError(t, err)
	decoded, err := join.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, to, decoded)
}
