package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/smilemakc/planflow/internal/domain"
	flowerrors "github.com/smilemakc/planflow/internal/domain/errors"
)

// NewRegistry builds a domain.Registry pre-populated with the engine's
// reference tools; production deployments register additional Tools on
// top of these.
func NewRegistry(httpClient HTTPDoer, openaiClient *openai.Client) *domain.Registry {
	r := domain.NewRegistry()
	r.RegisterTool(NewHTTPTool(httpClient))
	if openaiClient != nil {
		r.RegisterTool(NewLLMCompletionTool(openaiClient))
	}
	return r
}

// HTTPDoer is a minimal HTTP client abstraction so HTTPTool can be
// unit-tested with a mock round-tripper.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPTool performs a single HTTP request and adapts the JSON response
// into a tool output map carrying status, normalized headers and the
// decoded body.
type HTTPTool struct {
	client HTTPDoer
}

// NewHTTPTool builds an HTTPTool. A nil client defaults to a plain
// *http.Client with a 30s timeout.
func NewHTTPTool(client HTTPDoer) *HTTPTool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTool{client: client}
}

func (t *HTTPTool) ID() string          { return "http.request" }
func (t *HTTPTool) Name() string        { return "HTTP Request" }
func (t *HTTPTool) Description() string { return "issues a single HTTP request and returns its decoded JSON body" }

func (t *HTTPTool) InputSchema() *domain.VariableSchema {
	s := domain.NewVariableSchema()
	s.AddDefinition(&domain.VariableDefinition{Name: "method", Type: domain.VariableTypeString, Required: true})
	s.AddDefinition(&domain.VariableDefinition{Name: "url", Type: domain.VariableTypeString, Required: true})
	s.AddDefinition(&domain.VariableDefinition{Name: "headers", Type: domain.VariableTypeObject, Required: false})
	s.AddDefinition(&domain.VariableDefinition{Name: "body", Type: domain.VariableTypeAny, Required: false})
	return s
}

func (t *HTTPTool) OutputSchema() *domain.VariableSchema {
	s := domain.NewVariableSchema()
	s.AddDefinition(&domain.VariableDefinition{Name: "status", Type: domain.VariableTypeInt, Required: true})
	s.AddDefinition(&domain.VariableDefinition{Name: "headers", Type: domain.VariableTypeObject, Required: true})
	s.AddDefinition(&domain.VariableDefinition{Name: "data", Type: domain.VariableTypeAny, Required: false})
	return s
}

func (t *HTTPTool) Execute(input map[string]any, tctx *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error) {
	method, _ := input["method"].(string)
	url, _ := input["url"].(string)
	if method == "" || url == "" {
		return nil, nil, flowerrors.NewFlowError(flowerrors.ErrInputValidation, "http.request requires \"method\" and \"url\"").WithTool(t.ID())
	}
	headers, _ := input["headers"].(map[string]any)

	var body io.Reader
	if raw, ok := input["body"]; ok && raw != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(raw); err != nil {
			return nil, nil, flowerrors.Wrap(flowerrors.ErrToolFailurePermanent, "encode http.request body", err).WithTool(t.ID())
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(tctx.Context, strings.ToUpper(method), url, body)
	if err != nil {
		return nil, nil, flowerrors.Wrap(flowerrors.ErrToolFailurePermanent, "build http.request", err).WithTool(t.ID())
	}
	for k, v := range headers {
		if s, ok := v.(string); ok {
			req.Header.Set(k, s)
		}
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log.Debug().Str("tool", t.ID()).Str("method", method).Str("url", url).Msg("dispatching http tool")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, nil, flowerrors.Wrap(flowerrors.ErrToolFailureTransient, "http.request failed", err).WithTool(t.ID())
	}
	defer resp.Body.Close()

	respHeaders := make(map[string]any, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			respHeaders[normalizeHeaderKey(k)] = v[0]
		}
	}

	out := map[string]any{
		"status":  resp.StatusCode,
		"headers": respHeaders,
	}

	var decoded any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err == nil {
		out["data"] = decoded
	}

	if resp.StatusCode >= 500 {
		return out, nil, flowerrors.NewFlowError(flowerrors.ErrToolFailureTransient, fmt.Sprintf("http.request got %s", resp.Status)).WithTool(t.ID())
	}
	if resp.StatusCode >= 400 {
		return out, nil, flowerrors.NewFlowError(flowerrors.ErrToolFailurePermanent, fmt.Sprintf("http.request got %s", resp.Status)).WithTool(t.ID())
	}
	return out, nil, nil
}

func normalizeHeaderKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, " ", "-"))
}

// LLMCompletionTool sends a chat completion request through go-openai,
// exposing model/prompt/system/temperature as tool inputs and the first
// choice's content as output.
type LLMCompletionTool struct {
	client *openai.Client
}

// NewLLMCompletionTool builds an LLMCompletionTool over an already
// constructed go-openai client (so callers control API key/base URL).
func NewLLMCompletionTool(client *openai.Client) *LLMCompletionTool {
	return &LLMCompletionTool{client: client}
}

func (t *LLMCompletionTool) ID() string          { return "llm.complete" }
func (t *LLMCompletionTool) Name() string        { return "LLM Completion" }
func (t *LLMCompletionTool) Description() string { return "runs a chat completion against the configured model" }

func (t *LLMCompletionTool) InputSchema() *domain.VariableSchema {
	s := domain.NewVariableSchema()
	s.AddDefinition(&domain.VariableDefinition{Name: "model", Type: domain.VariableTypeString, Required: true})
	s.AddDefinition(&domain.VariableDefinition{Name: "prompt", Type: domain.VariableTypeString, Required: true})
	s.AddDefinition(&domain.VariableDefinition{Name: "system", Type: domain.VariableTypeString, Required: false})
	s.AddDefinition(&domain.VariableDefinition{Name: "temperature", Type: domain.VariableTypeFloat, Required: false})
	return s
}

func (t *LLMCompletionTool) OutputSchema() *domain.VariableSchema {
	s := domain.NewVariableSchema()
	s.AddDefinition(&domain.VariableDefinition{Name: "content", Type: domain.VariableTypeString, Required: true})
	s.AddDefinition(&domain.VariableDefinition{Name: "finishReason", Type: domain.VariableTypeString, Required: false})
	return s
}

func (t *LLMCompletionTool) Execute(input map[string]any, tctx *domain.ToolContext) (map[string]any, *domain.SuspendSignal, error) {
	model, _ := input["model"].(string)
	prompt, _ := input["prompt"].(string)
	if model == "" || prompt == "" {
		return nil, nil, flowerrors.NewFlowError(flowerrors.ErrInputValidation, "llm.complete requires \"model\" and \"prompt\"").WithTool(t.ID())
	}

	messages := []openai.ChatCompletionMessage{}
	if system, ok := input["system"].(string); ok && system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{Model: model, Messages: messages}
	if temp, ok := input["temperature"].(float64); ok {
		req.Temperature = float32(temp)
	}

	log.Debug().Str("tool", t.ID()).Str("model", model).Str("flow_id", tctx.FlowID).Str("node_id", tctx.NodeID).Msg("invoking llm.complete")

	resp, err := t.client.CreateChatCompletion(tctx.Context, req)
	if err != nil {
		return nil, nil, flowerrors.Wrap(flowerrors.ErrToolFailureTransient, "chat completion request failed", err).WithTool(t.ID())
	}
	if len(resp.Choices) == 0 {
		return nil, nil, flowerrors.NewFlowError(flowerrors.ErrToolFailurePermanent, "chat completion returned no choices").WithTool(t.ID())
	}

	choice := resp.Choices[0]
	return map[string]any{
		"content":      choice.Message.Content,
		"finishReason": string(choice.FinishReason),
	}, nil, nil
}
