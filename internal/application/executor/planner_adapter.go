package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/smilemakc/planflow/internal/domain"
	flowerrors "github.com/smilemakc/planflow/internal/domain/errors"
)

// maxPlanGenerationAttempts bounds the validation-feedback retry loop.
const maxPlanGenerationAttempts = 3

// planJSONSchema is the JSON Schema go-openai's response_format constrains
// completions to. Operator-specific fields are left open
// (additionalProperties) since the closed set lives in OperatorKind /
// PlanValidator, not in the wire schema itself.
var planJSONSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "version": {"type": "string"},
    "metadata": {"type": "object"},
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string"},
          "type": {"type": "string", "enum": ["tool","parallel","if-then","loop","map","filter","reduce","switch","sequence"]}
        },
        "required": ["id", "type"],
        "additionalProperties": true
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {"from": {"type": "string"}, "to": {"type": "string"}},
        "required": ["from", "to"]
      }
    },
    "rootIds": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["version", "nodes", "edges", "rootIds"],
  "additionalProperties": false
}`)

// PlannerAdapter turns a natural-language goal into a validated Plan via
// a multi-turn validation-feedback loop: a rejected Plan's
// ValidationErrors are fed back to the model as an additional user turn
// instead of surfacing immediately.
type PlannerAdapter struct {
	client    *openai.Client
	model     string
	validator *PlanValidator
}

// NewPlannerAdapter builds a PlannerAdapter. model is the chat-completion
// model id (e.g. "gpt-4o"); validator is run against every candidate Plan
// before it is accepted.
func NewPlannerAdapter(client *openai.Client, model string, validator *PlanValidator) *PlannerAdapter {
	return &PlannerAdapter{client: client, model: model, validator: validator}
}

// Generate asks the model for a Plan achieving goal, making up to
// maxPlanGenerationAttempts attempts in total, each retry carrying the prior
// attempt's validation errors appended to the conversation. A plan that never validates
// returns ErrPlanValidation wrapping the final error list.
func (p *PlannerAdapter) Generate(ctx context.Context, systemPrompt, goal string) (*domain.Plan, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: goal},
	}

	var lastErrs []*domain.ValidationError
	for attempt := 1; attempt <= maxPlanGenerationAttempts; attempt++ {
		log.Debug().Int("attempt", attempt).Str("model", p.model).Msg("requesting plan generation")

		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    p.model,
			Messages: messages,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:   "plan",
					Schema: planJSONSchema,
					Strict: true,
				},
			},
		})
		if err != nil {
			return nil, flowerrors.Wrap(flowerrors.ErrPlanGeneration, "chat completion", err)
		}
		if len(resp.Choices) == 0 {
			return nil, flowerrors.NewFlowError(flowerrors.ErrPlanGeneration, "model returned no choices")
		}
		content := resp.Choices[0].Message.Content

		plan := &domain.Plan{}
		if err := json.Unmarshal([]byte(content), plan); err != nil {
			return nil, flowerrors.Wrap(flowerrors.ErrPlanGeneration, "decode plan JSON", err)
		}

		lastErrs = p.validator.Validate(plan)
		if len(lastErrs) == 0 {
			return plan, nil
		}

		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: formatValidationFeedback(lastErrs)},
		)
	}

	return nil, flowerrors.Wrap(flowerrors.ErrPlanValidation, "plan did not pass validation after retries", formatValidationFeedbackErr(lastErrs))
}

func formatValidationFeedback(errs []*domain.ValidationError) string {
	msg := "The plan is invalid. Fix these issues and return a corrected plan:\n"
	for _, e := range errs {
		msg += "- " + e.Error() + "\n"
	}
	return msg
}

func formatValidationFeedbackErr(errs []*domain.ValidationError) error {
	return fmt.Errorf("%s", formatValidationFeedback(errs))
}
