package agent

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// maxResponseTokens bounds each model turn.
const maxResponseTokens = 4096

// AnthropicLLM is the production LLM backed by the Anthropic Messages API.
type AnthropicLLM struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropicLLM creates the production LLM.
func NewAnthropicLLM(apiKey, model string) *AnthropicLLM {
	return &AnthropicLLM{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// NewConversation starts a fresh transcript.
func (l *AnthropicLLM) NewConversation(systemPrompt, userPrompt string) Conversation {
	return &anthropicConversation{
		llm:    l,
		system: systemPrompt,
		messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
}

type anthropicConversation struct {
	llm      *AnthropicLLM
	system   string
	messages []anthropic.MessageParam
}

func (c *anthropicConversation) NextRound(ctx context.Context, tools []ToolSpec) (*RoundResult, error) {
	params := anthropic.MessageNewParams{
		Model:       c.llm.model,
		MaxTokens:   maxResponseTokens,
		Temperature: anthropic.Float(0),
		System:      []anthropic.TextBlockParam{{Text: c.system}},
		Messages:    c.messages,
		Tools:       toSDKTools(tools),
	}

	message, err := c.llm.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	c.messages = append(c.messages, message.ToParam())

	result := &RoundResult{}
	for _, block := range message.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			result.Text += v.Text
		case anthropic.ToolUseBlock:
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:    v.ID,
				Name:  v.Name,
				Input: []byte(v.Input),
			})
		}
	}
	result.Done = message.StopReason != "tool_use"
	return result, nil
}

func (c *anthropicConversation) AddToolResults(results ...ToolResult) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, anthropic.NewToolResultBlock(r.CallID, r.Content, r.IsError))
	}
	c.messages = append(c.messages, anthropic.NewUserMessage(blocks...))
}

func toSDKTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		properties := make(map[string]any, len(t.Properties))
		for name, prop := range t.Properties {
			properties[name] = prop
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: properties,
					Required:   t.Required,
				},
			},
		})
	}
	return out
}
