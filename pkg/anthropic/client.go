// Package anthropic wraps the Anthropic API for keyword expansion:
// given the topic profile, ask a model for additional search terms.
package anthropic

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Client is the slice of the Anthropic API the suggest flow depends on.
// Tests substitute a mock; production code goes through NewClient.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest describes one completion call.
type MessageRequest struct {
	Model     string
	MaxTokens int64
	System    string
	Messages  []Message
}

// Message is one turn of the conversation.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// MessageResponse carries the parts of the API response this package
// consumes.
type MessageResponse struct {
	Model      string
	StopReason string
	Content    []ContentBlock
	Usage      TokenUsage
}

// ContentBlock is one piece of model output.
type ContentBlock struct {
	Type string
	Text string
}

type liveClient struct {
	api sdk.Client
}

// NewClient builds a Client backed by the official SDK.
func NewClient(apiKey string) Client {
	return &liveClient{api: sdk.NewClient(option.WithAPIKey(apiKey))}
}

func (c *liveClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  sdkMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: create message")
	}
	return fromSDK(msg), nil
}

// sdkMessages converts to SDK message params. Roles other than "assistant"
// are sent as user turns.
func sdkMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		text := sdk.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			out = append(out, sdk.NewAssistantMessage(text))
			continue
		}
		out = append(out, sdk.NewUserMessage(text))
	}
	return out
}

func fromSDK(msg *sdk.Message) *MessageResponse {
	resp := &MessageResponse{
		Model:      string(msg.Model),
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		},
	}
	for _, b := range msg.Content {
		resp.Content = append(resp.Content, ContentBlock{Type: b.Type, Text: b.Text})
	}
	return resp
}
