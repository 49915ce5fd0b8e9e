package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI wraps an OpenAI-compatible API client.
type OpenAI struct {
	api   *openai.Client
	model string
}

// NewOpenAI creates a backend for an OpenAI-compatible server.
func NewOpenAI(baseURL, apiKey, modelName string) *OpenAI {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAI{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Generate implements Generator. Only image attachments are supported.
// JSON mode is not requested because it only admits objects and most
// prompts ask for arrays.
func (o *OpenAI) Generate(ctx context.Context, req Request) (Response, error) {
	var msgs []openai.ChatCompletionMessage
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(req.Attachments) == 0 {
		user.Content = req.Prompt
	} else {
		user.MultiContent = []openai.ChatMessagePart{{
			Type: openai.ChatMessagePartTypeText,
			Text: req.Prompt,
		}}
		for _, a := range req.Attachments {
			if !strings.HasPrefix(a.MIMEType, "image/") {
				return Response{}, fmt.Errorf("%w: %s", ErrUnsupportedAttachment, a.MIMEType)
			}
			user.MultiContent = append(user.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + a.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(a.Data),
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
	}
	msgs = append(msgs, user)

	resp, err := o.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return Response{}, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("LLM returned no choices")
	}

	choice := resp.Choices[0]
	return Response{
		Text:      choice.Message.Content,
		Truncated: choice.FinishReason == openai.FinishReasonLength,
	}, nil
}
