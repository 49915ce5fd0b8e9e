package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// Gemini generates content with the Gemini API. The underlying client is
// created on first use and shared by all later calls.
type Gemini struct {
	model  string
	client func() (*genai.Client, error)
}

// NewGemini returns a Gemini backend. No network or credential work happens
// until the first Generate call.
func NewGemini(apiKey, modelName string) *Gemini {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return &Gemini{
		model: modelName,
		client: sync.OnceValues(func() (*genai.Client, error) {
			if apiKey == "" {
				return nil, errors.New("Gemini API key is required")
			}
			return genai.NewClient(context.Background(), &genai.ClientConfig{
				APIKey:  apiKey,
				Backend: genai.BackendGeminiAPI,
			})
		}),
	}
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, req Request) (Response, error) {
	client, err := g.client()
	if err != nil {
		return Response{}, fmt.Errorf("create GenAI client: %w", err)
	}

	parts := make([]*genai.Part, 0, len(req.Attachments)+1)
	for _, a := range req.Attachments {
		parts = append(parts, genai.NewPartFromBytes(a.Data, a.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		config,
	)
	if err != nil {
		return Response{}, fmt.Errorf("GenAI generate: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return Response{}, errors.New("GenAI returned no candidates")
	}

	return Response{
		Text:      resp.Text(),
		Truncated: resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens,
	}, nil
}
