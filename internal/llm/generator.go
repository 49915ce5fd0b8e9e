package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"github.com/pavelanni/mathwhiz/internal/retry"
)

// Attachment is inline binary content sent with a prompt: a PDF worksheet
// or a drawing.
type Attachment struct {
	MIMEType string
	Data     []byte
}

// Request is one model call.
type Request struct {
	System      string
	Prompt      string
	Attachments []Attachment
	Temperature float32
	MaxTokens   int
	// JSON asks the backend for a JSON response where it supports one.
	JSON bool
}

// Response is the text a model produced. Truncated is set when the model
// stopped at its output token limit.
type Response struct {
	Text      string
	Truncated bool
}

// Generator is a text generation backend.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, req Request) (Response, error)

// Generate calls f(ctx, req).
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Provider names.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// NewGenerator builds the backend for provider. baseURL only applies to
// OpenAI-compatible servers.
func NewGenerator(provider, baseURL, apiKey, modelName string) (Generator, error) {
	switch provider {
	case ProviderGemini, "":
		return NewGemini(apiKey, modelName), nil
	case ProviderOpenAI:
		return NewOpenAI(baseURL, apiKey, modelName), nil
	}
	return nil, fmt.Errorf("unknown LLM provider %q", provider)
}

// ErrUnsupportedAttachment is returned by backends that cannot send an
// attachment's MIME type.
var ErrUnsupportedAttachment = errors.New("attachment type not supported by this backend")

// IsRetryable extends retry.IsRetryable with the HTTP statuses model APIs
// use for rate limiting and overload.
func IsRetryable(err error) bool {
	if retry.IsRetryable(err) {
		return true
	}
	switch statusCode(err) {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func statusCode(err error) int {
	var gemErr genai.APIError
	if errors.As(err, &gemErr) {
		return gemErr.Code
	}
	var gemErrPtr *genai.APIError
	if errors.As(err, &gemErrPtr) {
		return gemErrPtr.Code
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
