package pipeline

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Fetcher reads proof documents from storage.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// AIParser provides an interface for AI-powered receipt parsing.
// This interface enables mocking and testing of AI parsing functionality.
type AIParser interface {
	// ParseReceipt sends the document to a model and returns its JSON object.
	ParseReceipt(ctx context.Context, data []byte, mimeType string) (map[string]any, error)
}

// contentGenerator is the part of genai.Models the parser calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiAIParser is the concrete implementation of AIParser that uses Gemini AI.
type GeminiAIParser struct {
	models contentGenerator
	model  string
}

// NewGeminiAIParser creates a parser. Credentials come from the environment
// the way genai.NewClient reads them.
func NewGeminiAIParser(ctx context.Context, model string) (*GeminiAIParser, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiAIParser: create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModelName
	}
	return &GeminiAIParser{models: client.Models, model: model}, nil
}

// ParseReceipt implements AIParser.
func (p *GeminiAIParser) ParseReceipt(ctx context.Context, data []byte, mimeType string) (map[string]any, error) {
	return parseReceiptWithModel(ctx, p.models, p.model, data, mimeType)
}

var _ AIParser = (*GeminiAIParser)(nil)
