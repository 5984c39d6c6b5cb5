package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/M-Abdullah-Amjad/filer-pak/internal/domain"
)

// parseReceiptWithModel sends the document to Gemini and returns the parsed
// JSON object. Model outages are retryable; unreadable answers are not.
func parseReceiptWithModel(ctx context.Context, models contentGenerator, model string, data []byte, mimeType string) (map[string]any, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: receiptPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: mimeType,
						Data:     data,
					},
				},
			},
		},
	}

	resp, err := models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return nil, domain.StoreUnavailable("parseReceiptWithModel", fmt.Errorf("generate content: %w", err))
	}

	rawText := resp.Text()
	if rawText == "" {
		return nil, domain.Validation("parseReceiptWithModel", "empty response from model")
	}

	clean := cleanModelJSON(rawText)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, domain.Validation("parseReceiptWithModel", "unmarshal JSON: %v\nraw response: %s", err, rawText)
	}
	return parsed, nil
}

// cleanModelJSON strips Markdown fences and any text around the outermost
// JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}
