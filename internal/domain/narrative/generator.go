// Package narrative turns collected visit data into an AI-written clinical
// history and renders it as a PDF.
package narrative

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/trialworks/protocol-server/internal/platform/apperr"
)

// TextGenerator produces free text from a system/user prompt pair.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenAIClient implements TextGenerator against the chat-completions API.
type OpenAIClient struct {
	http  *resty.Client
	model string
}

func NewOpenAIClient(baseURL, apiKey, model string, timeout time.Duration) *OpenAIClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &OpenAIClient{http: client, model: model}
}

func (c *OpenAIClient) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model: c.model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: userPrompt},
			},
		}).
		SetResult(&out).
		SetError(&out).
		Post("/chat/completions")
	if err != nil {
		return "", apperr.Upstream(err, "text generation request failed")
	}
	if resp.IsError() {
		msg := "text generation failed"
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		return "", apperr.Upstream(nil, "%s (status %d)", msg, resp.StatusCode())
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", apperr.Upstream(nil, "text generation returned an empty completion")
	}
	return out.Choices[0].Message.Content, nil
}
