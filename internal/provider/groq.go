package provider

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"PhysioFlow/internal/session"
)

const systemPrompt = "You are PhysioFlow, a physiotherapy assistant. Give short, practical guidance on exercise form, posture and rehabilitation. Recommend seeing a professional for pain or injury."

// Groq talks to Groq's OpenAI-compatible chat completion API.
type Groq struct {
	client *openai.Client
	model  string
}

// NewGroq creates a Groq provider. baseURL may point at any OpenAI-compatible API.
func NewGroq(apiKey, model, baseURL string) (*Groq, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GROQ_API_KEY not set")
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Groq{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

func (g *Groq) Name() string {
	return "groq"
}

func (g *Groq) Reply(ctx context.Context, prompt string, history []session.Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Sender == session.SenderAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("groq chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response from Groq", session.ErrMalformedReply)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty message from Groq", session.ErrMalformedReply)
	}
	return text, nil
}
