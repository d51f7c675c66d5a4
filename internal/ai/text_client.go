package ai

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v3"
)

// ChatMessage одна реплика обычного чата (без ассистента и thread).
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TextClient отправляет историю чата в Chat Completions.
type TextClient struct {
	client      *openai.Client
	model       string
	temperature float64
}

func NewTextClient(client *openai.Client, model string, temperature float64) *TextClient {
	if model == "" {
		model = string(openai.ChatModelGPT4o)
	}
	return &TextClient{client: client, model: model, temperature: temperature}
}

// Complete возвращает ответ модели как есть. Ошибка удалённой стороны: KindCompletion со статусом.
func (c *TextClient) Complete(ctx context.Context, messages []ChatMessage) (*openai.ChatCompletion, error) {
	if len(messages) == 0 {
		return nil, Validation("Messages array is required")
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    toCompletionMessages(messages),
		Temperature: openai.Float(c.temperature),
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, newError(KindCompletion, err)
	}
	return resp, nil
}

func toCompletionMessages(messages []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default: // user
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
