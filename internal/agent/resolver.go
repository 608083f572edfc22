package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/handsfree/internal/observability"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

var ErrEmptyResponse = errors.New("model returned no choices")

// HistoryStore keeps the per-chat exchange so follow-ups to a clarifying
// question reach the model with their context.
type HistoryStore interface {
	AddMessage(ctx context.Context, chatID, role, content string) error
	GetHistory(ctx context.Context, chatID string, limit int) ([]llms.MessageContent, error)
}

// Resolver asks the model what a command means and returns its raw answer.
type Resolver struct {
	Model        llms.Model
	Prompts      *PromptManager
	History      HistoryStore
	HistoryLimit int
	Logger       *observability.Logger
}

func NewResolver(model llms.Model, prompts *PromptManager, history HistoryStore, logger *observability.Logger) *Resolver {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Resolver{
		Model:        model,
		Prompts:      prompts,
		History:      history,
		HistoryLimit: 6,
		Logger:       logger,
	}
}

// UserPrompt renders the human turn for command and optional screen text.
func UserPrompt(command, screenContext string) string {
	prompt := fmt.Sprintf("User command: \"%s\"", command)
	if strings.TrimSpace(screenContext) != "" {
		prompt += "\n\nScreen context:\n" + screenContext
	}
	return prompt
}

func (r *Resolver) Resolve(ctx context.Context, chatID, command, screenContext string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, r.Prompts.SystemPrompt()),
	}

	if r.History != nil && chatID != "" {
		history, err := r.History.GetHistory(ctx, chatID, r.HistoryLimit)
		if err != nil {
			r.Logger.Zap().Warn("failed to load history", zap.String("chat_id", chatID), zap.Error(err))
		}
		messages = append(messages, history...)
	}

	userPrompt := UserPrompt(command, screenContext)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, userPrompt))

	resp, err := r.Model.GenerateContent(ctx, messages, llms.WithTemperature(0.1))
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := resp.Choices[0].Content

	r.Logger.LogLLM(chatID, "", userPrompt, text)

	if r.History != nil && chatID != "" {
		if err := r.History.AddMessage(ctx, chatID, "human", UserPrompt(command, "")); err != nil {
			r.Logger.Zap().Warn("failed to store message", zap.Error(err))
		}
		if err := r.History.AddMessage(ctx, chatID, "ai", text); err != nil {
			r.Logger.Zap().Warn("failed to store message", zap.Error(err))
		}
	}
	return text, nil
}
