package bot

import (
	"context"
	"fmt"
	"time"

	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
)

const (
	botAvatarURL  = "https://api.dicebear.com/7.x/bottts/svg?seed=DeepSeek"
	systemPrompt  = "You are a humorous, helpful chat room assistant."
	failureNotice = "DeepSeek is unavailable right now, please try again later."
)

// Broadcaster is the slice of the room broadcaster the bot needs.
type Broadcaster interface {
	Broadcast(msg *models.Message)
}

type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client answers @DeepSeek mentions through an OpenAI-compatible
// completions API. Every Reply runs outside the triggering message's
// delivery path and reports only via its own broadcast.
type Client struct {
	api   completionAPI
	store database.MessageStore
	bcast Broadcaster
	cfg   config.BotConfig
}

func New(cfg config.BotConfig, store database.MessageStore, bcast Broadcaster) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		api:   openai.NewClientWithConfig(apiCfg),
		store: store,
		bcast: bcast,
		cfg:   cfg,
	}
}

// Reply asks the completion service for an answer and persists+broadcasts
// the bot's message. On any failure it degrades to a fixed notice that is
// broadcast but not persisted; errors never reach the triggering user.
func (c *Client) Reply(roomID, identity, prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("%s asks: %s", identity, prompt)},
		},
	})
	if err != nil || len(resp.Choices) == 0 {
		logger.Error("DeepSeek API error: %v", err)
		c.bcast.Broadcast(&models.Message{
			ID:           uuid.NewString(),
			Type:         models.MessageTypeText,
			Content:      failureNotice,
			AuthorID:     models.BotAuthor,
			RoomID:       roomID,
			Timestamp:    time.Now().UnixMilli(),
			DeviceOrigin: "System",
		})
		return
	}

	reply := &models.Message{
		ID:           uuid.NewString(),
		Type:         models.MessageTypeText,
		Content:      resp.Choices[0].Message.Content,
		AuthorID:     models.BotAuthor,
		AuthorAvatar: botAvatarURL,
		RoomID:       roomID,
		Timestamp:    time.Now().UnixMilli(),
		DeviceOrigin: "AI-Bot",
	}

	if err := c.store.Append(context.Background(), reply); err != nil {
		logger.Error("Error saving bot reply: %v", err)
		return
	}
	c.bcast.Broadcast(reply)
}
