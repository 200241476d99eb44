package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/wcf-bot/internal/models"
	"github.com/xaenox/wcf-bot/internal/storage"
	"go.uber.org/zap"
)

// ErrEmptyReply is returned when the model answers with no text.
var ErrEmptyReply = errors.New("chat: empty reply")

// Completer is the chat-completion collaborator used by the dispatcher.
type Completer interface {
	Complete(ctx context.Context, message string, mode models.Mode, history []models.ConversationTurn) (string, error)
}

// Prompts holds the system prompt of each mode.
type Prompts struct {
	Normal string
	DS     string
	ZS     string
}

func (p Prompts) For(mode models.Mode) string {
	switch mode {
	case models.ModeDS:
		return p.DS
	case models.ModeZS:
		return p.ZS
	default:
		return p.Normal
	}
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Stream  bool
	Prompts Prompts
}

// OpenAIChat talks to any OpenAI-compatible chat completion endpoint.
type OpenAIChat struct {
	client  *openai.Client
	model   string
	stream  bool
	prompts Prompts
	audit   storage.AuditLog
	now     func() time.Time
	logger  *zap.Logger
}

// NewOpenAIChat builds the client. audit may be nil.
func NewOpenAIChat(cfg Config, audit storage.AuditLog, logger *zap.Logger) *OpenAIChat {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIChat{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		stream:  cfg.Stream,
		prompts: cfg.Prompts,
		audit:   audit,
		now:     time.Now,
		logger:  logger,
	}
}

func (c *OpenAIChat) Complete(ctx context.Context, message string, mode models.Mode, history []models.ConversationTurn) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: buildMessages(c.prompts.For(mode), message, history),
	}

	var (
		reply string
		err   error
	)
	if c.stream {
		reply, err = c.completeStream(ctx, req)
	} else {
		reply, err = c.completeOnce(ctx, req)
	}
	if err == nil && strings.TrimSpace(reply) == "" {
		err = ErrEmptyReply
	}

	c.record(ctx, message, mode, len(history) > 0, reply, err)
	if err != nil {
		c.logger.Error("Failed to get chat completion",
			zap.Error(err),
			zap.String("model", c.model),
			zap.String("mode", string(mode)))
		return "", err
	}
	return reply, nil
}

func buildMessages(system, message string, history []models.ConversationTurn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	for _, turn := range history {
		role := openai.ChatMessageRoleUser
		if turn.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})
	return msgs
}

func (c *OpenAIChat) completeOnce(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *OpenAIChat) completeStream(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	req.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create chat completion stream: %w", err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read chat completion stream: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		sb.WriteString(chunk.Choices[0].Delta.Content)
	}
	return strings.TrimSpace(sb.String()), nil
}

func (c *OpenAIChat) record(ctx context.Context, message string, mode models.Mode, history bool, reply string, err error) {
	if c.audit == nil {
		return
	}
	entry := models.RequestLog{
		Timestamp:  c.now().Format(models.DatetimeLayout),
		Message:    message,
		Model:      c.model,
		PromptType: mode,
		History:    history,
		Status:     models.StatusSuccess,
		Response:   reply,
	}
	if err != nil {
		entry.Status = models.StatusError
		entry.Response = err.Error()
	}
	if err := c.audit.Record(ctx, entry); err != nil {
		c.logger.Warn("Failed to record chat request", zap.Error(err))
	}
}

// SplitLongText cuts text into chunks of at most size runes.
func SplitLongText(text string, size int) []string {
	runes := []rune(text)
	if size <= 0 || len(runes) <= size {
		return []string{text}
	}
	chunks := make([]string, 0, len(runes)/size+1)
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
