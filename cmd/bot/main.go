package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/xaenox/wcf-bot/internal/bot"
	"github.com/xaenox/wcf-bot/internal/chat"
	"github.com/xaenox/wcf-bot/internal/gateway"
	"github.com/xaenox/wcf-bot/internal/history"
	"github.com/xaenox/wcf-bot/internal/matcher"
	"github.com/xaenox/wcf-bot/internal/models"
	"github.com/xaenox/wcf-bot/internal/storage"
	"github.com/xaenox/wcf-bot/internal/svg"
	"github.com/xaenox/wcf-bot/pkg/config"
	"go.uber.org/zap"
)

const testSelfID = "test_wxid_123456"

func newLogger(mode string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if strings.EqualFold(mode, "development") || strings.EqualFold(mode, "dev") {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func main() {
	path := os.Getenv("WCF_BOT_CONFIG")
	if path == "" {
		path = "config.json"
	}

	// Load configuration
	cfg, err := config.LoadConfig(path)
	if err != nil {
		logger, _ := zap.NewProduction()
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", path))
	}

	logger := newLogger(cfg.LogMode)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", zap.Error(err), zap.String("path", path))
		logger.Sync()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Bot stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

// run wires the bot and blocks until ctx is done. The message store is
// flushed on the way out.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Initialize storage
	store, err := storage.OpenMessageStore(cfg.MessagesFile)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to flush messages", zap.Error(err))
			return
		}
		logger.Info("Saved all messages", zap.Int("count", store.Len()))
	}()

	audit, err := openAudit(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer audit.Close()

	var (
		sender gateway.Sender
		client *gateway.Client
		selfID string
	)
	if cfg.TestMode {
		logger.Warn("Test mode enabled, gateway sends are simulated")
		sender = gateway.NewOffline(logger)
		selfID = testSelfID
	} else {
		client = gateway.NewClient(cfg.GatewayURL, cfg.WcfAPIKey, nil, logger)
		sender = client
		selfID, err = client.SelfID(ctx)
		if err != nil {
			return err
		}
	}

	if len(cfg.Group) == 0 {
		logger.Warn("No group configured, answering commands in every room")
	} else {
		logger.Info("Listening to groups", zap.Strings("groups", cfg.Group))
	}

	m := matcher.New(cfg.Group, commands(cfg.Commands))
	h := history.NewBuilder(store, m,
		history.WithWindow(cfg.HistoryWindow()),
		history.WithSelf(selfID))

	completer := chat.NewOpenAIChat(chat.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Stream:  cfg.Stream,
		Prompts: chat.Prompts{Normal: cfg.Prompt, DS: cfg.PromptDS, ZS: cfg.PromptZS},
	}, audit, logger)

	dispatcher := bot.NewDispatcher(sender, completer, svg.NewFileWriter(), bot.DispatcherConfig{
		AtPrefix:  cfg.AtMe,
		OutputDir: cfg.OutputDir,
	}, logger)

	b := bot.New(store, m, h, dispatcher, logger)

	logger.Info("Bot started",
		zap.String("self_wxid", selfID),
		zap.String("bot_name", cfg.BotName),
		zap.String("model", cfg.Model),
		zap.Int("history_minutes", cfg.HistoryMins))

	if cfg.TestMode {
		room := ""
		if len(cfg.Group) > 0 {
			room = cfg.Group[0]
		}
		b.Simulate(ctx, room)
		logger.Info("Test message handled, press Ctrl+C to exit")
		<-ctx.Done()
		return nil
	}

	err = b.Start(ctx, client, bot.WithAuthDelay(cfg.AuthRetryDelay()))
	if errors.Is(err, context.Canceled) {
		logger.Info("Interrupted, shutting down")
		return nil
	}
	return err
}

func openAudit(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.AuditLog, error) {
	jsonLog, err := storage.OpenJSONAuditLog(cfg.RequestLog)
	if err != nil {
		return nil, err
	}
	if !cfg.Database.UsePostgres {
		return jsonLog, nil
	}

	logger.Info("Recording chat requests to PostgreSQL", zap.String("host", cfg.Database.Host))
	pg, err := storage.NewPostgresAuditLog(storage.DatabaseConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		jsonLog.Close()
		return nil, err
	}
	if recent, err := pg.Recent(ctx, 1); err != nil {
		logger.Warn("Failed to read request log", zap.Error(err))
	} else if len(recent) > 0 {
		logger.Info("Last recorded chat request",
			zap.String("at", recent[0].Timestamp),
			zap.String("status", recent[0].Status))
	}
	return storage.MultiAudit{jsonLog, pg}, nil
}

func commands(cfgs []config.CommandConfig) []matcher.Command {
	if len(cfgs) == 0 {
		return nil
	}
	out := make([]matcher.Command, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, matcher.Command{Prefix: c.Prefix, Mode: models.ParseMode(c.Mode)})
	}
	return out
}
