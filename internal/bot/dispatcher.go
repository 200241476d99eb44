package bot

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/wcf-bot/internal/chat"
	"github.com/xaenox/wcf-bot/internal/gateway"
	"github.com/xaenox/wcf-bot/internal/models"
	"github.com/xaenox/wcf-bot/internal/svg"
	"go.uber.org/zap"
)

const (
	thinkingText   = "正在思考中..."
	apologyText    = "抱歉，AI服务暂时不可用，请稍后再试。"
	generatingText = "正在生成图像回复..."

	// Replies this long are sent as several segments.
	longReplyRunes = 18000
	segmentRunes   = 2000
)

// SVGWriter persists an SVG fragment and returns the path written.
type SVGWriter interface {
	Write(content, dir, filename string) (string, error)
}

// Delivery is how an SVG attachment finally reached the chat.
type Delivery int

const (
	DeliveryFailed Delivery = iota
	DeliveryFile
	DeliveryImage
)

func (d Delivery) String() string {
	switch d {
	case DeliveryFile:
		return "file"
	case DeliveryImage:
		return "image"
	default:
		return "failed"
	}
}

// Dispatcher asks the model for a reply and routes it back to the chat as
// text, file or image.
type Dispatcher struct {
	sender    gateway.Sender
	chat      chat.Completer
	writer    SVGWriter
	atPrefix  string
	outputDir string
	now       func() time.Time
	newID     func() string
	readFile  func(string) ([]byte, error)
	logger    *zap.Logger
}

type DispatcherConfig struct {
	AtPrefix  string
	OutputDir string
}

func NewDispatcher(sender gateway.Sender, completer chat.Completer, writer SVGWriter, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.AtPrefix == "" {
		cfg.AtPrefix = "@"
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "output"
	}
	return &Dispatcher{
		sender:    sender,
		chat:      completer,
		writer:    writer,
		atPrefix:  cfg.AtPrefix,
		outputDir: cfg.OutputDir,
		now:       time.Now,
		newID:     uuid.NewString,
		readFile:  os.ReadFile,
		logger:    logger,
	}
}

func (d *Dispatcher) mention(sender, text string) string {
	return fmt.Sprintf("%s%s %s", d.atPrefix, sender, text)
}

func receiverOf(ev *models.Event) string {
	if ev.RoomID != "" {
		return ev.RoomID
	}
	return ev.Sender
}

// Dispatch runs one matched event through the model and sends the result.
// Failures are logged here; the returned error only signals the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, match models.MatchResult, ev *models.Event, history []models.ConversationTurn) error {
	receiver := receiverOf(ev)
	log := d.logger.With(zap.String("room", ev.RoomID), zap.String("sender", ev.Sender))

	if err := d.sender.SendText(ctx, d.mention(ev.Sender, thinkingText), receiver, ev.Sender); err != nil {
		log.Warn("Failed to send thinking notification", zap.Error(err))
	}

	reply, err := d.chat.Complete(ctx, match.Content, match.Mode, history)
	if err != nil {
		log.Error("Chat completion failed", zap.Error(err), zap.String("mode", string(match.Mode)))
		if serr := d.sender.SendText(ctx, d.mention(ev.Sender, apologyText), receiver, ev.Sender); serr != nil {
			log.Error("Failed to send apology", zap.Error(serr))
		}
		return fmt.Errorf("chat completion: %w", err)
	}

	if svg.Contains(reply) {
		// An open tag without a matching close tag is sent as plain text.
		if parts, ok := svg.Split(reply); ok {
			err := d.sendSVG(ctx, log, ev, receiver, parts)
			if !errors.Is(err, errSVGUnwritten) {
				return err
			}
		}
	}
	return d.sendReply(ctx, ev, receiver, reply, log)
}

func (d *Dispatcher) sendReply(ctx context.Context, ev *models.Event, receiver, reply string, log *zap.Logger) error {
	segments := []string{reply}
	if len([]rune(reply)) >= longReplyRunes {
		segments = chat.SplitLongText(reply, segmentRunes)
	}
	for i, segment := range segments {
		if err := d.sender.SendText(ctx, d.mention(ev.Sender, segment), receiver, ev.Sender); err != nil {
			log.Error("Failed to send reply", zap.Error(err), zap.Int("segment", i))
			return fmt.Errorf("send reply: %w", err)
		}
	}
	return nil
}

var errSVGUnwritten = errors.New("svg file not written")

func (d *Dispatcher) filename() string {
	id := d.newID()
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("ai_response_%s_%s.svg", d.now().Format("20060102_150405"), id)
}

// sendSVG returns errSVGUnwritten when the caller should fall back to text.
func (d *Dispatcher) sendSVG(ctx context.Context, log *zap.Logger, ev *models.Event, receiver string, parts svg.Parts) error {
	if err := d.sender.SendText(ctx, d.mention(ev.Sender, generatingText), receiver, ev.Sender); err != nil {
		log.Warn("Failed to send image notification", zap.Error(err))
	}

	filename := d.filename()
	path, err := d.writer.Write(parts.Fragment, d.outputDir, filename)
	if err != nil {
		log.Error("Failed to write svg file", zap.Error(err), zap.String("filename", filename))
		return errSVGUnwritten
	}
	data, err := d.readFile(path)
	if err != nil {
		log.Error("Failed to read svg file", zap.Error(err), zap.String("path", path))
		return errSVGUnwritten
	}

	if parts.Before != "" {
		if err := d.sender.SendText(ctx, d.mention(ev.Sender, parts.Before), receiver, ev.Sender); err != nil {
			log.Error("Failed to send text before svg", zap.Error(err))
			return fmt.Errorf("send text before svg: %w", err)
		}
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	switch delivery := d.deliver(ctx, log, encoded, filename, filepath.Base(path), receiver); delivery {
	case DeliveryFailed:
		log.Error("Failed to deliver svg as file or image", zap.String("path", path))
	default:
		log.Info("Delivered svg", zap.String("path", path), zap.Stringer("as", delivery))
	}

	if parts.After != "" {
		if err := d.sender.SendText(ctx, d.mention(ev.Sender, parts.After), receiver, ev.Sender); err != nil {
			log.Error("Failed to send text after svg", zap.Error(err))
			return fmt.Errorf("send text after svg: %w", err)
		}
	}
	return nil
}

// deliver tries the file endpoint first and the image endpoint second.
func (d *Dispatcher) deliver(ctx context.Context, log *zap.Logger, encoded, filename, imageName, receiver string) Delivery {
	err := d.sender.SendFile(ctx, encoded, filename, receiver)
	if err == nil {
		return DeliveryFile
	}
	log.Warn("Failed to send svg file, retrying as image", zap.Error(err))
	if err := d.sender.SendImage(ctx, encoded, imageName, receiver); err != nil {
		log.Error("Failed to send svg as image", zap.Error(err))
		return DeliveryFailed
	}
	return DeliveryImage
}
