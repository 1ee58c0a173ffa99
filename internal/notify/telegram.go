package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// Telegram sends notifications through the Bot API. The bot runs offline:
// it never polls, it only sends.
type Telegram struct {
	tb         *tele.Bot
	operatorID int64
	logger     *zap.Logger
}

// TelegramConfig configures the Telegram notifier. APIURL overrides the Bot API endpoint.
type TelegramConfig struct {
	Token      string
	OperatorID string
	APIURL     string
}

func NewTelegram(cfg TelegramConfig, logger *zap.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	tb, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: true,
		OnError: func(err error, _ tele.Context) {
			logger.Error("telebot error", zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telebot: %w", err)
	}

	operatorID, _ := strconv.ParseInt(strings.TrimSpace(cfg.OperatorID), 10, 64)
	return &Telegram{tb: tb, operatorID: operatorID, logger: logger}, nil
}

// DeliverService sends the QR code as a photo with the caption. Without a QR
// image it falls back to a text message carrying the subscription link.
func (t *Telegram) DeliverService(_ context.Context, userID string, d Delivery) error {
	chat, err := chatOf(userID)
	if err != nil {
		return err
	}
	if d.QRImageURL != "" {
		photo := &tele.Photo{File: tele.FromURL(d.QRImageURL), Caption: d.Caption}
		_, err := t.tb.Send(chat, photo)
		if err == nil {
			return nil
		}
		t.logger.Warn("send photo failed, falling back to text", zap.String("user_id", userID), zap.Error(err))
	}
	text := d.Caption
	if d.SubscriptionURL != "" && !strings.Contains(text, d.SubscriptionURL) {
		text += "\n\n" + d.SubscriptionURL
	}
	_, err = t.tb.Send(chat, text, tele.NoPreview)
	return err
}

func (t *Telegram) NotifyUser(_ context.Context, userID, text string) error {
	chat, err := chatOf(userID)
	if err != nil {
		return err
	}
	_, err = t.tb.Send(chat, text)
	return err
}

// NotifyOperator sends to the configured operator chat, or only logs when none is set.
func (t *Telegram) NotifyOperator(_ context.Context, text string) error {
	if t.operatorID == 0 {
		t.logger.Warn("operator notification (no operator chat)", zap.String("text", text))
		return nil
	}
	stamp := time.Now().Format("2006-01-02 15:04")
	_, err := t.tb.Send(&tele.Chat{ID: t.operatorID}, "["+stamp+"] "+text, tele.NoPreview)
	return err
}

func chatOf(userID string) (*tele.Chat, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(userID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat id %q", userID)
	}
	return &tele.Chat{ID: id}, nil
}
