package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"adstudio/internal/media"
)

type TelegramOptions struct {
	Token  string
	ChatID int64
	// APIEndpoint overrides the Bot API URL template, mainly for tests.
	APIEndpoint string
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Debug       bool
}

// Telegram posts events to one chat. Images are sent as photos with the
// message as caption; long texts are split at the Bot API limit.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

func NewTelegram(opts TelegramOptions) (*Telegram, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if opts.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	if opts.HTTPClient == nil {
		return nil, errors.New("http client is nil")
	}

	endpoint := opts.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, endpoint, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	bot.Debug = opts.Debug

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Telegram{
		bot:    bot,
		chatID: opts.ChatID,
		logger: logger,
	}, nil
}

func (t *Telegram) Username() string {
	return t.bot.Self.UserName
}

func (t *Telegram) Notify(_ context.Context, ev Event) error {
	text := formatEvent(ev)
	if ev.Image != "" && media.IsDataURL(ev.Image) {
		if err := t.sendPhoto(ev.Image, text); err != nil {
			t.logger.Warn("telegram photo failed, falling back to text", "err", err)
		} else {
			return nil
		}
	}
	return t.sendText(text)
}

func (t *Telegram) sendText(text string) error {
	for _, p := range splitByBytes(text, 4096) {
		if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, p)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

func (t *Telegram) sendPhoto(dataURL, caption string) error {
	in, err := media.ParseDataURL(dataURL)
	if err != nil {
		return err
	}
	data, err := base64.StdEncoding.DecodeString(in.Data)
	if err != nil {
		return fmt.Errorf("decode base64: %w", err)
	}

	photo := tgbotapi.NewPhoto(t.chatID, tgbotapi.FileBytes{
		Name:  "image" + media.Extension(in.MimeType),
		Bytes: data,
	})
	if caption != "" {
		photo.Caption = truncateByBytes(caption, 1024)
	}
	_, err = t.bot.Send(photo)
	return err
}

func formatEvent(ev Event) string {
	var b strings.Builder
	if ev.Level == LevelError {
		b.WriteString("❌ ")
	} else {
		b.WriteString("✅ ")
	}
	b.WriteString(ev.Message)
	if ev.Kind != "" {
		b.WriteString(" [" + ev.Kind + "]")
	}
	if ev.Session != "" {
		b.WriteString("\nsession: " + ev.Session)
	}
	return b.String()
}

func splitByBytes(text string, maxBytes int) []string {
	if len(text) <= maxBytes || maxBytes <= 0 {
		return []string{text}
	}

	var out []string
	var buf strings.Builder
	buf.Grow(maxBytes)

	for _, r := range text {
		runeBytes := utf8.RuneLen(r)
		if runeBytes < 0 {
			runeBytes = len(string(r))
		}

		if buf.Len() > 0 && buf.Len()+runeBytes > maxBytes {
			out = append(out, buf.String())
			buf.Reset()
		}
		buf.WriteRune(r)
	}

	if buf.Len() > 0 {
		out = append(out, buf.String())
	}
	return out
}

func truncateByBytes(text string, maxBytes int) string {
	if len(text) <= maxBytes || maxBytes <= 0 {
		return text
	}

	var buf strings.Builder
	buf.Grow(maxBytes)
	for _, r := range text {
		runeBytes := utf8.RuneLen(r)
		if runeBytes < 0 {
			runeBytes = len(string(r))
		}
		if buf.Len()+runeBytes > maxBytes {
			break
		}
		buf.WriteRune(r)
	}
	return buf.String()
}
