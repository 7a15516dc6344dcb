// SPDX-License-Identifier: Apache-2.0

// Package publish posts approved ads to a Telegram channel.
package publish

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/resilience"
)

// Telegram caps photo captions at 1024 characters.
const maxCaptionLength = 1024

// Config holds the publisher settings.
type Config struct {
	BotToken string `koanf:"bot_token"`
	// Channel is "@username" or a numeric chat id.
	Channel     string `koanf:"channel"`
	APIEndpoint string `koanf:"api_endpoint"`
}

// BannerFiles resolves a banner file name to its path on disk.
// storage.ImageStore implements it.
type BannerFiles interface {
	Path(name string) (string, error)
}

// Ad is what gets posted.
type Ad struct {
	Text      string
	BannerURL string
}

// Telegram posts ads through the Bot API.
type Telegram struct {
	bot     *tgbotapi.BotAPI
	channel string
	banners BannerFiles
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

// Option configures a Telegram publisher.
type Option func(*options)

type options struct {
	client  tgbotapi.HTTPClient
	banners BannerFiles
	retry   *resilience.RetryConfig
	logger  *slog.Logger
}

// WithHTTPClient sets the client used for Bot API requests.
func WithHTTPClient(c tgbotapi.HTTPClient) Option { return func(o *options) { o.client = c } }

// WithBannerFiles lets the publisher attach banners stored on disk.
func WithBannerFiles(b BannerFiles) Option { return func(o *options) { o.banners = b } }

// WithRetry overrides the send retry policy.
func WithRetry(rc resilience.RetryConfig) Option { return func(o *options) { o.retry = &rc } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// NewTelegram connects to the Bot API and verifies the token.
func NewTelegram(cfg Config, opts ...Option) (*Telegram, error) {
	if cfg.BotToken == "" {
		return nil, errors.New(errors.CodeInvalidInput, "telegram bot token is required", nil)
	}
	if cfg.Channel == "" {
		return nil, errors.New(errors.CodeInvalidInput, "telegram channel is required", nil)
	}
	o := options{client: &http.Client{Timeout: 30 * time.Second}, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, o.client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	retry := resilience.DefaultRetryConfig().WithIsRecoverable(isTransient)
	if o.retry != nil {
		retry = *o.retry
	}
	o.logger.Info("telegram publisher connected", "username", bot.Self.UserName, "channel", cfg.Channel)
	return &Telegram{
		bot:     bot,
		channel: cfg.Channel,
		banners: o.banners,
		retry:   retry.WithLogger(o.logger),
		logger:  o.logger,
	}, nil
}

// PublishPayload posts the final text and banner of an approved run.
func (t *Telegram) PublishPayload(ctx context.Context, p *core.Payload) (int, error) {
	if status := p.String(core.KeyQAStatus); status != "APPROVED" {
		return 0, errors.New(errors.CodeInvalidInput, "only approved ads can be published", nil).
			WithContext("qa_status", status)
	}
	return t.Publish(ctx, Ad{Text: p.String(core.KeyFinalText), BannerURL: p.String(core.KeyBannerURL)})
}

// Publish posts ad and returns the Telegram message id. The banner is sent
// as a photo with the text as caption when its file can be found; otherwise
// only the text is posted.
func (t *Telegram) Publish(ctx context.Context, ad Ad) (int, error) {
	if strings.TrimSpace(ad.Text) == "" {
		return 0, errors.New(errors.CodeInvalidInput, "ad text is empty", nil)
	}
	msg := t.message(ad)

	var sent tgbotapi.Message
	err := t.retry.Do(ctx, func() error {
		var err error
		sent, err = t.bot.Send(msg)
		return err
	})
	if err != nil {
		return 0, errors.New(errors.CodeToolExecution, "telegram send failed", err)
	}
	t.logger.InfoContext(ctx, "ad published", "channel", t.channel, "message_id", sent.MessageID)
	return sent.MessageID, nil
}

func (t *Telegram) message(ad Ad) tgbotapi.Chattable {
	if data, name, ok := t.banner(ad.BannerURL); ok && len([]rune(ad.Text)) <= maxCaptionLength {
		file := tgbotapi.FileBytes{Name: name, Bytes: data}
		var photo tgbotapi.PhotoConfig
		if id, err := strconv.ParseInt(t.channel, 10, 64); err == nil {
			photo = tgbotapi.NewPhoto(id, file)
		} else {
			photo = tgbotapi.NewPhotoToChannel(t.channel, file)
		}
		photo.Caption = ad.Text
		return photo
	}
	if id, err := strconv.ParseInt(t.channel, 10, 64); err == nil {
		return tgbotapi.NewMessage(id, ad.Text)
	}
	return tgbotapi.NewMessageToChannel(t.channel, ad.Text)
}

func (t *Telegram) banner(url string) ([]byte, string, bool) {
	if t.banners == nil || url == "" {
		return nil, "", false
	}
	name := path.Base(url)
	p, err := t.banners.Path(name)
	if err != nil {
		return nil, "", false
	}
	data, err := os.ReadFile(p)
	if err != nil {
		t.logger.Warn("banner not readable, posting text only", "file", name, "error", err)
		return nil, "", false
	}
	return data, name, true
}

// isTransient retries rate limits, server errors and network failures.
// Other Bot API errors are final.
func isTransient(err error) bool {
	var apiErr *tgbotapi.Error
	if stderrors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
	}
	return !stderrors.Is(err, context.Canceled) && !stderrors.Is(err, context.DeadlineExceeded)
}
