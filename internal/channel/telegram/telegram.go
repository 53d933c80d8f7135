// Package telegram はTelegram Bot APIを使った通知チャネルを提供する。
//
// 送信はすべて共有のトークンバケットを通過するため、
// 呼び出し側のペース制御に加えてボット全体の送信レートに上限がかかる。
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/hitoshi/dealsync/internal/dispatch"
)

// maxCaptionLength は写真キャプションの最大文字数。超える場合はテキストで送る。
const maxCaptionLength = 1024

// BotAPI はメッセージ送信に使うBot APIの部分集合。*tgbotapi.BotAPIが満たす。
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Config はチャネルの送信レート設定。
type Config struct {
	RatePerSecond float64
	Burst         int
}

// Channel はdispatch.Channelの実装。
type Channel struct {
	bot     BotAPI
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ dispatch.Channel = (*Channel)(nil)

// Connect はボットトークンで認証済みのBot APIクライアントを生成する。
func Connect(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, fmt.Errorf("ボットトークンが設定されていません")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("Telegramへの接続に失敗しました: %w", err)
	}
	bot.Debug = false
	return bot, nil
}

// New はChannelを生成する。RatePerSecondが0以下の場合は毎秒25通、Burstは1。
func New(bot BotAPI, cfg Config, logger *slog.Logger) *Channel {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 25
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Channel{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:  logger,
	}
}

// Send は受信者のチャットにメッセージを送る。
// 画像URLがある場合は写真として送り、失敗した場合はテキストのみで再送する。
func (c *Channel) Send(ctx context.Context, recipientID int64, msg dispatch.Message) error {
	if msg.ImageURL != "" && utf8.RuneCountInString(msg.Text) <= maxCaptionLength {
		err := c.send(ctx, photoConfig(recipientID, msg))
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		c.logger.Warn("写真の送信に失敗したためテキストで再送します",
			slog.Int64("recipient_id", recipientID),
			slog.String("image_url", msg.ImageURL),
			slog.String("error", err.Error()),
		)
	}
	return c.send(ctx, messageConfig(recipientID, msg))
}

func (c *Channel) send(ctx context.Context, chattable tgbotapi.Chattable) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("送信レートの待機中に中断されました: %w", err)
	}
	if _, err := c.bot.Send(chattable); err != nil {
		return fmt.Errorf("Telegramへの送信に失敗しました: %w", err)
	}
	return nil
}

func photoConfig(chatID int64, msg dispatch.Message) tgbotapi.PhotoConfig {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(msg.ImageURL))
	photo.Caption = msg.Text
	photo.ParseMode = tgbotapi.ModeHTML
	if kb := keyboard(msg.Buttons); kb != nil {
		photo.ReplyMarkup = *kb
	}
	return photo
}

func messageConfig(chatID int64, msg dispatch.Message) tgbotapi.MessageConfig {
	m := tgbotapi.NewMessage(chatID, msg.Text)
	m.ParseMode = tgbotapi.ModeHTML
	m.DisableWebPagePreview = true
	if kb := keyboard(msg.Buttons); kb != nil {
		m.ReplyMarkup = *kb
	}
	return m
}

// keyboard はボタンを1行のインラインキーボードにする。ボタンがなければnil。
func keyboard(buttons []dispatch.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, b := range buttons {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(row)
	return &kb
}
