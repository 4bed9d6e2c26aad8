package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// TelegramConfig はTelegram Bot APIへの接続設定。
type TelegramConfig struct {
	Token string
	// APIURL が空の場合はtelebotの既定値（https://api.telegram.org）を使う。
	APIURL  string
	Timeout time.Duration
}

// TelegramSender はTelegram Bot API経由で通知を送るSender。
type TelegramSender struct {
	bot *tele.Bot
}

// NewTelegramSender はTelegramSenderを生成する。
// 送信専用のためポーリングは行わず、起動時のgetMe呼び出しも省略する。
func NewTelegramSender(cfg TelegramConfig) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("Telegramのトークンが設定されていません")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	bot, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("Telegramボットの初期化に失敗しました: %w", err)
	}
	return &TelegramSender{bot: bot}, nil
}

// Send は写真付き、または本文のみのメッセージを送る。
// telebotはcontextを受け取らないため、ctxの終了時は応答を待たずに戻る。
func (s *TelegramSender) Send(ctx context.Context, chatID int64, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	chat := &tele.Chat{ID: chatID}
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}

	var what any = msg.Text
	if msg.ImageURL != "" {
		what = &tele.Photo{File: tele.FromURL(msg.ImageURL), Caption: msg.Text}
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(chat, what, opts)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("Telegramへの送信に失敗しました: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
