package notify

import (
	"context"
	"log/slog"
)

// Sender は1件の通知を1つのチャットに送るインターフェース。
type Sender interface {
	Send(ctx context.Context, chatID int64, msg Message) error
}

// LogSender は通知を送らずにログへ出力するSender。
// Telegramを使わない開発環境向け。
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender はLogSenderを生成する。
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

// Send は通知内容をInfoレベルで出力する。
func (s *LogSender) Send(ctx context.Context, chatID int64, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info("通知",
		slog.Int64("chat_id", chatID),
		slog.String("text", msg.Text),
		slog.String("image_url", msg.ImageURL),
	)
	return nil
}
