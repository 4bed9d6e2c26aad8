package model

import "time"

// User は通知を受け取るユーザーを表す。
// Telegramのチャット IDで一意に識別する。
type User struct {
	ID         string
	TelegramID int64
	CreatedAt  time.Time
}
