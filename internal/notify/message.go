// Package notify は新しいリリースの通知メッセージを組み立て、購読者に配信する。
package notify

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/relnotify/internal/model"
)

// captionLimit はTelegramの写真キャプションの最大文字数。
const captionLimit = 1024

// Message は配信する通知の内容。TextはHTML形式で、Linkを含む。
type Message struct {
	Text     string
	ImageURL string
	Link     string
}

var strict = bluemonday.StrictPolicy()

// Compose は追跡対象の状態から通知メッセージを組み立てる。
// 外部ソース由来の文字列はすべてエスケープする。
func Compose(e *model.TrackedEntity) Message {
	var b strings.Builder

	fmt.Fprintf(&b, "<b>%s</b>\n", strict.Sanitize(e.Name))
	fmt.Fprintf(&b, "新しい%sが公開されました", e.Kind.UnitLabel())
	if e.Units > 0 {
		if e.UnitsTotal != nil {
			fmt.Fprintf(&b, "（%d / %d）", e.Units, *e.UnitsTotal)
		} else {
			fmt.Fprintf(&b, "（%d）", e.Units)
		}
	}
	link := safeLink(e.SiteURL)
	if link != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">詳細を見る</a>", link)
	}

	text := b.String()
	image := safeLink(e.ImageURL)
	if image != "" && len([]rune(text)) > captionLimit {
		// キャプションの上限を超える場合は写真を付けずに本文だけ送る
		image = ""
	}

	return Message{Text: text, ImageURL: image, Link: link}
}

// safeLink はhttp(s)のURLのみをエスケープして返す。それ以外は空文字列を返す。
func safeLink(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return strict.Sanitize(u.String())
}
