package notify

import (
	"strings"
	"testing"

	"github.com/hitoshi/relnotify/internal/model"
)

func TestCompose_Manga(t *testing.T) {
	msg := Compose(&model.TrackedEntity{
		Kind:     model.KindManga,
		Name:     "Berserk",
		Units:    376,
		SiteURL:  "https://www.mangaupdates.com/series/abc",
		ImageURL: "https://cdn.example/b.jpg",
	})

	if !strings.Contains(msg.Text, "<b>Berserk</b>") {
		t.Errorf("タイトルが太字で含まれていない: %s", msg.Text)
	}
	if !strings.Contains(msg.Text, "新しいチャプターが公開されました（376）") {
		t.Errorf("マンガの通知文が正しくない: %s", msg.Text)
	}
	if !strings.Contains(msg.Text, `<a href="https://www.mangaupdates.com/series/abc">`) {
		t.Errorf("リンクが含まれていない: %s", msg.Text)
	}
	if msg.ImageURL != "https://cdn.example/b.jpg" {
		t.Errorf("ImageURL = %q", msg.ImageURL)
	}
}

func TestCompose_AnimeWithTotal(t *testing.T) {
	total := 12
	msg := Compose(&model.TrackedEntity{Kind: model.KindAnime, Name: "Frieren", Units: 5, UnitsTotal: &total})

	if !strings.Contains(msg.Text, "新しいエピソードが公開されました（5 / 12）") {
		t.Errorf("アニメの通知文が正しくない: %s", msg.Text)
	}
	if strings.Contains(msg.Text, "<a ") {
		t.Error("サイトURLがない場合はリンクを含めない")
	}
	if msg.ImageURL != "" {
		t.Errorf("画像がない場合ImageURLは空であるべき: %q", msg.ImageURL)
	}
}

func TestCompose_EscapesUntrustedText(t *testing.T) {
	msg := Compose(&model.TrackedEntity{
		Kind:     model.KindManga,
		Name:     `<script>alert(1)</script>Tom & Jerry`,
		SiteURL:  "javascript:alert(1)",
		ImageURL: "ftp://example.com/x.png",
	})

	if strings.Contains(msg.Text, "<script>") {
		t.Errorf("タグが除去されていない: %s", msg.Text)
	}
	if !strings.Contains(msg.Text, "Tom &amp; Jerry") {
		t.Errorf("&がエスケープされていない: %s", msg.Text)
	}
	if strings.Contains(msg.Text, "javascript:") {
		t.Errorf("http(s)以外のURLはリンクにしない: %s", msg.Text)
	}
	if msg.ImageURL != "" {
		t.Errorf("http(s)以外の画像URLは使わない: %q", msg.ImageURL)
	}
}

func TestCompose_LongTextDropsPhoto(t *testing.T) {
	msg := Compose(&model.TrackedEntity{
		Kind:     model.KindManga,
		Name:     strings.Repeat("長", captionLimit),
		ImageURL: "https://cdn.example/b.jpg",
	})
	if msg.ImageURL != "" {
		t.Error("キャプション上限を超える場合は写真を付けない")
	}
}
