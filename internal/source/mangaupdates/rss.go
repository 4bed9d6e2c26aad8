package mangaupdates

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/relnotify/internal/model"
	"github.com/hitoshi/relnotify/internal/source"
)

// chapterPattern はリリースタイトル中のチャプター表記（"c.45" や "c.45-47"）に一致する。
var chapterPattern = regexp.MustCompile(`(?i)\bc\.\s*(\d+)(?:\s*-\s*(\d+))?`)

// RSSClient はシリーズごとのRSSフィードからリリース情報を取得するクライアント。
// JSON APIが利用できない環境向けの代替手段で、完結状態は取得できない。
type RSSClient struct {
	http    *source.HTTPClient
	baseURL string
	parser  *gofeed.Parser
}

var _ source.Source = (*RSSClient)(nil)

// NewRSSClient はRSSClientを生成する。baseURLが空の場合はDefaultBaseURLを使用する。
func NewRSSClient(httpClient *source.HTTPClient, baseURL string) *RSSClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &RSSClient{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		parser:  gofeed.NewParser(),
	}
}

// Fetch はRSSフィードのリリース一覧から最大のチャプター番号を求める。
func (c *RSSClient) Fetch(ctx context.Context, externalID string) (model.FreshState, error) {
	if err := validateID(externalID); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/series/"+url.PathEscape(externalID)+"/rss", nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml")

	body, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	feed, err := c.parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: RSSフィードのパースに失敗しました: %w", model.ErrInvalidResponse, err)
	}

	latest := 0
	for _, item := range feed.Items {
		if n := LatestChapterInTitle(item.Title); n > latest {
			latest = n
		}
	}

	return model.ChapterState{
		LatestUnit: latest,
		Meta: model.Meta{
			Name:    seriesName(feed.Title),
			SiteURL: feed.Link,
		},
	}, nil
}

// LatestChapterInTitle はタイトル中のチャプター表記のうち最大の番号を返す。
// 表記がない場合は0を返す。
func LatestChapterInTitle(title string) int {
	latest := 0
	for _, m := range chapterPattern.FindAllStringSubmatch(title, -1) {
		for _, g := range m[1:] {
			if g == "" {
				continue
			}
			if n, err := strconv.Atoi(g); err == nil && n > latest {
				latest = n
			}
		}
	}
	return latest
}

// seriesName はフィードタイトルから共通の接頭辞を除いたシリーズ名を返す。
func seriesName(feedTitle string) string {
	name := strings.TrimSpace(feedTitle)
	for _, prefix := range []string{"MangaUpdates -", "Releases for"} {
		name = strings.TrimSpace(strings.TrimPrefix(name, prefix))
	}
	return name
}
