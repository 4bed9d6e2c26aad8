// Package mangaupdates はMangaUpdatesのAPIからマンガの最新チャプターを取得する。
// JSON APIとシリーズごとのRSSフィードの2つの取得方法を提供する。
package mangaupdates

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/relnotify/internal/model"
	"github.com/hitoshi/relnotify/internal/source"
)

// DefaultBaseURL はMangaUpdates APIのベースURL。
const DefaultBaseURL = "https://api.mangaupdates.com"

// Client はMangaUpdates JSON APIのクライアント。
type Client struct {
	http    *source.HTTPClient
	baseURL string
}

var (
	_ source.Source   = (*Client)(nil)
	_ source.Searcher = (*Client)(nil)
)

// NewClient はClientを生成する。baseURLが空の場合はDefaultBaseURLを使用する。
func NewClient(httpClient *source.HTTPClient, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type image struct {
	URL struct {
		Original string `json:"original"`
	} `json:"url"`
}

type series struct {
	SeriesID      int64  `json:"series_id"`
	Title         string `json:"title"`
	URL           string `json:"url"`
	Image         *image `json:"image"`
	LatestChapter int    `json:"latest_chapter"`
	Completed     bool   `json:"completed"`
}

type searchResponse struct {
	Results []struct {
		Record series `json:"record"`
	} `json:"results"`
}

// Fetch はシリーズの最新チャプター番号と完結状態を取得する。
func (c *Client) Fetch(ctx context.Context, externalID string) (model.FreshState, error) {
	if err := validateID(externalID); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/series/"+url.PathEscape(externalID), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var s series
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("%w: シリーズ情報のパースに失敗しました: %w", model.ErrInvalidResponse, err)
	}
	if s.SeriesID == 0 {
		return nil, fmt.Errorf("%w: series_idが含まれていません", model.ErrInvalidResponse)
	}

	state := model.ChapterState{
		LatestUnit: s.LatestChapter,
		Completed:  s.Completed,
		Meta: model.Meta{
			Name:    s.Title,
			SiteURL: s.URL,
		},
	}
	if s.Image != nil {
		state.Meta.ImageURL = s.Image.URL.Original
	}
	return state, nil
}

// Search はタイトルでシリーズを検索する。
func (c *Client) Search(ctx context.Context, query string, limit int) ([]model.SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	payload, err := json.Marshal(map[string]any{"search": query, "perpage": limit})
	if err != nil {
		return nil, fmt.Errorf("検索リクエストの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/series/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: 検索結果のパースに失敗しました: %w", model.ErrInvalidResponse, err)
	}

	hits := make([]model.SearchHit, 0, len(resp.Results))
	for _, r := range resp.Results {
		if len(hits) >= limit {
			break
		}
		hits = append(hits, model.SearchHit{
			ExternalID: strconv.FormatInt(r.Record.SeriesID, 10),
			Name:       r.Record.Title,
			SiteURL:    r.Record.URL,
		})
	}
	return hits, nil
}

// validateID はMangaUpdatesのシリーズIDが数値であることを確認する。
func validateID(externalID string) error {
	if _, err := strconv.ParseInt(externalID, 10, 64); err != nil {
		return fmt.Errorf("%w: シリーズIDが数値ではありません: %q", model.ErrNotFoundUpstream, externalID)
	}
	return nil
}
