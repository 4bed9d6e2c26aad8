// Package shikimori はShikimoriのGraphQL APIからアニメの放送状況を取得する。
package shikimori

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/relnotify/internal/model"
	"github.com/hitoshi/relnotify/internal/source"
)

// DefaultBaseURL はShikimoriのベースURL。
const DefaultBaseURL = "https://shikimori.one"

// statusReleased は放送終了を示すShikimoriのステータス値。
const statusReleased = "released"

const animeFields = `id name russian url status episodes episodesAired nextEpisodeAt poster { originalUrl }`

const fetchQuery = `query($ids: String, $limit: PositiveInt) {
  animes(ids: $ids, limit: $limit) { ` + animeFields + ` }
}`

const searchQuery = `query($search: String, $limit: PositiveInt) {
  animes(search: $search, limit: $limit) { ` + animeFields + ` }
}`

// Client はShikimori GraphQL APIのクライアント。
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

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLResponse struct {
	Data struct {
		Animes []anime `json:"animes"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type anime struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Russian       string  `json:"russian"`
	URL           string  `json:"url"`
	Status        string  `json:"status"`
	Episodes      int     `json:"episodes"`
	EpisodesAired int     `json:"episodesAired"`
	NextEpisodeAt *string `json:"nextEpisodeAt"`
	Poster        *struct {
		OriginalURL string `json:"originalUrl"`
	} `json:"poster"`
}

// Fetch はアニメの放送状況を取得する。
func (c *Client) Fetch(ctx context.Context, externalID string) (model.FreshState, error) {
	if _, err := strconv.ParseInt(externalID, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: 外部IDが数値ではありません: %q", model.ErrNotFoundUpstream, externalID)
	}

	animes, err := c.query(ctx, fetchQuery, map[string]any{"ids": externalID, "limit": 1})
	if err != nil {
		return nil, err
	}
	if len(animes) == 0 {
		return nil, fmt.Errorf("%w: anime id=%s", model.ErrNotFoundUpstream, externalID)
	}

	return c.toState(animes[0])
}

// Search はタイトルでアニメを検索する。
func (c *Client) Search(ctx context.Context, query string, limit int) ([]model.SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	animes, err := c.query(ctx, searchQuery, map[string]any{"search": query, "limit": limit})
	if err != nil {
		return nil, err
	}

	hits := make([]model.SearchHit, 0, len(animes))
	for _, a := range animes {
		hits = append(hits, model.SearchHit{
			ExternalID: a.ID,
			Name:       a.Name,
			SiteURL:    c.absoluteURL(a.URL),
		})
	}
	return hits, nil
}

func (c *Client) query(ctx context.Context, query string, vars map[string]any) ([]anime, error) {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("GraphQLリクエストの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/graphql", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp graphQLResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: GraphQLレスポンスのパースに失敗しました: %w", model.ErrInvalidResponse, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: GraphQLエラー: %s", model.ErrInvalidResponse, resp.Errors[0].Message)
	}

	return resp.Data.Animes, nil
}

func (c *Client) toState(a anime) (model.ScheduleState, error) {
	state := model.ScheduleState{
		UnitsAired: a.EpisodesAired,
		Finished:   a.Status == statusReleased,
		Meta: model.Meta{
			Name:    a.Name,
			SiteURL: c.absoluteURL(a.URL),
		},
	}
	if a.Episodes > 0 {
		total := a.Episodes
		state.UnitsTotal = &total
	}
	if a.Poster != nil {
		state.Meta.ImageURL = a.Poster.OriginalURL
	}
	if a.NextEpisodeAt != nil && *a.NextEpisodeAt != "" {
		t, err := time.Parse(time.RFC3339, *a.NextEpisodeAt)
		if err != nil {
			return model.ScheduleState{}, fmt.Errorf("%w: nextEpisodeAtのパースに失敗しました: %w", model.ErrInvalidResponse, err)
		}
		state.NextReleaseAt = &t
	}
	return state, nil
}

// absoluteURL は相対パスで返されたURLをベースURLで補完する。
func (c *Client) absoluteURL(u string) string {
	if strings.HasPrefix(u, "/") {
		return c.baseURL + u
	}
	return u
}
