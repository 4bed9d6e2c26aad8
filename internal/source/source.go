// Package source は外部ソース（アニメ・マンガのデータベース）への統一インターフェースを提供する。
// 各アダプタは共有状態を変更せず、失敗時はmodelの分類済みエラーを返す。
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/hitoshi/relnotify/internal/model"
)

const (
	// maxBodySize はレスポンスボディの最大読み取りサイズ（2MB）。
	maxBodySize = 2 << 20
	// userAgent は外部ソースへのリクエストに付与するUser-Agent。
	userAgent = "relnotify/1.0"
)

// Source は追跡対象の最新状態を取得するインターフェース。
type Source interface {
	// Fetch は外部IDで指定した追跡対象の最新状態を取得する。
	// エラーはmodel.ErrTransientSource、model.ErrNotFoundUpstream、model.ErrInvalidResponseのいずれかをラップする。
	Fetch(ctx context.Context, externalID string) (model.FreshState, error)
}

// Searcher はテキスト検索に対応する外部ソースのインターフェース。
type Searcher interface {
	// Search はqueryに一致する作品を最大limit件返す。
	Search(ctx context.Context, query string, limit int) ([]model.SearchHit, error)
}

// Registry は種別ごとの外部ソースを保持する。
type Registry struct {
	mu      sync.RWMutex
	sources map[model.Kind]Source
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{sources: make(map[model.Kind]Source)}
}

// Register は種別に外部ソースを登録する。同じ種別の既存の登録は置き換える。
func (r *Registry) Register(kind model.Kind, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[kind] = src
}

// Get は種別の外部ソースを返す。未登録の場合はエラーを返す。
func (r *Registry) Get(kind model.Kind) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[kind]
	if !ok {
		return nil, fmt.Errorf("種別 %s の外部ソースが登録されていません", kind)
	}
	return src, nil
}

// Searcher は種別の外部ソースが検索に対応していればそれを返す。
func (r *Registry) Searcher(kind model.Kind) (Searcher, bool) {
	src, err := r.Get(kind)
	if err != nil {
		return nil, false
	}
	s, ok := src.(Searcher)
	return s, ok
}

// ClassifyStatus はHTTPステータスコードをエラー分類に変換する。
// 200はnil、404/410は対象なし、429/5xxは一時的エラー、それ以外は不正な応答。
func ClassifyStatus(statusCode int) error {
	switch {
	case statusCode == http.StatusOK:
		return nil
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return model.ErrNotFoundUpstream
	case statusCode == http.StatusTooManyRequests:
		return model.ErrTransientSource
	case statusCode >= 500:
		return model.ErrTransientSource
	default:
		return model.ErrInvalidResponse
	}
}

// HTTPClient はレート制限付きで外部ソースにHTTPリクエストを送る。
// 各アダプタが共通して使用する。
type HTTPClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewHTTPClient はHTTPClientを生成する。
// ratePerSecが0以下の場合はレート制限を行わない。
func NewHTTPClient(httpClient *http.Client, ratePerSec float64, logger *slog.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerSec > 0 {
		burst := int(ratePerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{httpClient: httpClient, limiter: limiter, logger: logger}
}

// Do はレート制限を待ってからリクエストを送り、ステータスが200の場合にボディを返す。
// それ以外の場合は分類済みエラーを返す。
func (c *HTTPClient) Do(ctx context.Context, req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: レート制限の待機に失敗しました: %w", model.ErrTransientSource, err)
	}

	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: リクエストに失敗しました: %w", model.ErrTransientSource, err)
	}
	defer resp.Body.Close()

	if classErr := ClassifyStatus(resp.StatusCode); classErr != nil {
		c.logger.Warn("外部ソースがエラーステータスを返しました",
			slog.String("url", req.URL.String()),
			slog.Int("http_status", resp.StatusCode),
		)
		// 接続を再利用するためボディを読み捨てる
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, fmt.Errorf("%w: ステータス %d", classErr, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: レスポンスボディの読み取りに失敗しました: %w", model.ErrTransientSource, err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("%w: レスポンスサイズが上限を超えています", model.ErrInvalidResponse)
	}

	return body, nil
}

// IsClassified はerrが照合処理のエラー分類のいずれかに該当するかを返す。
func IsClassified(err error) bool {
	return errors.Is(err, model.ErrTransientSource) ||
		errors.Is(err, model.ErrNotFoundUpstream) ||
		errors.Is(err, model.ErrInvalidResponse)
}
