package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/relnotify/internal/middleware"
	"github.com/hitoshi/relnotify/internal/model"
)

// SubscriptionServiceInterface は購読ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	Subscribe(ctx context.Context, telegramID int64, kind model.Kind, externalID string) (*model.SubscriptionView, error)
	Unsubscribe(ctx context.Context, telegramID int64, kind model.Kind, externalID string) error
	ListByTelegramID(ctx context.Context, telegramID int64) ([]model.SubscriptionView, error)
	ListEntities(ctx context.Context, kind model.Kind) ([]*model.TrackedEntity, error)
}

// SubscriptionHandler は購読と追跡対象のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
	logger  *slog.Logger
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface, logger *slog.Logger) *SubscriptionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionHandler{service: service, logger: logger}
}

// entityResponse は追跡対象のAPIレスポンス。
type entityResponse struct {
	ID             string     `json:"id"`
	Kind           string     `json:"kind"`
	ExternalID     string     `json:"external_id"`
	Name           string     `json:"name"`
	ImageURL       string     `json:"image_url,omitempty"`
	SiteURL        string     `json:"site_url,omitempty"`
	NextReleaseAt  *time.Time `json:"next_release_at,omitempty"`
	Units          int        `json:"units"`
	UnitsTotal     *int       `json:"units_total,omitempty"`
	Status         string     `json:"status"`
	LastNotifiedAt *time.Time `json:"last_notified_at,omitempty"`
}

// subscriptionResponse は購読情報のAPIレスポンス。
type subscriptionResponse struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Entity    entityResponse `json:"entity"`
}

// subscriptionRequest は購読の登録・解除リクエストのボディ。
type subscriptionRequest struct {
	TelegramID int64  `json:"telegram_id"`
	Kind       string `json:"kind"`
	ExternalID string `json:"external_id"`
}

func toEntityResponse(e *model.TrackedEntity) entityResponse {
	return entityResponse{
		ID:             e.ID,
		Kind:           string(e.Kind),
		ExternalID:     e.ExternalID,
		Name:           e.Name,
		ImageURL:       e.ImageURL,
		SiteURL:        e.SiteURL,
		NextReleaseAt:  e.NextReleaseAt,
		Units:          e.Units,
		UnitsTotal:     e.UnitsTotal,
		Status:         string(e.Status),
		LastNotifiedAt: e.LastNotifiedAt,
	}
}

func toSubscriptionResponse(v *model.SubscriptionView) subscriptionResponse {
	return subscriptionResponse{
		ID:        v.Subscription.ID,
		CreatedAt: v.Subscription.CreatedAt,
		Entity:    toEntityResponse(&v.Entity),
	}
}

// ListEntities は追跡対象の一覧を返す。
// GET /api/entities?kind=anime
func (h *SubscriptionHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	kind := model.Kind(r.URL.Query().Get("kind"))

	entities, err := h.service.ListEntities(r.Context(), kind)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	resp := make([]entityResponse, 0, len(entities))
	for _, e := range entities {
		resp = append(resp, toEntityResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSubscriptions はユーザーの購読一覧を返す。
// GET /api/users/{telegramID}/subscriptions
func (h *SubscriptionHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	telegramID, err := strconv.ParseInt(chi.URLParam(r, "telegramID"), 10, 64)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("Telegram IDは整数で指定してください"))
		return
	}

	views, err := h.service.ListByTelegramID(r.Context(), telegramID)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	resp := make([]subscriptionResponse, 0, len(views))
	for i := range views {
		resp = append(resp, toSubscriptionResponse(&views[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Subscribe は購読を登録する。
// POST /api/subscriptions
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSubscriptionRequest(w, r)
	if !ok {
		return
	}

	view, err := h.service.Subscribe(r.Context(), req.TelegramID, model.Kind(req.Kind), req.ExternalID)
	if err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSubscriptionResponse(view))
}

// Unsubscribe は購読を解除する。
// DELETE /api/subscriptions
func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeSubscriptionRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.Unsubscribe(r.Context(), req.TelegramID, model.Kind(req.Kind), req.ExternalID); err != nil {
		middleware.WriteError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func decodeSubscriptionRequest(w http.ResponseWriter, r *http.Request) (subscriptionRequest, bool) {
	var req subscriptionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeInvalidRequest,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
