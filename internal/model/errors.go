package model

import (
	"errors"
	"fmt"
)

// 照合処理のエラー分類。errors.Isで判定する。
var (
	// ErrTransientSource は一時的な外部ソースエラー（ネットワーク、レート制限、5xx、タイムアウト）。
	// 状態は変更せず次サイクルで再試行する。
	ErrTransientSource = errors.New("外部ソースの一時的なエラー")
	// ErrNotFoundUpstream は外部ソース上で対象が見つからないことを示す。
	ErrNotFoundUpstream = errors.New("外部ソースに対象が存在しません")
	// ErrInvalidResponse は外部ソースの応答を解釈できないことを示す。
	ErrInvalidResponse = errors.New("外部ソースの応答が不正です")
	// ErrClaimContention は他のプロセスが同じ追跡対象を処理中であることを示す。
	ErrClaimContention = errors.New("他の処理が追跡対象をロック中です")
	// ErrDelivery は購読者単位の配信失敗を示す。
	ErrDelivery = errors.New("通知の配信に失敗しました")
	// ErrStoreUnavailable はデータベースに接続できないことを示す。サイクル全体を中断する。
	ErrStoreUnavailable = errors.New("データベースを利用できません")
	// ErrEntityNotFound は追跡対象がデータベースに存在しないことを示す。
	ErrEntityNotFound = errors.New("追跡対象が見つかりません")
)

// DeliveryError は購読者単位の配信エラー。
type DeliveryError struct {
	SubscriptionID string
	ChatID         int64
	Err            error
}

// Error はerrorインターフェースを実装する。
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("通知の配信に失敗しました (subscription=%s, chat=%d): %v", e.SubscriptionID, e.ChatID, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is はErrDeliveryとの比較を可能にする。
func (e *DeliveryError) Is(target error) bool {
	return target == ErrDelivery
}

// APIError は統一エラーフォーマットを表す。
// 利用者に表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, subscription, upstream, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeEntityNotFound       = "ENTITY_NOT_FOUND"
	ErrCodeUpstreamNotFound     = "UPSTREAM_NOT_FOUND"
	ErrCodeUpstreamUnavailable  = "UPSTREAM_UNAVAILABLE"
	ErrCodeSubscriptionExists   = "SUBSCRIPTION_EXISTS"
	ErrCodeSubscriptionNotFound = "SUBSCRIPTION_NOT_FOUND"
	ErrCodeInvalidKind          = "INVALID_KIND"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
)

// NewEntityNotFoundError は追跡対象未登録エラーを生成する。
func NewEntityNotFoundError(kind Kind, externalID string) *APIError {
	return &APIError{
		Code:     ErrCodeEntityNotFound,
		Message:  fmt.Sprintf("追跡対象が登録されていません: %s/%s", kind, externalID),
		Category: "subscription",
		Action:   "種別と外部IDを確認してください。",
	}
}

// NewUpstreamNotFoundError は外部ソース上の対象未検出エラーを生成する。
func NewUpstreamNotFoundError(kind Kind, externalID string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamNotFound,
		Message:  fmt.Sprintf("外部ソースに対象が見つかりません: %s/%s", kind, externalID),
		Category: "upstream",
		Action:   "外部IDが正しいか確認してください。",
	}
}

// NewUpstreamUnavailableError は外部ソース利用不可エラーを生成する。
func NewUpstreamUnavailableError(kind Kind) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  fmt.Sprintf("外部ソースに接続できません: %s", kind),
		Category: "upstream",
		Action:   "しばらく時間をおいてから再度お試しください。",
	}
}

// NewSubscriptionExistsError は重複購読エラーを生成する。
func NewSubscriptionExistsError(kind Kind, externalID string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionExists,
		Message:  fmt.Sprintf("すでに購読しています: %s/%s", kind, externalID),
		Category: "subscription",
		Action:   "購読一覧を確認してください。",
	}
}

// NewSubscriptionNotFoundError は購読未検出エラーを生成する。
func NewSubscriptionNotFoundError(kind Kind, externalID string) *APIError {
	return &APIError{
		Code:     ErrCodeSubscriptionNotFound,
		Message:  fmt.Sprintf("購読が見つかりません: %s/%s", kind, externalID),
		Category: "subscription",
		Action:   "購読一覧を確認してください。",
	}
}

// NewInvalidKindError は未知の種別エラーを生成する。
func NewInvalidKindError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidKind,
		Message:  fmt.Sprintf("未知の種別です: %s", kind),
		Category: "validation",
		Action:   "種別には anime または manga を指定してください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}
