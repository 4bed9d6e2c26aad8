// Package model はドメインモデルを定義する。
package model

import "time"

// Kind は追跡対象の種別を表す。
// 種別ごとに変更判定の述語が異なる。
type Kind string

const (
	// KindAnime は固定スケジュールで放送されるアニメを示す。
	KindAnime Kind = "anime"
	// KindManga はチャプター数をポーリングして検出するマンガを示す。
	KindManga Kind = "manga"
)

// Kinds はサポートする全種別を返す。
func Kinds() []Kind {
	return []Kind{KindAnime, KindManga}
}

// ParseKind は文字列をKindに変換する。未知の値の場合はfalseを返す。
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindAnime:
		return KindAnime, true
	case KindManga:
		return KindManga, true
	default:
		return "", false
	}
}

// Schedule は固定スケジュール種別かどうかを返す。
func (k Kind) Schedule() bool {
	return k == KindAnime
}

// UnitLabel は通知文に使う公開単位の名称を返す。
func (k Kind) UnitLabel() string {
	if k == KindAnime {
		return "エピソード"
	}
	return "チャプター"
}

// Status は追跡対象のライフサイクル状態を表す。
// active から ended への一方向のみ遷移する。
type Status string

const (
	// StatusActive は公開が継続中であることを示す。
	StatusActive Status = "active"
	// StatusEnded は完結済みであることを示す。
	StatusEnded Status = "ended"
)

// TrackedEntity は外部ソースで管理される追跡対象（アニメ・マンガ）を表す。
// 物理削除は行わない。
type TrackedEntity struct {
	ID         string
	Kind       Kind
	ExternalID string

	Name     string
	ImageURL string
	SiteURL  string

	// NextReleaseAt は次回公開予定日時。固定スケジュール種別のみ使用する。
	NextReleaseAt *time.Time
	// Units はアニメでは放送済みエピソード数、マンガでは最新チャプター番号。
	Units      int
	UnitsTotal *int
	Status     Status

	// LastNotifiedAt は最後に通知した日時。nilは未通知を示す。
	LastNotifiedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ended は完結済みかどうかを返す。
func (e *TrackedEntity) Ended() bool {
	return e.Status == StatusEnded
}

// Subscription はユーザーと追跡対象の購読関係を表す。
type Subscription struct {
	ID        string
	UserID    string
	EntityID  string
	CreatedAt time.Time
}

// Subscriber は通知配信先としての購読者を表す。
type Subscriber struct {
	SubscriptionID string
	UserID         string
	TelegramID     int64
}

// SubscriptionView は購読一覧表示用に購読と追跡対象を結合した読み取りモデル。
type SubscriptionView struct {
	Subscription Subscription
	Entity       TrackedEntity
}
