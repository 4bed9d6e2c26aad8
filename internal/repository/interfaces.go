// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/relnotify/internal/model"
)

// ErrDuplicate は一意制約違反を示す。
var ErrDuplicate = errors.New("一意制約に違反しました")

// EntityRepository は追跡対象データの永続化インターフェース。
type EntityRepository interface {
	// FindByID は指定IDの追跡対象を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.TrackedEntity, error)

	// FindByExternalID は種別と外部IDで追跡対象を検索する。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, kind model.Kind, externalID string) (*model.TrackedEntity, error)

	// CreateIfNotExists は追跡対象を作成する。
	// 同じ種別と外部IDの追跡対象がすでに存在する場合は作成せず、既存の行を返す。
	CreateIfNotExists(ctx context.Context, entity *model.TrackedEntity) (*model.TrackedEntity, error)

	// ListCandidates は照合候補の追跡対象を取得する。
	// 購読者が存在し status = 'active' の追跡対象のみを対象とする。
	// 固定スケジュール種別ではさらに、今日未通知かつ次回公開日時が今日以前（または未設定）のものに絞り込む。
	// ロックは取得しない。
	ListCandidates(ctx context.Context, kind model.Kind, dayStart, dayEnd time.Time) ([]*model.TrackedEntity, error)

	// ListByKind は種別の追跡対象を名前順で全件取得する。kindが空の場合は全種別を返す。
	ListByKind(ctx context.Context, kind model.Kind) ([]*model.TrackedEntity, error)
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByTelegramID はTelegram IDでユーザーを取得する。見つからない場合はnilを返す。
	FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)

	// FindOrCreateByTelegramID はTelegram IDでユーザーを取得し、存在しない場合は作成する。
	FindOrCreateByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
}

// SubscriptionRepository は購読データの永続化インターフェース。
type SubscriptionRepository interface {
	// FindByUserAndEntity はユーザーIDと追跡対象IDで購読を検索する。見つからない場合はnilを返す。
	FindByUserAndEntity(ctx context.Context, userID, entityID string) (*model.Subscription, error)

	// Create は購読を作成する。同じユーザーと追跡対象の購読が存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, subscription *model.Subscription) error

	// Delete は指定IDの購読を削除する。
	Delete(ctx context.Context, id string) error

	// ListSubscribers は追跡対象の現在の購読者一覧を返す。
	ListSubscribers(ctx context.Context, entityID string) ([]model.Subscriber, error)

	// ListByUserID はユーザーの購読一覧を追跡対象の情報付きで返す。
	ListByUserID(ctx context.Context, userID string) ([]model.SubscriptionView, error)
}

// ClaimFunc はロック済みの追跡対象を受け取り、保存すべき新しい状態を返す。
// nilを返した場合は何も書き込まない。エラーを返した場合はロールバックする。
type ClaimFunc func(locked *model.TrackedEntity) (*model.TrackedEntity, error)

// ClaimRepository は追跡対象ごとの排他的な読み取り・判定・書き込みを提供する。
type ClaimRepository interface {
	// WithClaim は追跡対象の行をロックしたうえでfnを1回だけ呼び出し、
	// fnが返した状態を同一トランザクション内で保存してコミットする。
	// 同じ追跡対象への並行したWithClaimは先行する処理のコミットまで待機し、
	// コミット後の状態を読み取る。
	//
	// 行が存在しない場合はmodel.ErrEntityNotFound、ロック待ちがタイムアウトした場合は
	// model.ErrClaimContention、接続できない場合はmodel.ErrStoreUnavailableを返す。
	// fnのエラーやpanic、コンテキストのキャンセル時はロールバックする。
	WithClaim(ctx context.Context, entityID string, fn ClaimFunc) error
}
