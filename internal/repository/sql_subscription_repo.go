package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/relnotify/internal/database"
	"github.com/hitoshi/relnotify/internal/model"
)

// SQLSubscriptionRepo はPostgreSQL/SQLiteを使用した購読リポジトリ。
type SQLSubscriptionRepo struct {
	db *database.DB
}

// NewSQLSubscriptionRepo はSQLSubscriptionRepoを生成する。
func NewSQLSubscriptionRepo(db *database.DB) *SQLSubscriptionRepo {
	return &SQLSubscriptionRepo{db: db}
}

var _ SubscriptionRepository = (*SQLSubscriptionRepo)(nil)

// FindByUserAndEntity はユーザーIDと追跡対象IDで購読を検索する。見つからない場合はnilを返す。
func (r *SQLSubscriptionRepo) FindByUserAndEntity(ctx context.Context, userID, entityID string) (*model.Subscription, error) {
	sub := &model.Subscription{}
	err := r.db.QueryRowContext(ctx,
		r.db.Rebind(`SELECT id, user_id, entity_id, created_at
		 FROM subscriptions WHERE user_id = ? AND entity_id = ?`),
		userID, entityID,
	).Scan(&sub.ID, &sub.UserID, &sub.EntityID, &sub.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーと追跡対象による購読の検索に失敗しました: %w", err)
	}
	return sub, nil
}

// Create は購読を作成する。IDが空の場合は新規UUIDを割り当てる。
func (r *SQLSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = dbTime(time.Now())
	}

	_, err := r.db.ExecContext(ctx,
		r.db.Rebind(`INSERT INTO subscriptions (id, user_id, entity_id, created_at) VALUES (?, ?, ?, ?)`),
		sub.ID, sub.UserID, sub.EntityID, dbTime(sub.CreatedAt),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("購読の作成に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDの購読を削除する。
func (r *SQLSubscriptionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM subscriptions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("購読の削除に失敗しました: %w", err)
	}
	return nil
}

// ListSubscribers は追跡対象の現在の購読者一覧を購読の作成順で返す。
func (r *SQLSubscriptionRepo) ListSubscribers(ctx context.Context, entityID string) ([]model.Subscriber, error) {
	rows, err := r.db.QueryContext(ctx,
		r.db.Rebind(`SELECT s.id, u.id, u.telegram_id
		 FROM subscriptions s
		 INNER JOIN users u ON u.id = s.user_id
		 WHERE s.entity_id = ?
		 ORDER BY s.created_at, s.id`),
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("購読者一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subs []model.Subscriber
	for rows.Next() {
		var s model.Subscriber
		if err := rows.Scan(&s.SubscriptionID, &s.UserID, &s.TelegramID); err != nil {
			return nil, fmt.Errorf("購読者の読み取りに失敗しました: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読者の読み取りに失敗しました: %w", err)
	}
	return subs, nil
}

// ListByUserID はユーザーの購読一覧を追跡対象の情報付きで返す。
func (r *SQLSubscriptionRepo) ListByUserID(ctx context.Context, userID string) ([]model.SubscriptionView, error) {
	rows, err := r.db.QueryContext(ctx,
		r.db.Rebind(`SELECT s.id, s.user_id, s.entity_id, s.created_at,
		        e.id, e.kind, e.external_id, e.name, e.image_url, e.site_url,
		        e.next_release_at, e.units, e.units_total, e.status, e.last_notified_at, e.created_at, e.updated_at
		 FROM subscriptions s
		 INNER JOIN tracked_entities e ON e.id = s.entity_id
		 WHERE s.user_id = ?
		 ORDER BY e.kind, e.name, s.id`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var views []model.SubscriptionView
	for rows.Next() {
		var v model.SubscriptionView
		e, err := scanEntity(prefixScanner{
			row:    rows,
			prefix: []any{&v.Subscription.ID, &v.Subscription.UserID, &v.Subscription.EntityID, &v.Subscription.CreatedAt},
		})
		if err != nil {
			return nil, fmt.Errorf("購読の読み取りに失敗しました: %w", err)
		}
		v.Entity = *e
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読の読み取りに失敗しました: %w", err)
	}
	return views, nil
}

// prefixScanner は先頭の列を別の変数に読み取ってから残りをscanEntityに渡す。
type prefixScanner struct {
	row    rowScanner
	prefix []any
}

func (p prefixScanner) Scan(dest ...any) error {
	return p.row.Scan(append(append([]any{}, p.prefix...), dest...)...)
}
