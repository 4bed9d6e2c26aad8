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

// SQLEntityRepo はPostgreSQL/SQLiteを使用した追跡対象リポジトリ。
type SQLEntityRepo struct {
	db *database.DB
}

// NewSQLEntityRepo はSQLEntityRepoを生成する。
func NewSQLEntityRepo(db *database.DB) *SQLEntityRepo {
	return &SQLEntityRepo{db: db}
}

var _ EntityRepository = (*SQLEntityRepo)(nil)

// FindByID は指定IDの追跡対象を取得する。見つからない場合はnilを返す。
func (r *SQLEntityRepo) FindByID(ctx context.Context, id string) (*model.TrackedEntity, error) {
	e, err := scanEntity(r.db.QueryRowContext(ctx,
		r.db.Rebind(`SELECT `+entityColumns+` FROM tracked_entities WHERE id = ?`),
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("追跡対象の取得に失敗しました: %w", err)
	}
	return e, nil
}

// FindByExternalID は種別と外部IDで追跡対象を検索する。見つからない場合はnilを返す。
func (r *SQLEntityRepo) FindByExternalID(ctx context.Context, kind model.Kind, externalID string) (*model.TrackedEntity, error) {
	e, err := scanEntity(r.db.QueryRowContext(ctx,
		r.db.Rebind(`SELECT `+entityColumns+` FROM tracked_entities WHERE kind = ? AND external_id = ?`),
		string(kind), externalID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("外部IDによる追跡対象の検索に失敗しました: %w", err)
	}
	return e, nil
}

// CreateIfNotExists は追跡対象を作成する。
// 同じ種別と外部IDの行が存在する場合は既存の行を返す。
// IDが空の場合は新規UUIDを割り当てる。
func (r *SQLEntityRepo) CreateIfNotExists(ctx context.Context, entity *model.TrackedEntity) (*model.TrackedEntity, error) {
	if entity.ID == "" {
		entity.ID = uuid.NewString()
	}
	if entity.Status == "" {
		entity.Status = model.StatusActive
	}
	now := dbTime(time.Now())
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		r.db.Rebind(`INSERT INTO tracked_entities
			(id, kind, external_id, name, image_url, site_url, next_release_at, units, units_total,
			 status, last_notified_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (kind, external_id) DO NOTHING`),
		entity.ID, string(entity.Kind), entity.ExternalID, entity.Name, entity.ImageURL, entity.SiteURL,
		nullTime(entity.NextReleaseAt), entity.Units, nullInt(entity.UnitsTotal),
		string(entity.Status), nullTime(entity.LastNotifiedAt), dbTime(entity.CreatedAt), dbTime(entity.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("追跡対象の作成に失敗しました: %w", err)
	}

	stored, err := r.FindByExternalID(ctx, entity.Kind, entity.ExternalID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("作成した追跡対象が見つかりません: %s/%s", entity.Kind, entity.ExternalID)
	}
	return stored, nil
}

// ListCandidates は照合候補の追跡対象を取得する。
func (r *SQLEntityRepo) ListCandidates(ctx context.Context, kind model.Kind, dayStart, dayEnd time.Time) ([]*model.TrackedEntity, error) {
	query := `SELECT ` + entityColumns + ` FROM tracked_entities e
		WHERE e.kind = ? AND e.status = 'active'
		  AND EXISTS (SELECT 1 FROM subscriptions s WHERE s.entity_id = e.id)`
	args := []any{string(kind)}

	if kind.Schedule() {
		query += `
		  AND (e.last_notified_at IS NULL OR e.last_notified_at < ?)
		  AND (e.next_release_at IS NULL OR e.next_release_at < ?)`
		args = append(args, dbTime(dayStart), dbTime(dayEnd))
	}
	query += ` ORDER BY e.id`

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("照合候補の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

// ListByKind は種別の追跡対象を名前順で全件取得する。kindが空の場合は全種別を返す。
func (r *SQLEntityRepo) ListByKind(ctx context.Context, kind model.Kind) ([]*model.TrackedEntity, error) {
	query := `SELECT ` + entityColumns + ` FROM tracked_entities`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY kind, name, id`

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("追跡対象一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectEntities(rows)
}

func collectEntities(rows *sql.Rows) ([]*model.TrackedEntity, error) {
	var entities []*model.TrackedEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("追跡対象の読み取りに失敗しました: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("追跡対象の読み取りに失敗しました: %w", err)
	}
	return entities, nil
}
