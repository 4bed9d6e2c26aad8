package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/relnotify/internal/database"
	"github.com/hitoshi/relnotify/internal/model"
)

// SQLClaimRepo はデータベースのロックを用いて追跡対象ごとの排他制御を行う。
//
// PostgreSQLでは SELECT ... FOR UPDATE による行ロックを取得する。
// SQLiteでは BEGIN IMMEDIATE によりデータベース単位の書き込みロックを取得する。
// どちらもロックはデータベースが保持するため、複数プロセス間でも排他が成立する。
type SQLClaimRepo struct {
	db          *database.DB
	lockTimeout time.Duration
}

// NewSQLClaimRepo はSQLClaimRepoを生成する。
// lockTimeoutはPostgreSQLのロック待ち上限。0以下の場合は無制限に待機する。
// SQLiteでは接続時に設定するbusy_timeout（database.OpenWithLockTimeout）が待ち上限となる。
func NewSQLClaimRepo(db *database.DB, lockTimeout time.Duration) *SQLClaimRepo {
	return &SQLClaimRepo{db: db, lockTimeout: lockTimeout}
}

var _ ClaimRepository = (*SQLClaimRepo)(nil)

// WithClaim は追跡対象の行をロックしてfnを呼び出し、結果を保存してコミットする。
func (r *SQLClaimRepo) WithClaim(ctx context.Context, entityID string, fn ClaimFunc) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		if ctx.Err() == nil && !isLockTimeout(err) {
			return fmt.Errorf("%w: トランザクションの開始に失敗しました: %w", model.ErrStoreUnavailable, err)
		}
		return r.classify(ctx, "トランザクションの開始に失敗しました", err)
	}
	// コミット後のRollbackはErrTxDoneを返すだけで無害
	defer tx.Rollback()

	if r.db.Dialect == database.DialectPostgres && r.lockTimeout > 0 {
		// SET LOCAL はプレースホルダを受け付けないため数値を埋め込む
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return r.classify(ctx, "ロックタイムアウトの設定に失敗しました", err)
		}
	}

	query := `SELECT ` + entityColumns + ` FROM tracked_entities WHERE id = ?`
	if r.db.Dialect == database.DialectPostgres {
		query += ` FOR UPDATE`
	}

	locked, err := scanEntity(tx.QueryRowContext(ctx, r.db.Rebind(query), entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id=%s", model.ErrEntityNotFound, entityID)
	}
	if err != nil {
		return r.classify(ctx, "追跡対象のロック取得に失敗しました", err)
	}

	next, err := fn(locked)
	if err != nil {
		return err
	}

	if next != nil {
		if err := r.update(ctx, tx, entityID, next); err != nil {
			return r.classify(ctx, "追跡対象の更新に失敗しました", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return r.classify(ctx, "コミットに失敗しました", err)
	}

	return nil
}

// update はロック中の追跡対象を更新する。
// チャプター数は減少させず、ended から active へは戻さない。
func (r *SQLClaimRepo) update(ctx context.Context, tx *sql.Tx, entityID string, e *model.TrackedEntity) error {
	_, err := tx.ExecContext(ctx,
		r.db.Rebind(`UPDATE tracked_entities SET
			name = ?, image_url = ?, site_url = ?,
			next_release_at = ?,
			units = CASE WHEN units > ? THEN units ELSE ? END,
			units_total = ?,
			status = CASE WHEN status = 'ended' THEN 'ended' ELSE ? END,
			last_notified_at = ?,
			updated_at = ?
		 WHERE id = ?`),
		e.Name, e.ImageURL, e.SiteURL,
		nullTime(e.NextReleaseAt),
		e.Units, e.Units,
		nullInt(e.UnitsTotal),
		string(e.Status),
		nullTime(e.LastNotifiedAt),
		dbTime(time.Now()),
		entityID,
	)
	return err
}

// classify はデータベースエラーを照合処理のエラー分類に変換する。
func (r *SQLClaimRepo) classify(ctx context.Context, msg string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", msg, ctxErr)
	}
	if isLockTimeout(err) {
		return fmt.Errorf("%w: %s: %w", model.ErrClaimContention, msg, err)
	}
	if isConnectionError(err) {
		return fmt.Errorf("%w: %s: %w", model.ErrStoreUnavailable, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
