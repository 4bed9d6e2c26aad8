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

// SQLUserRepo はPostgreSQL/SQLiteを使用したユーザーリポジトリ。
type SQLUserRepo struct {
	db *database.DB
}

// NewSQLUserRepo はSQLUserRepoを生成する。
func NewSQLUserRepo(db *database.DB) *SQLUserRepo {
	return &SQLUserRepo{db: db}
}

var _ UserRepository = (*SQLUserRepo)(nil)

// FindByTelegramID はTelegram IDでユーザーを取得する。見つからない場合はnilを返す。
func (r *SQLUserRepo) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	u := &model.User{}
	err := r.db.QueryRowContext(ctx,
		r.db.Rebind(`SELECT id, telegram_id, created_at FROM users WHERE telegram_id = ?`),
		telegramID,
	).Scan(&u.ID, &u.TelegramID, &u.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	return u, nil
}

// FindOrCreateByTelegramID はTelegram IDでユーザーを取得し、存在しない場合は作成する。
// 並行して同じTelegram IDが登録された場合も既存の行を返す。
func (r *SQLUserRepo) FindOrCreateByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	_, err := r.db.ExecContext(ctx,
		r.db.Rebind(`INSERT INTO users (id, telegram_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (telegram_id) DO NOTHING`),
		uuid.NewString(), telegramID, dbTime(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	u, err := r.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("作成したユーザーが見つかりません: telegram_id=%d", telegramID)
	}
	return u, nil
}
