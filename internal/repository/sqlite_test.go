package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hitoshi/relnotify/internal/database"
	"github.com/hitoshi/relnotify/internal/model"
)

// newTestDB は一時ディレクトリにSQLiteデータベースを作成し、マイグレーションを適用して返す。
// 返すURLは同じファイルを別の接続で開く場合に使用する。
func newTestDB(t *testing.T) (*database.DB, string) {
	t.Helper()

	url := "sqlite://" + filepath.Join(t.TempDir(), "relnotify.db")
	if err := database.RunMigrations(url); err != nil {
		t.Fatalf("マイグレーションに失敗: %v", err)
	}

	db := openTestDB(t, url)
	return db, url
}

func openTestDB(t *testing.T, url string) *database.DB {
	t.Helper()

	db, err := database.Open(url)
	if err != nil {
		t.Fatalf("データベースのオープンに失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Ping(); err != nil {
		t.Fatalf("Pingに失敗: %v", err)
	}
	return db
}

// openWithLockTimeout はロック待ちの上限を指定して同じファイルを別の接続で開く。
func openWithLockTimeout(t *testing.T, url string, lockTimeout time.Duration) *database.DB {
	t.Helper()

	db, err := database.OpenWithLockTimeout(url, lockTimeout)
	if err != nil {
		t.Fatalf("データベースのオープンに失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedEntity は追跡対象を作成し、subscriberTelegramIDsのユーザーに購読させる。
func seedEntity(t *testing.T, db *database.DB, e *model.TrackedEntity, subscriberTelegramIDs ...int64) *model.TrackedEntity {
	t.Helper()
	ctx := context.Background()

	stored, err := NewSQLEntityRepo(db).CreateIfNotExists(ctx, e)
	if err != nil {
		t.Fatalf("追跡対象の作成に失敗: %v", err)
	}

	users := NewSQLUserRepo(db)
	subs := NewSQLSubscriptionRepo(db)
	for _, tid := range subscriberTelegramIDs {
		u, err := users.FindOrCreateByTelegramID(ctx, tid)
		if err != nil {
			t.Fatalf("ユーザーの作成に失敗: %v", err)
		}
		if err := subs.Create(ctx, &model.Subscription{UserID: u.ID, EntityID: stored.ID}); err != nil {
			t.Fatalf("購読の作成に失敗: %v", err)
		}
	}
	return stored
}

func ptrTime(t time.Time) *time.Time { return &t }
func ptrInt(i int) *int              { return &i }
