package repository

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hitoshi/relnotify/internal/model"
)

// entityColumns はtracked_entitiesのSELECT列。scanEntityと順序を合わせる。
const entityColumns = `id, kind, external_id, name, image_url, site_url,
	next_release_at, units, units_total, status, last_notified_at, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntity は1行分の追跡対象を読み取る。
func scanEntity(row rowScanner) (*model.TrackedEntity, error) {
	var (
		e              model.TrackedEntity
		kind, status   string
		nextReleaseAt  sql.NullTime
		unitsTotal     sql.NullInt64
		lastNotifiedAt sql.NullTime
	)

	err := row.Scan(
		&e.ID, &kind, &e.ExternalID, &e.Name, &e.ImageURL, &e.SiteURL,
		&nextReleaseAt, &e.Units, &unitsTotal, &status, &lastNotifiedAt,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Kind = model.Kind(kind)
	e.Status = model.Status(status)
	e.NextReleaseAt = nullTimeValue(nextReleaseAt)
	e.LastNotifiedAt = nullTimeValue(lastNotifiedAt)
	if unitsTotal.Valid {
		v := int(unitsTotal.Int64)
		e.UnitsTotal = &v
	}

	return &e, nil
}

// dbTime は保存用の時刻に正規化する。
// SQLiteでは文字列比較になるため、UTCかつ秒単位に揃える。
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: dbTime(*t), Valid: true}
}

func nullTimeValue(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// isLockTimeout はロック待ちのタイムアウトかどうかを判定する。
// PostgreSQLのlock_not_available（55P03）とSQLiteのSQLITE_BUSY/SQLITE_LOCKEDが該当する。
func isLockTimeout(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "55P03"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}

	return false
}

// isUniqueViolation は一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	return false
}

// isConnectionError はデータベースへの接続自体が失敗しているかどうかを判定する。
func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// クラス08は接続例外、57P01〜57P03はサーバー停止
		return pqErr.Code.Class() == "08" ||
			pqErr.Code == "57P01" || pqErr.Code == "57P02" || pqErr.Code == "57P03"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code() & 0xff
		return code == sqlite3.SQLITE_CANTOPEN || code == sqlite3.SQLITE_IOERR
	}

	return false
}
