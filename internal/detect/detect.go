// Package detect は保存済み状態と外部ソースの最新状態を比較し、
// 通知すべき変更かどうかを判定する。
//
// 判定は純粋関数で、時計の読み取りやI/Oを行わない。
// 「今日」は呼び出し元がTodayとして渡す。
package detect

import (
	"fmt"
	"time"

	"github.com/hitoshi/relnotify/internal/model"
)

// Outcome は判定結果の種類。
type Outcome int

const (
	// NoChange は保存すべき変更がないことを示す。
	NoChange Outcome = iota
	// Changed は新しい状態を保存すべきことを示す。通知要否はDecision.Notifyで判断する。
	Changed
)

// String は判定結果のラベルを返す。
func (o Outcome) String() string {
	if o == Changed {
		return "changed"
	}
	return "no_change"
}

// Decision は変更判定の結果。
type Decision struct {
	Outcome Outcome
	// Next は保存すべき新しい状態。NoChangeの場合は保存済み状態と同じ。
	Next   model.TrackedEntity
	Notify bool
}

// Today は照合時点の暦日を表す。
// Startを含みEndを含まない区間。
type Today struct {
	Now   time.Time
	Start time.Time
	End   time.Time
}

// NewToday はnowを含むloc上の暦日を返す。locがnilの場合はUTCを使用する。
func NewToday(now time.Time, loc *time.Location) Today {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Today{
		Now:   now,
		Start: start,
		End:   start.AddDate(0, 0, 1),
	}
}

// Contains はtが暦日内かどうかを返す。
func (d Today) Contains(t time.Time) bool {
	return !t.Before(d.Start) && t.Before(d.End)
}

// Decide は保存済み状態storedと最新状態freshを比較して判定結果を返す。
// freshの型が追跡対象の種別と一致しない場合はErrInvalidResponseを返す。
func Decide(stored model.TrackedEntity, fresh model.FreshState, today Today) (Decision, error) {
	switch f := fresh.(type) {
	case model.ScheduleState:
		if stored.Kind != model.KindAnime {
			return Decision{}, mismatch(stored.Kind, fresh)
		}
		return decideSchedule(stored, f, today), nil
	case model.ChapterState:
		if stored.Kind != model.KindManga {
			return Decision{}, mismatch(stored.Kind, fresh)
		}
		return decideChapter(stored, f, today), nil
	default:
		return Decision{}, mismatch(stored.Kind, fresh)
	}
}

func mismatch(kind model.Kind, fresh model.FreshState) error {
	return fmt.Errorf("%w: 種別 %s に対して %T は判定できません", model.ErrInvalidResponse, kind, fresh)
}

// decideSchedule は固定スケジュール種別の判定を行う。
// 次回公開日時が今日であるか、今日予定だった回が放送済みになった場合に通知する。
// 同じ日に2回通知しない。スケジュール情報は通知の有無に関係なく更新する。
func decideSchedule(stored model.TrackedEntity, fresh model.ScheduleState, today Today) Decision {
	if stored.Ended() {
		return Decision{Outcome: NoChange, Next: stored}
	}

	notifiedToday := stored.LastNotifiedAt != nil && today.Contains(*stored.LastNotifiedAt)
	releaseToday := fresh.NextReleaseAt != nil && today.Contains(*fresh.NextReleaseAt)
	airedToday := stored.NextReleaseAt != nil && today.Contains(*stored.NextReleaseAt) &&
		fresh.UnitsAired > stored.Units

	next := stored
	next.NextReleaseAt = copyTime(fresh.NextReleaseAt)
	next.Units = max(stored.Units, fresh.UnitsAired)
	next.UnitsTotal = copyInt(fresh.UnitsTotal)
	if fresh.Finished {
		next.Status = model.StatusEnded
	}
	applyMeta(&next, fresh.Meta)

	notify := !notifiedToday && (releaseToday || airedToday)
	if notify {
		now := today.Now
		next.LastNotifiedAt = &now
	}

	if !notify && sameState(stored, next) {
		return Decision{Outcome: NoChange, Next: stored}
	}
	return Decision{Outcome: Changed, Next: next, Notify: notify}
}

// decideChapter はポーリング種別の判定を行う。
// 最新チャプター番号が増えた場合のみ通知する。完結はチャプター数と独立に反映する。
func decideChapter(stored model.TrackedEntity, fresh model.ChapterState, today Today) Decision {
	if stored.Ended() {
		return Decision{Outcome: NoChange, Next: stored}
	}

	next := stored
	notify := fresh.LatestUnit > stored.Units
	if notify {
		now := today.Now
		next.Units = fresh.LatestUnit
		next.LastNotifiedAt = &now
	}
	if fresh.Completed {
		next.Status = model.StatusEnded
	}
	applyMeta(&next, fresh.Meta)

	if !notify && sameState(stored, next) {
		return Decision{Outcome: NoChange, Next: stored}
	}
	return Decision{Outcome: Changed, Next: next, Notify: notify}
}

// AlreadyHandled はロック取得後に読み直した状態lockedが、
// 候補抽出時のスナップショットsnapshotより先に進んでいるかを判定する。
// trueの場合は他の照合処理がすでに処理済みのため、この試行では何もしない。
func AlreadyHandled(snapshot, locked model.TrackedEntity, today Today) bool {
	if locked.Ended() && !snapshot.Ended() {
		return true
	}
	if locked.Units > snapshot.Units {
		return true
	}
	if newer(locked.LastNotifiedAt, snapshot.LastNotifiedAt) {
		return true
	}
	if locked.Kind.Schedule() && locked.LastNotifiedAt != nil && today.Contains(*locked.LastNotifiedAt) {
		return true
	}
	return false
}

func newer(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.After(*b)
	}
}

func applyMeta(e *model.TrackedEntity, m model.Meta) {
	if m.Name != "" {
		e.Name = m.Name
	}
	if m.ImageURL != "" {
		e.ImageURL = m.ImageURL
	}
	if m.SiteURL != "" {
		e.SiteURL = m.SiteURL
	}
}

// sameState は永続化対象のフィールドがすべて等しいかを返す。
func sameState(a, b model.TrackedEntity) bool {
	return a.Name == b.Name &&
		a.ImageURL == b.ImageURL &&
		a.SiteURL == b.SiteURL &&
		equalTime(a.NextReleaseAt, b.NextReleaseAt) &&
		a.Units == b.Units &&
		equalInt(a.UnitsTotal, b.UnitsTotal) &&
		a.Status == b.Status &&
		equalTime(a.LastNotifiedAt, b.LastNotifiedAt)
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}
