package detect

import (
	"github.com/hitoshi/relnotify/internal/model"
)

// Seed は購読開始時に外部ソースの最新状態から追跡対象の初期状態を作る。
// 初期状態は「既読」として扱うため、LastNotifiedAtは設定せず、
// 既に公開済みの回は通知の対象にならない。
func Seed(kind model.Kind, externalID string, fresh model.FreshState) (model.TrackedEntity, error) {
	e := model.TrackedEntity{
		Kind:       kind,
		ExternalID: externalID,
		Status:     model.StatusActive,
	}

	switch f := fresh.(type) {
	case model.ScheduleState:
		if kind != model.KindAnime {
			return model.TrackedEntity{}, mismatch(kind, fresh)
		}
		e.NextReleaseAt = copyTime(f.NextReleaseAt)
		e.Units = f.UnitsAired
		e.UnitsTotal = copyInt(f.UnitsTotal)
		if f.Finished {
			e.Status = model.StatusEnded
		}
	case model.ChapterState:
		if kind != model.KindManga {
			return model.TrackedEntity{}, mismatch(kind, fresh)
		}
		e.Units = f.LatestUnit
		if f.Completed {
			e.Status = model.StatusEnded
		}
	default:
		return model.TrackedEntity{}, mismatch(kind, fresh)
	}

	applyMeta(&e, fresh.Metadata())
	if e.Name == "" {
		e.Name = externalID
	}
	return e, nil
}
