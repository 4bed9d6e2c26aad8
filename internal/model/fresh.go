package model

import "time"

// FreshState は外部ソースから取得した最新状態を表す。
// 実装はScheduleStateとChapterStateのみ。
type FreshState interface {
	freshState()
	Metadata() Meta
}

// Meta は外部ソースから取得した表示用メタデータ。
// 空文字列のフィールドは更新しない。
type Meta struct {
	Name     string
	ImageURL string
	SiteURL  string
}

// ScheduleState は固定スケジュール種別（アニメ）の最新状態。
type ScheduleState struct {
	NextReleaseAt *time.Time
	UnitsAired    int
	UnitsTotal    *int
	Finished      bool
	Meta          Meta
}

func (ScheduleState) freshState() {}

// Metadata はメタデータを返す。
func (s ScheduleState) Metadata() Meta { return s.Meta }

// ChapterState はポーリング種別（マンガ）の最新状態。
type ChapterState struct {
	LatestUnit int
	Completed  bool
	Meta       Meta
}

func (ChapterState) freshState() {}

// Metadata はメタデータを返す。
func (s ChapterState) Metadata() Meta { return s.Meta }

// SearchHit は外部ソース検索の1件分の結果。
type SearchHit struct {
	ExternalID string
	Name       string
	SiteURL    string
}
