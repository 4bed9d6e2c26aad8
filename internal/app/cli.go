package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/relnotify/internal/model"
	"github.com/hitoshi/relnotify/internal/worker/reconcile"
)

const (
	searchLimit = 10
	timeLayout  = "2006-01-02 15:04"
)

// runOnce は有効な種別ごとに照合サイクルを1回ずつ実行し、結果を表で出力する。
func runOnce(ctx context.Context, c *components, out io.Writer) error {
	kinds, err := c.schedulers()
	if err != nil {
		return fmt.Errorf("failed to build schedulers: %w", err)
	}

	var (
		rows [][]string
		errs []error
	)
	for _, k := range kinds {
		summary, err := k.scheduler.RunOnce(ctx)
		state := "OK"
		switch {
		case err != nil:
			state = "失敗"
			errs = append(errs, fmt.Errorf("%s: %w", k.kind, err))
		case summary.Skipped:
			state = "スキップ"
		}
		rows = append(rows, []string{
			string(k.kind),
			strconv.Itoa(summary.Candidates),
			formatOutcomes(summary.Outcomes),
			summary.Duration.Round(time.Millisecond).String(),
			state,
		})
	}

	fmt.Fprintln(out, renderTable(
		[]string{"種別", "対象数", "結果", "所要時間", "状態"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignLeft},
	))
	return errors.Join(errs...)
}

// runSubscribe は subscribe <telegram_id> <kind> <external_id> を実行する。
func runSubscribe(ctx context.Context, c *components, out io.Writer, args []string) error {
	telegramID, err := parseTelegramID(args[0])
	if err != nil {
		return err
	}

	view, err := c.subService.Subscribe(ctx, telegramID, model.Kind(args[1]), args[2])
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "購読しました: %s (%s/%s)\n", view.Entity.Name, view.Entity.Kind, view.Entity.ExternalID)
	return nil
}

// runUnsubscribe は unsubscribe <telegram_id> <kind> <external_id> を実行する。
func runUnsubscribe(ctx context.Context, c *components, out io.Writer, args []string) error {
	telegramID, err := parseTelegramID(args[0])
	if err != nil {
		return err
	}

	kind := model.Kind(args[1])
	if err := c.subService.Unsubscribe(ctx, telegramID, kind, args[2]); err != nil {
		return err
	}

	fmt.Fprintf(out, "購読を解除しました: %s/%s\n", kind, args[2])
	return nil
}

// runStatus は追跡対象の一覧を表で出力する。引数で種別を絞り込める。
func runStatus(ctx context.Context, c *components, out io.Writer, args []string) error {
	var kind model.Kind
	if len(args) > 0 {
		kind = model.Kind(args[0])
	}

	entities, err := c.subService.ListEntities(ctx, kind)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, renderStatus(entities, c.cfg.Location))
	return nil
}

// runSearch は外部ソースを検索し、結果を表で出力する。
func runSearch(ctx context.Context, c *components, out io.Writer, args []string) error {
	kind := model.Kind(args[0])
	query := strings.Join(args[1:], " ")

	hits, err := c.subService.Search(ctx, kind, query, searchLimit)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Fprintln(out, "該当する作品はありません")
		return nil
	}

	rows := make([][]string, 0, len(hits))
	for _, h := range hits {
		rows = append(rows, []string{h.ExternalID, h.Name, h.SiteURL})
	}
	fmt.Fprintln(out, renderTable([]string{"外部ID", "名前", "URL"}, rows, nil))
	return nil
}

func renderStatus(entities []*model.TrackedEntity, loc *time.Location) string {
	rows := make([][]string, 0, len(entities))
	for _, e := range entities {
		rows = append(rows, []string{
			string(e.Kind),
			e.ExternalID,
			e.Name,
			formatProgress(e),
			string(e.Status),
			formatTime(e.NextReleaseAt, loc),
			formatTime(e.LastNotifiedAt, loc),
		})
	}
	return renderTable(
		[]string{"種別", "外部ID", "名前", "進捗", "状態", "次回公開", "最終通知"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	)
}

func parseTelegramID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram id %q: %w", s, err)
	}
	return id, nil
}

func formatProgress(e *model.TrackedEntity) string {
	if e.UnitsTotal == nil {
		return strconv.Itoa(e.Units)
	}
	return fmt.Sprintf("%d / %d", e.Units, *e.UnitsTotal)
}

func formatTime(t *time.Time, loc *time.Location) string {
	if t == nil {
		return "-"
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(timeLayout)
}

// formatOutcomes は結果の内訳を "notified=1 no_change=3" の形式で返す。
func formatOutcomes(outcomes map[reconcile.Outcome]int) string {
	if len(outcomes) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(outcomes))
	for k := range outcomes {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, outcomes[reconcile.Outcome(k)]))
	}
	return strings.Join(parts, " ")
}
