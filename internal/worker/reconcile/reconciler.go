// Package reconcile は追跡対象の定期照合処理を提供する。
// 種別ごとのスケジューラと、1件の追跡対象を照合するReconcilerを含む。
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/relnotify/internal/detect"
	"github.com/hitoshi/relnotify/internal/metrics"
	"github.com/hitoshi/relnotify/internal/model"
	"github.com/hitoshi/relnotify/internal/notify"
	"github.com/hitoshi/relnotify/internal/repository"
	"github.com/hitoshi/relnotify/internal/source"
)

// Outcome は追跡対象1件の照合結果の種類。
type Outcome string

const (
	OutcomeNoChange       Outcome = "no_change"
	OutcomeRefreshed      Outcome = "refreshed"
	OutcomeNotified       Outcome = "notified"
	OutcomeAlreadyHandled Outcome = "already_handled"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeTransient      Outcome = "transient"
	OutcomeContention     Outcome = "contention"
	OutcomeInvalid        Outcome = "invalid"
)

// Result は照合結果。Reportは通知を配信した場合のみ設定される。
type Result struct {
	Outcome Outcome
	Report  *notify.DispatchReport
}

// SourceProvider は種別に対応する外部ソースを返す。
type SourceProvider interface {
	Get(kind model.Kind) (source.Source, error)
}

// SubscriberLister は追跡対象の購読者を返す。
type SubscriberLister interface {
	ListSubscribers(ctx context.Context, entityID string) ([]model.Subscriber, error)
}

// NotificationDispatcher は通知を購読者に配信する。
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, entity model.TrackedEntity, subs []model.Subscriber) notify.DispatchReport
}

// Reconciler は追跡対象1件の取得、判定、保存、通知を行う。
// 取得はロックの外で行い、判定と保存はクレーム内で行う。通知は保存のコミット後に送る。
type Reconciler struct {
	sources      SourceProvider
	claims       repository.ClaimRepository
	subscribers  SubscriberLister
	dispatcher   NotificationDispatcher
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	fetchTimeout time.Duration
	loc          *time.Location
	now          func() time.Time
}

// NewReconciler はReconcilerを生成する。locは「今日」を決めるタイムゾーン。
func NewReconciler(
	sources SourceProvider,
	claims repository.ClaimRepository,
	subscribers SubscriberLister,
	dispatcher NotificationDispatcher,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	fetchTimeout time.Duration,
	loc *time.Location,
) *Reconciler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		sources:      sources,
		claims:       claims,
		subscribers:  subscribers,
		dispatcher:   dispatcher,
		metrics:      mc,
		logger:       logger,
		fetchTimeout: fetchTimeout,
		loc:          loc,
		now:          time.Now,
	}
}

// Reconcile は追跡対象snapshotを照合する。snapshotは候補抽出時点の状態。
// 返すエラーは結果の分類に対応する原因で、ErrStoreUnavailableのみサイクルを中断させる。
func (r *Reconciler) Reconcile(ctx context.Context, snapshot *model.TrackedEntity) (Result, error) {
	fresh, err := r.fetch(ctx, snapshot)
	if err != nil {
		return Result{Outcome: fetchOutcome(err)}, err
	}

	today := detect.NewToday(r.now(), r.loc)

	var (
		decision detect.Decision
		handled  bool
	)
	err = r.claims.WithClaim(ctx, snapshot.ID, func(locked *model.TrackedEntity) (*model.TrackedEntity, error) {
		if detect.AlreadyHandled(*snapshot, *locked, today) {
			handled = true
			return nil, nil
		}
		d, err := detect.Decide(*locked, fresh, today)
		if err != nil {
			return nil, err
		}
		decision = d
		if d.Outcome == detect.NoChange {
			return nil, nil
		}
		next := d.Next
		return &next, nil
	})
	if err != nil {
		return Result{Outcome: claimOutcome(err)}, err
	}

	switch {
	case handled:
		return Result{Outcome: OutcomeAlreadyHandled}, nil
	case decision.Outcome == detect.NoChange:
		return Result{Outcome: OutcomeNoChange}, nil
	case !decision.Notify:
		return Result{Outcome: OutcomeRefreshed}, nil
	}

	// ここから先はコミット済み。配信に失敗しても再通知はしない。
	subs, err := r.subscribers.ListSubscribers(ctx, snapshot.ID)
	if err != nil {
		return Result{Outcome: OutcomeNotified}, fmt.Errorf("購読者の取得に失敗しました: %w", err)
	}

	report := r.dispatcher.Dispatch(ctx, decision.Next, subs)
	r.logger.Info("新しいリリースを通知しました",
		slog.String("entity_id", snapshot.ID),
		slog.String("kind", string(snapshot.Kind)),
		slog.String("name", decision.Next.Name),
		slog.Int("units", decision.Next.Units),
		slog.Int("succeeded", len(report.Succeeded)),
		slog.Int("failed", len(report.Failed)),
	)

	return Result{Outcome: OutcomeNotified, Report: &report}, nil
}

// fetch はタイムアウト付きで外部ソースから最新状態を取得する。
func (r *Reconciler) fetch(ctx context.Context, e *model.TrackedEntity) (model.FreshState, error) {
	src, err := r.sources.Get(e.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidResponse, err)
	}

	fetchCtx := ctx
	if r.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, r.fetchTimeout)
		defer cancel()
	}

	start := time.Now()
	fresh, err := src.Fetch(fetchCtx, e.ExternalID)
	r.metrics.RecordFetchLatency(string(e.Kind), time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !source.IsClassified(err) {
			err = fmt.Errorf("%w: %w", model.ErrTransientSource, err)
		}
		return nil, err
	}
	return fresh, nil
}

func fetchOutcome(err error) Outcome {
	switch {
	case errors.Is(err, model.ErrNotFoundUpstream):
		return OutcomeNotFound
	case errors.Is(err, model.ErrInvalidResponse):
		return OutcomeInvalid
	default:
		return OutcomeTransient
	}
}

func claimOutcome(err error) Outcome {
	switch {
	case errors.Is(err, model.ErrClaimContention):
		return OutcomeContention
	case errors.Is(err, model.ErrInvalidResponse):
		return OutcomeInvalid
	case errors.Is(err, model.ErrEntityNotFound):
		return OutcomeNotFound
	default:
		return OutcomeTransient
	}
}
