package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hitoshi/relnotify/internal/detect"
	"github.com/hitoshi/relnotify/internal/metrics"
	"github.com/hitoshi/relnotify/internal/model"
)

// CandidateLister は照合候補の追跡対象を返す。
type CandidateLister interface {
	ListCandidates(ctx context.Context, kind model.Kind, dayStart, dayEnd time.Time) ([]*model.TrackedEntity, error)
}

// EntityReconciler は追跡対象1件を照合する。
type EntityReconciler interface {
	Reconcile(ctx context.Context, snapshot *model.TrackedEntity) (Result, error)
}

// CycleSummary は1サイクルの集計結果。
type CycleSummary struct {
	Kind       model.Kind
	Skipped    bool
	Candidates int
	Outcomes   map[Outcome]int
	Duration   time.Duration
}

// SchedulerConfig はSchedulerの動作設定。
type SchedulerConfig struct {
	// MaxConcurrency は1サイクル内で同時に照合する件数の上限。0以下の場合は4。
	MaxConcurrency int
	// NotBefore は当日0時からの経過時間。これより前の時刻ではサイクルを実行しない。0の場合は制限しない。
	NotBefore time.Duration
	// Location は「今日」を決めるタイムゾーン。nilの場合はtime.Local。
	Location *time.Location
}

// Scheduler は1つの種別の照合サイクルを定期的に実行する。
// semaphoreパターンで最大並列数を制御しながら候補を照合する。
type Scheduler struct {
	kind       model.Kind
	entities   CandidateLister
	reconciler EntityReconciler
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	cfg        SchedulerConfig
	now        func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(
	kind model.Kind,
	entities CandidateLister,
	reconciler EntityReconciler,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	cfg SchedulerConfig,
) *Scheduler {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		kind:       kind,
		entities:   entities,
		reconciler: reconciler,
		metrics:    mc,
		logger:     logger.With(slog.String("kind", string(kind))),
		cfg:        cfg,
		now:        time.Now,
	}
}

// Start は起動直後に1回サイクルを実行し、以降はinterval間隔で実行する。
// intervalが0以下の場合は1回だけ実行して戻る。
// コンテキストがキャンセルされるまで、サイクルのエラーやpanicでは停止しない。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.runCycle(ctx)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("照合スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.cfg.MaxConcurrency),
	)

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("照合スケジューラを停止しました")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle は1サイクルを実行する。panicはここで回収し、ループを継続させる。
func (s *Scheduler) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordCycle(string(s.kind), "panic")
			s.logger.Error("照合サイクルでpanicが発生しました",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("照合サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は照合候補を1回取得し、並列で照合する。
// 追跡対象ごとのエラーはログに記録して集計し、呼び出し元には返さない。
// ErrStoreUnavailableが発生した場合は残りの照合を中断してエラーを返す。
func (s *Scheduler) RunOnce(ctx context.Context) (CycleSummary, error) {
	start := time.Now()
	summary := CycleSummary{Kind: s.kind, Outcomes: make(map[Outcome]int)}

	now := s.now()
	today := detect.NewToday(now, s.cfg.Location)
	if s.cfg.NotBefore > 0 && now.Sub(today.Start) < s.cfg.NotBefore {
		summary.Skipped = true
		s.metrics.RecordCycle(string(s.kind), "skipped")
		s.logger.Debug("通知可能な時刻前のため照合をスキップします",
			slog.Duration("not_before", s.cfg.NotBefore),
		)
		return summary, nil
	}

	entities, err := s.entities.ListCandidates(ctx, s.kind, today.Start, today.End)
	if err != nil {
		s.metrics.RecordCycle(string(s.kind), "aborted")
		if !errors.Is(err, model.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: 照合候補の取得に失敗しました: %w", model.ErrStoreUnavailable, err)
		}
		return summary, err
	}
	summary.Candidates = len(entities)

	if len(entities) == 0 {
		s.logger.Info("照合対象の追跡対象はありません")
		s.finish(&summary, start, "ok")
		return summary, nil
	}

	s.logger.Info("照合サイクルを開始します",
		slog.Int("entity_count", len(entities)),
	)

	// abortCtx は新しい照合の開始を止めるためだけに使う。
	// 実行中の照合はコミット後の配信を含めて親のctxで最後まで進める。
	abortCtx, abort := context.WithCancel(ctx)
	defer abort()

	var (
		mu       sync.Mutex
		abortErr error
		wg       sync.WaitGroup
		sem      = make(chan struct{}, s.cfg.MaxConcurrency)
	)

	record := func(e *model.TrackedEntity, res Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		summary.Outcomes[res.Outcome]++
		s.metrics.RecordOutcome(string(s.kind), string(res.Outcome))
		if errors.Is(err, model.ErrStoreUnavailable) && abortErr == nil {
			abortErr = err
			abort()
		}
	}

loop:
	for _, entity := range entities {
		select {
		case <-abortCtx.Done():
			break loop
		case sem <- struct{}{}:
		}
		if abortCtx.Err() != nil {
			<-sem
			break
		}

		wg.Add(1)
		go func(e *model.TrackedEntity) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					record(e, Result{Outcome: OutcomeInvalid}, nil)
					s.logger.Error("追跡対象の照合でpanicが発生しました",
						slog.String("entity_id", e.ID),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)
				}
			}()

			res, err := s.reconciler.Reconcile(ctx, e)
			record(e, res, err)
			s.logResult(e, res, err)
		}(entity)
	}

	wg.Wait()

	if abortErr != nil {
		s.finish(&summary, start, "aborted")
		return summary, abortErr
	}
	if err := ctx.Err(); err != nil {
		s.finish(&summary, start, "canceled")
		return summary, err
	}
	s.finish(&summary, start, "ok")
	return summary, nil
}

func (s *Scheduler) finish(summary *CycleSummary, start time.Time, result string) {
	summary.Duration = time.Since(start)
	s.metrics.RecordCycle(string(s.kind), result)
	s.metrics.RecordCycleDuration(string(s.kind), summary.Duration)

	attrs := []any{
		slog.String("result", result),
		slog.Int("entity_count", summary.Candidates),
		slog.Float64("duration_ms", float64(summary.Duration.Milliseconds())),
	}
	for outcome, n := range summary.Outcomes {
		attrs = append(attrs, slog.Int(string(outcome), n))
	}
	s.logger.Info("照合サイクルが完了しました", attrs...)
}

// logResult は照合結果の種類に応じたレベルでログを出力する。
// 競合は他のワーカーが処理中であることを示すため、Debugに留める。
func (s *Scheduler) logResult(e *model.TrackedEntity, res Result, err error) {
	attrs := []any{
		slog.String("entity_id", e.ID),
		slog.String("external_id", e.ExternalID),
		slog.String("outcome", string(res.Outcome)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	switch {
	case err == nil:
		s.logger.Debug("追跡対象を照合しました", attrs...)
	case res.Outcome == OutcomeContention:
		s.logger.Debug("他の処理が照合中のためスキップしました", attrs...)
	case errors.Is(err, context.Canceled):
		s.logger.Debug("照合が中断されました", attrs...)
	case res.Outcome == OutcomeNotFound || res.Outcome == OutcomeTransient:
		s.logger.Warn("追跡対象の照合に失敗しました", attrs...)
	default:
		s.logger.Error("追跡対象の照合に失敗しました", attrs...)
	}
}
