package notify

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/relnotify/internal/metrics"
	"github.com/hitoshi/relnotify/internal/model"
)

// DispatchReport は1回の配信の結果。キーはサブスクリプションID。
type DispatchReport struct {
	Succeeded []string
	Failed    map[string]error
}

// Total は配信を試みた件数を返す。
func (r DispatchReport) Total() int {
	return len(r.Succeeded) + len(r.Failed)
}

// OK はすべての配信が成功したかを返す。
func (r DispatchReport) OK() bool {
	return len(r.Failed) == 0
}

// Dispatcher は購読者ごとに通知を配信する。
// 1件の失敗は他の購読者への配信を妨げず、失敗した配信は再送しない。
type Dispatcher struct {
	sender  Sender
	limiter *rate.Limiter
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewDispatcher はDispatcherを生成する。
// ratePerSecが0以下の場合は送信間隔を制限しない。timeoutは1件あたりの送信期限。
func NewDispatcher(sender Sender, ratePerSec float64, timeout time.Duration, mc metrics.MetricsCollector, logger *slog.Logger) *Dispatcher {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender:  sender,
		limiter: limiter,
		timeout: timeout,
		metrics: mc,
		logger:  logger,
	}
}

// Dispatch は追跡対象の通知を全購読者に送る。ctxが終了した場合、残りの配信は失敗として報告する。
func (d *Dispatcher) Dispatch(ctx context.Context, entity model.TrackedEntity, subs []model.Subscriber) DispatchReport {
	report := DispatchReport{Failed: make(map[string]error)}
	msg := Compose(&entity)

	for _, sub := range subs {
		err := d.deliver(ctx, msg, sub)
		if err != nil {
			report.Failed[sub.SubscriptionID] = &model.DeliveryError{
				SubscriptionID: sub.SubscriptionID,
				ChatID:         sub.TelegramID,
				Err:            err,
			}
			d.metrics.RecordDelivery("failure")
			d.logger.Warn("通知の配信に失敗しました",
				slog.String("subscription_id", sub.SubscriptionID),
				slog.Int64("chat_id", sub.TelegramID),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Succeeded = append(report.Succeeded, sub.SubscriptionID)
		d.metrics.RecordDelivery("success")
	}

	return report
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message, sub model.Subscriber) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	sendCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.sender.Send(sendCtx, sub.TelegramID, msg)
}
