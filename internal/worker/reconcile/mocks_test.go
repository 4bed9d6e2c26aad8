package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/relnotify/internal/model"
	"github.com/hitoshi/relnotify/internal/notify"
	"github.com/hitoshi/relnotify/internal/repository"
	"github.com/hitoshi/relnotify/internal/source"
)

var tokyo = time.FixedZone("JST", 9*60*60)

// 2026-10-14 19:00 JST を照合時刻とする
var testNow = time.Date(2026, 10, 14, 19, 0, 0, 0, tokyo)

func ptrTime(t time.Time) *time.Time { return &t }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// logEntries はJSONログを1行ずつパースする。
func logEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("ログのパースに失敗: %v: %s", err, line)
		}
		entries = append(entries, m)
	}
	return entries
}

// --- モック定義 ---

// mockSource はsource.Sourceのテスト用モック。
type mockSource struct {
	mu        sync.Mutex
	calls     int
	fetchFunc func(ctx context.Context, externalID string) (model.FreshState, error)
}

func (m *mockSource) Fetch(ctx context.Context, externalID string) (model.FreshState, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.fetchFunc != nil {
		return m.fetchFunc(ctx, externalID)
	}
	return nil, fmt.Errorf("%w: 未設定", model.ErrTransientSource)
}

// mockSources はSourceProviderのテスト用モック。
type mockSources struct {
	src source.Source
}

func (m *mockSources) Get(kind model.Kind) (source.Source, error) {
	if m.src == nil {
		return nil, fmt.Errorf("種別 %s は未登録", kind)
	}
	return m.src, nil
}

// mockSubscribers はSubscriberListerのテスト用モック。
type mockSubscribers struct {
	listFunc func(ctx context.Context, entityID string) ([]model.Subscriber, error)
}

func (m *mockSubscribers) ListSubscribers(ctx context.Context, entityID string) ([]model.Subscriber, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, entityID)
	}
	return []model.Subscriber{{SubscriptionID: "sub-1", UserID: "user-1", TelegramID: 100}}, nil
}

// mockDispatcher はNotificationDispatcherのテスト用モック。
type mockDispatcher struct {
	mu           sync.Mutex
	dispatched   []model.TrackedEntity
	dispatchFunc func(ctx context.Context, entity model.TrackedEntity, subs []model.Subscriber) notify.DispatchReport
}

func (m *mockDispatcher) Dispatch(ctx context.Context, entity model.TrackedEntity, subs []model.Subscriber) notify.DispatchReport {
	m.mu.Lock()
	m.dispatched = append(m.dispatched, entity)
	m.mu.Unlock()
	if m.dispatchFunc != nil {
		return m.dispatchFunc(ctx, entity, subs)
	}
	report := notify.DispatchReport{Failed: map[string]error{}}
	for _, s := range subs {
		report.Succeeded = append(report.Succeeded, s.SubscriptionID)
	}
	return report
}

func (m *mockDispatcher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dispatched)
}

// memoryClaims はClaimRepositoryのメモリ実装。
// ミューテックスをfnの実行中保持し、書き込み時はSQL実装と同じくチャプター数の減少と終了状態の巻き戻りを防ぐ。
type memoryClaims struct {
	mu       sync.Mutex
	entities map[string]model.TrackedEntity
	claimErr error
}

var _ repository.ClaimRepository = (*memoryClaims)(nil)

func newMemoryClaims(entities ...model.TrackedEntity) *memoryClaims {
	m := &memoryClaims{entities: make(map[string]model.TrackedEntity)}
	for _, e := range entities {
		m.entities[e.ID] = e
	}
	return m
}

func (m *memoryClaims) WithClaim(ctx context.Context, entityID string, fn repository.ClaimFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.claimErr != nil {
		return m.claimErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.entities[entityID]
	if !ok {
		return fmt.Errorf("%w: id=%s", model.ErrEntityNotFound, entityID)
	}
	locked := stored
	next, err := fn(&locked)
	if err != nil || next == nil {
		return err
	}

	updated := *next
	updated.Units = max(stored.Units, next.Units)
	if stored.Ended() {
		updated.Status = model.StatusEnded
	}
	m.entities[entityID] = updated
	return nil
}

func (m *memoryClaims) get(id string) model.TrackedEntity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entities[id]
}

// mockCandidates はCandidateListerのテスト用モック。
type mockCandidates struct {
	mu       sync.Mutex
	calls    int
	listFunc func(ctx context.Context, kind model.Kind, dayStart, dayEnd time.Time) ([]*model.TrackedEntity, error)
}

func (m *mockCandidates) ListCandidates(ctx context.Context, kind model.Kind, dayStart, dayEnd time.Time) ([]*model.TrackedEntity, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.listFunc != nil {
		return m.listFunc(ctx, kind, dayStart, dayEnd)
	}
	return nil, nil
}

func (m *mockCandidates) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockReconciler はEntityReconcilerのテスト用モック。
type mockReconciler struct {
	mu            sync.Mutex
	calls         []string
	reconcileFunc func(ctx context.Context, e *model.TrackedEntity) (Result, error)
}

func (m *mockReconciler) Reconcile(ctx context.Context, e *model.TrackedEntity) (Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, e.ID)
	m.mu.Unlock()
	if m.reconcileFunc != nil {
		return m.reconcileFunc(ctx, e)
	}
	return Result{Outcome: OutcomeNoChange}, nil
}

func (m *mockReconciler) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockMetrics は記録内容を保持するテスト用のMetricsCollector。
type mockMetrics struct {
	mu       sync.Mutex
	cycles   map[string]int
	outcomes map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{cycles: map[string]int{}, outcomes: map[string]int{}}
}

func (m *mockMetrics) RecordCycle(kind, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles[kind+"/"+result]++
}

func (m *mockMetrics) RecordCycleDuration(string, time.Duration) {}

func (m *mockMetrics) RecordOutcome(kind, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[kind+"/"+outcome]++
}

func (m *mockMetrics) RecordFetchLatency(string, time.Duration) {}
func (m *mockMetrics) RecordDelivery(string)                    {}

func (m *mockMetrics) cycle(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles[key]
}
