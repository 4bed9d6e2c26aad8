// Package subscription は購読管理のドメインロジックを提供する。
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/relnotify/internal/detect"
	"github.com/hitoshi/relnotify/internal/model"
	"github.com/hitoshi/relnotify/internal/repository"
	"github.com/hitoshi/relnotify/internal/source"
)

// SourceProvider は種別に対応する外部ソースを返す。
type SourceProvider interface {
	Get(kind model.Kind) (source.Source, error)
	Searcher(kind model.Kind) (source.Searcher, bool)
}

// Service は購読管理のサービス層。
// 購読登録、購読解除、購読一覧、外部ソース検索のビジネスロジックを提供する。
type Service struct {
	userRepo     repository.UserRepository
	entityRepo   repository.EntityRepository
	subRepo      repository.SubscriptionRepository
	sources      SourceProvider
	logger       *slog.Logger
	fetchTimeout time.Duration
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	entityRepo repository.EntityRepository,
	subRepo repository.SubscriptionRepository,
	sources SourceProvider,
	logger *slog.Logger,
	fetchTimeout time.Duration,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		userRepo:     userRepo,
		entityRepo:   entityRepo,
		subRepo:      subRepo,
		sources:      sources,
		logger:       logger,
		fetchTimeout: fetchTimeout,
	}
}

// Subscribe はユーザーを追跡対象の購読者として登録する。
// 未登録の追跡対象は外部ソースの現在の状態で作成するため、購読時点で公開済みの回は通知しない。
func (s *Service) Subscribe(ctx context.Context, telegramID int64, kind model.Kind, externalID string) (*model.SubscriptionView, error) {
	externalID = strings.TrimSpace(externalID)
	if err := validate(telegramID, kind, externalID); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindOrCreateByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}

	entity, err := s.findOrSeedEntity(ctx, kind, externalID)
	if err != nil {
		return nil, err
	}

	sub := &model.Subscription{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		EntityID:  entity.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.subRepo.Create(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewSubscriptionExistsError(kind, externalID)
		}
		return nil, fmt.Errorf("購読の作成に失敗しました: %w", err)
	}

	s.logger.Info("購読を登録しました",
		slog.Int64("telegram_id", telegramID),
		slog.String("kind", string(kind)),
		slog.String("external_id", externalID),
		slog.String("entity_id", entity.ID),
	)

	return &model.SubscriptionView{Subscription: *sub, Entity: *entity}, nil
}

// Unsubscribe は購読を解除する。追跡対象は削除しない。
func (s *Service) Unsubscribe(ctx context.Context, telegramID int64, kind model.Kind, externalID string) error {
	externalID = strings.TrimSpace(externalID)
	if err := validate(telegramID, kind, externalID); err != nil {
		return err
	}

	user, err := s.userRepo.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewSubscriptionNotFoundError(kind, externalID)
	}

	entity, err := s.entityRepo.FindByExternalID(ctx, kind, externalID)
	if err != nil {
		return fmt.Errorf("追跡対象の取得に失敗しました: %w", err)
	}
	if entity == nil {
		return model.NewSubscriptionNotFoundError(kind, externalID)
	}

	sub, err := s.subRepo.FindByUserAndEntity(ctx, user.ID, entity.ID)
	if err != nil {
		return fmt.Errorf("購読の取得に失敗しました: %w", err)
	}
	if sub == nil {
		return model.NewSubscriptionNotFoundError(kind, externalID)
	}

	if err := s.subRepo.Delete(ctx, sub.ID); err != nil {
		return fmt.Errorf("購読の削除に失敗しました: %w", err)
	}

	s.logger.Info("購読を解除しました",
		slog.Int64("telegram_id", telegramID),
		slog.String("kind", string(kind)),
		slog.String("external_id", externalID),
	)
	return nil
}

// ListByTelegramID はユーザーの購読一覧を追跡対象の情報付きで返す。
// 未登録のユーザーの場合は空の一覧を返す。
func (s *Service) ListByTelegramID(ctx context.Context, telegramID int64) ([]model.SubscriptionView, error) {
	user, err := s.userRepo.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return []model.SubscriptionView{}, nil
	}

	views, err := s.subRepo.ListByUserID(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	return views, nil
}

// ListEntities は種別の追跡対象一覧を返す。kindが空の場合は全種別を返す。
func (s *Service) ListEntities(ctx context.Context, kind model.Kind) ([]*model.TrackedEntity, error) {
	if kind != "" {
		if _, ok := model.ParseKind(string(kind)); !ok {
			return nil, model.NewInvalidKindError(string(kind))
		}
	}
	entities, err := s.entityRepo.ListByKind(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("追跡対象一覧の取得に失敗しました: %w", err)
	}
	return entities, nil
}

// Search は外部ソースで作品をテキスト検索する。
func (s *Service) Search(ctx context.Context, kind model.Kind, query string, limit int) ([]model.SearchHit, error) {
	if _, ok := model.ParseKind(string(kind)); !ok {
		return nil, model.NewInvalidKindError(string(kind))
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, model.NewInvalidRequestError("検索語を指定してください")
	}

	searcher, ok := s.sources.Searcher(kind)
	if !ok {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("種別 %s の外部ソースは検索に対応していません", kind))
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	hits, err := searcher.Search(ctx, query, limit)
	if err != nil {
		s.logger.Warn("外部ソースの検索に失敗しました",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamUnavailableError(kind)
	}
	return hits, nil
}

// findOrSeedEntity は追跡対象を取得し、未登録の場合は外部ソースから初期状態を取得して作成する。
func (s *Service) findOrSeedEntity(ctx context.Context, kind model.Kind, externalID string) (*model.TrackedEntity, error) {
	entity, err := s.entityRepo.FindByExternalID(ctx, kind, externalID)
	if err != nil {
		return nil, fmt.Errorf("追跡対象の取得に失敗しました: %w", err)
	}
	if entity != nil {
		return entity, nil
	}

	src, err := s.sources.Get(kind)
	if err != nil {
		return nil, model.NewUpstreamUnavailableError(kind)
	}

	fetchCtx, cancel := s.withTimeout(ctx)
	fresh, err := src.Fetch(fetchCtx, externalID)
	cancel()
	if err != nil {
		if errors.Is(err, model.ErrNotFoundUpstream) {
			return nil, model.NewUpstreamNotFoundError(kind, externalID)
		}
		s.logger.Warn("外部ソースからの取得に失敗しました",
			slog.String("kind", string(kind)),
			slog.String("external_id", externalID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamUnavailableError(kind)
	}

	seed, err := detect.Seed(kind, externalID, fresh)
	if err != nil {
		return nil, model.NewUpstreamUnavailableError(kind)
	}
	seed.ID = uuid.New().String()

	created, err := s.entityRepo.CreateIfNotExists(ctx, &seed)
	if err != nil {
		return nil, fmt.Errorf("追跡対象の作成に失敗しました: %w", err)
	}
	return created, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.fetchTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.fetchTimeout)
}

func validate(telegramID int64, kind model.Kind, externalID string) error {
	if _, ok := model.ParseKind(string(kind)); !ok {
		return model.NewInvalidKindError(string(kind))
	}
	if telegramID == 0 {
		return model.NewInvalidRequestError("Telegram IDを指定してください")
	}
	if externalID == "" {
		return model.NewInvalidRequestError("外部IDを指定してください")
	}
	return nil
}
