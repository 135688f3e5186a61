// Package user はユーザーのID照合（メールアドレスをキーとした検索または作成）を提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/crmdesk/internal/model"
	"github.com/hitoshi/crmdesk/internal/repository"
)

// maxReconcileAttempts は作成競合時に更新として再試行する上限回数。
const maxReconcileAttempts = 3

// ErrReconcileConflict は再試行上限まで作成と更新の競合が解消しなかった場合に返される。
var ErrReconcileConflict = errors.New("user reconcile conflict persisted")

// Profile は認証プロバイダーから取得したユーザー情報。
// 空文字のフィールドは「値なし」として扱う。
type Profile struct {
	Email        string
	FirstName    string
	LastName     string
	AuthProvider string
}

// Service はユーザーのID照合を行うサービス層。
type Service struct {
	repo repository.UserRepository
	now  func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.UserRepository) *Service {
	return &Service{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// FindOrCreate はemailの完全一致でユーザーを検索し、存在すれば更新、なければ作成する。
// 既存ユーザーの場合、空でないプロフィール項目のみ上書きする。
// 作成時にemail重複が発生した場合（並行ログイン）は更新として再試行する。
func (s *Service) FindOrCreate(ctx context.Context, p Profile) (*model.User, error) {
	if strings.TrimSpace(p.Email) == "" {
		return nil, model.NewValidationError("email")
	}

	for attempt := 1; attempt <= maxReconcileAttempts; attempt++ {
		existing, err := s.repo.FindByEmail(ctx, p.Email)
		if err != nil {
			return nil, fmt.Errorf("ユーザーの検索に失敗しました: %w", err)
		}

		if existing != nil {
			return s.update(ctx, existing, p)
		}

		created, err := s.create(ctx, p)
		if err == nil {
			return created, nil
		}
		if !errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, err
		}

		slog.Debug("ユーザー作成が競合したため更新として再試行します",
			slog.Int("attempt", attempt),
		)
	}

	return nil, ErrReconcileConflict
}

func (s *Service) create(ctx context.Context, p Profile) (*model.User, error) {
	now := s.now()
	u := &model.User{
		ID:           uuid.New().String(),
		Email:        p.Email,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		AuthProvider: p.AuthProvider,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if u.AuthProvider == "" {
		u.AuthProvider = model.DefaultAuthProvider
	}

	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, err
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("ユーザーを作成しました",
		slog.String("user_id", u.ID),
		slog.String("auth_provider", u.AuthProvider),
	)
	return u, nil
}

func (s *Service) update(ctx context.Context, u *model.User, p Profile) (*model.User, error) {
	if p.FirstName != "" {
		u.FirstName = p.FirstName
	}
	if p.LastName != "" {
		u.LastName = p.LastName
	}
	if p.AuthProvider != "" {
		u.AuthProvider = p.AuthProvider
	}
	u.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("ユーザーの更新に失敗しました: %w", err)
	}
	return u, nil
}
