// Package auth はログインフロー（プロフィール取得、ID照合、トークン発行）を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/crmdesk/internal/model"
	"github.com/hitoshi/crmdesk/internal/token"
	"github.com/hitoshi/crmdesk/internal/user"
)

// Reconciler はプロフィールからユーザーを検索または作成するインターフェース。
type Reconciler interface {
	FindOrCreate(ctx context.Context, p user.Profile) (*model.User, error)
}

// TokenIssuer はセッショントークンを発行するインターフェース。
type TokenIssuer interface {
	Issue(payload token.Payload) (string, error)
}

// LoginResult はログイン成功時の結果。
type LoginResult struct {
	User  *model.User
	Token string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	provider   ProfileProvider
	reconciler Reconciler
	issuer     TokenIssuer
}

// NewService はServiceを生成する。
func NewService(provider ProfileProvider, reconciler Reconciler, issuer TokenIssuer) *Service {
	return &Service{
		provider:   provider,
		reconciler: reconciler,
		issuer:     issuer,
	}
}

// Login はプロフィールを取得してユーザーを照合し、セッショントークンを発行する。
func (s *Service) Login(ctx context.Context) (*LoginResult, error) {
	// 1. プロフィールを取得
	profile, err := s.provider.Profile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	// 2. emailでユーザーを検索または作成
	u, err := s.reconciler.FindOrCreate(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile user: %w", err)
	}

	// 3. トークンを発行
	raw, err := s.issuer.Issue(PayloadFor(u))
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	slog.Info("user logged in",
		slog.String("user_id", u.ID),
		slog.String("provider", u.AuthProvider),
	)

	return &LoginResult{User: u, Token: raw}, nil
}

// PayloadFor はユーザーからトークンのペイロードを組み立てる。
// nameは表示名から前後の空白を除去したもの。
func PayloadFor(u *model.User) token.Payload {
	return token.Payload{
		ID:    u.ID,
		Email: u.Email,
		Name:  strings.TrimSpace(u.DisplayName()),
	}
}
