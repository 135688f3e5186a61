package auth

import (
	"context"

	"github.com/hitoshi/crmdesk/internal/user"
)

// シミュレーション用プロフィールの固定値。
const (
	SimulatedEmail     = "simulated.user@gmail.com"
	SimulatedFirstName = "Usuario"
	SimulatedLastName  = "Simulado"
	SimulatedProvider  = "google"
)

// ProfileProvider は認証済みユーザーのプロフィールを取得するインターフェース。
// 外部IdP連携を追加する場合はこのインターフェースを実装する。
type ProfileProvider interface {
	Profile(ctx context.Context) (user.Profile, error)
}

// SimulatedProfileProvider は外部IdPを呼び出さず、固定のプロフィールを返す。
type SimulatedProfileProvider struct{}

// NewSimulatedProfileProvider はSimulatedProfileProviderを生成する。
func NewSimulatedProfileProvider() *SimulatedProfileProvider {
	return &SimulatedProfileProvider{}
}

// Profile は固定のシミュレーション用プロフィールを返す。
func (p *SimulatedProfileProvider) Profile(_ context.Context) (user.Profile, error) {
	return user.Profile{
		Email:        SimulatedEmail,
		FirstName:    SimulatedFirstName,
		LastName:     SimulatedLastName,
		AuthProvider: SimulatedProvider,
	}, nil
}

// compile-time interface check
var _ ProfileProvider = (*SimulatedProfileProvider)(nil)
