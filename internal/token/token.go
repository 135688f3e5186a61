// Package token はセッショントークン（HS256署名のJWT）の発行と検証を提供する。
// トークンはサーバー側に保存せず、有効期限到来まで呼び出し元が保持する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingSecret は署名シークレットが設定されていない場合に返される。
var ErrMissingSecret = errors.New("token signing secret is not configured")

// Payload はトークンに格納するユーザー情報。機密情報は含めない。
type Payload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Outcome はトークン検証の結果種別。
type Outcome int

const (
	// OutcomeInvalid は署名不正・形式不正などで検証に失敗したことを示す。
	OutcomeInvalid Outcome = iota
	// OutcomeExpired は署名は正しいが有効期限を過ぎていることを示す。
	OutcomeExpired
	// OutcomeValid は検証に成功したことを示す。
	OutcomeValid
)

// String はOutcomeのログ用表記を返す。
func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// Verification は検証結果。OutcomeがOutcomeValidの場合のみPayloadが有効。
type Verification struct {
	Outcome Outcome
	Payload Payload
}

// claims はJWTのクレーム。Payloadに標準クレーム（sub, iat, exp）を加える。
type claims struct {
	Payload
	jwt.RegisteredClaims
}

// Option はServiceの生成オプション。
type Option func(*Service)

// WithClock は現在時刻の取得関数を差し替える。テストで使用する。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service はセッショントークンを発行・検証する。
// 状態を持たないため複数のgoroutineから同時に使用できる。
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService はServiceを生成する。
// シークレットが空の場合は起動時に検出できるようErrMissingSecretを返す。
func NewService(secret string, ttl time.Duration, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive: %s", ttl)
	}

	s := &Service{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL はトークンの有効期間を返す。
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue はpayloadを格納した署名済みトークンを発行する。
func (s *Service) Issue(payload Payload) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}

	now := s.now()
	// NumericDateは秒単位に切り捨てられるため、有効期限は次の秒へ切り上げる
	exp := now.Add(s.ttl)
	if t := exp.Truncate(time.Second); t.Before(exp) {
		exp = t.Add(time.Second)
	}
	tk := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Payload: payload,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	signed, err := tk.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証する。
// エラーを返さず、すべての失敗をOutcomeExpiredかOutcomeInvalidに変換する。
func (s *Service) Verify(raw string) Verification {
	if len(s.secret) == 0 || raw == "" {
		return Verification{Outcome: OutcomeInvalid}
	}

	var c claims
	tk, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	switch {
	case err == nil && tk.Valid:
		return Verification{Outcome: OutcomeValid, Payload: c.Payload}
	case errors.Is(err, jwt.ErrTokenExpired) && onlyExpired(err):
		return Verification{Outcome: OutcomeExpired}
	default:
		return Verification{Outcome: OutcomeInvalid}
	}
}

// onlyExpired は署名検証を通過したうえで期限切れのみが原因であるかを判定する。
// jwt/v5は署名不正時にErrTokenSignatureInvalidを返し、クレーム検証に進まない。
func onlyExpired(err error) bool {
	return !errors.Is(err, jwt.ErrTokenSignatureInvalid) &&
		!errors.Is(err, jwt.ErrTokenMalformed) &&
		!errors.Is(err, jwt.ErrTokenUnverifiable)
}
