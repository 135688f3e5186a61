// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/crmdesk/internal/auth"
	"github.com/hitoshi/crmdesk/internal/metrics"
	"github.com/hitoshi/crmdesk/internal/middleware"
	"github.com/hitoshi/crmdesk/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context) (*auth.LoginResult, error)
}

// LoginRecorder はログイン結果を記録するインターフェース。
type LoginRecorder interface {
	RecordLogin(result string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure  bool
	SessionMaxAge time.Duration // セッションCookieの有効期間。トークンの有効期間と揃える
}

// AuthHandler はログイン・ログアウトと保護ルートのHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	config   AuthHandlerConfig
	recorder LoginRecorder
	now      func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig, recorder LoginRecorder) *AuthHandler {
	if recorder == nil {
		recorder = metrics.NopCollector{}
	}
	return &AuthHandler{
		service:  service,
		config:   config,
		recorder: recorder,
		now:      time.Now,
	}
}

type loginResponse struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type sessionResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type protectedResponse struct {
	Message     string          `json:"message"`
	UserSession sessionResponse `json:"userSession"`
	Timestamp   string          `json:"timestamp"`
}

// LoginCallback はログインを完了し、セッションCookieを発行する。
// リクエストボディは参照しない（プロフィールはProfileProviderから取得する）。
// POST /auth/login-callback
func (h *AuthHandler) LoginCallback(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Login(r.Context())
	if err != nil {
		h.recorder.RecordLogin(metrics.LoginFailure)
		slog.Error("login failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	h.recorder.RecordLogin(metrics.LoginSuccess)

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    result.Token,
		Path:     "/",
		MaxAge:   int(h.config.SessionMaxAge / time.Second),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Message: "ログインに成功しました。",
		UserID:  result.User.ID,
	})
}

// Logout はセッションCookieを即時失効させる。
// トークン自体はサーバー側で無効化されないため、有効期限までは提示されれば受理される。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})

	writeJSON(w, http.StatusOK, messageResponse{Message: "ログアウトしました。"})
}

// Protected はセッションゲートを通過したユーザーのセッション情報を返す。
// GET /auth/protected
func (h *AuthHandler) Protected(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PayloadFromContext(r.Context())
	if !ok {
		middleware.WriteAPIError(w, model.NewTokenMissingError())
		return
	}

	writeJSON(w, http.StatusOK, protectedResponse{
		Message: "保護されたルートへのアクセスが許可されました。",
		UserSession: sessionResponse{
			ID:    p.ID,
			Email: p.Email,
			Name:  p.Name,
		},
		Timestamp: h.now().UTC().Format(time.RFC3339Nano),
	})
}
