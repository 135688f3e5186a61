// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/crmdesk/internal/model"
	"github.com/hitoshi/crmdesk/internal/token"
)

// SessionCookieName はセッショントークンを保持するCookie名。
const SessionCookieName = "accessToken"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// payloadContextKey はリクエストコンテキストにトークンのペイロードを格納するためのキー。
var payloadContextKey = contextKey("session_payload")

// TokenVerifier はセッショントークンの検証に必要なインターフェース。
type TokenVerifier interface {
	Verify(raw string) token.Verification
}

// RejectionRecorder はセッションゲートでの拒否を記録するインターフェース。
type RejectionRecorder interface {
	RecordGateRejection(code string)
}

// NewSessionGate はCookie（またはAuthorizationヘッダー）のトークンを検証するミドルウェアを返す。
// 検証に成功した場合はペイロードをリクエストコンテキストに注入する。
// トークンなし・期限切れ・不正の場合はそれぞれのエラーコードで401を返す。
func NewSessionGate(verifier TokenVerifier, recorder RejectionRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. トークンを取得
			raw := tokenFromRequest(r)
			if raw == "" {
				reject(w, r, recorder, model.NewTokenMissingError())
				return
			}

			// 2. 署名と有効期限を検証
			v := verifier.Verify(raw)
			switch v.Outcome {
			case token.OutcomeValid:
			case token.OutcomeExpired:
				reject(w, r, recorder, model.NewTokenExpiredError())
				return
			default:
				reject(w, r, recorder, model.NewTokenInvalidError())
				return
			}

			// 3. ペイロードをコンテキストに注入
			setLogUserID(r.Context(), v.Payload.ID)
			ctx := ContextWithPayload(r.Context(), v.Payload)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tokenFromRequest はCookieからトークンを取得する。
// Cookieが無い場合はAuthorization: Bearerヘッダーを参照する。
func tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	scheme, raw, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(raw)
}

func reject(w http.ResponseWriter, r *http.Request, recorder RejectionRecorder, apiErr *model.APIError) {
	slog.Warn("session rejected",
		slog.String("code", apiErr.Code),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	if recorder != nil {
		recorder.RecordGateRejection(apiErr.Code)
	}
	WriteAPIError(w, apiErr)
}

// PayloadFromContext はリクエストコンテキストからトークンのペイロードを取得する。
// セッションゲートを通過したリクエストでのみ有効。
func PayloadFromContext(ctx context.Context) (token.Payload, bool) {
	p, ok := ctx.Value(payloadContextKey).(token.Payload)
	return p, ok
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	p, ok := PayloadFromContext(ctx)
	if !ok || p.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return p.ID, nil
}

// ContextWithPayload はコンテキストにペイロードを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPayload(ctx context.Context, p token.Payload) context.Context {
	return context.WithValue(ctx, payloadContextKey, p)
}
