package middleware

import (
	"context"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// RequestIDHeader はリクエストIDを受け渡すヘッダー名。
const RequestIDHeader = "X-Request-Id"

// NewRequestIDMiddleware はリクエストごとにIDを採番してコンテキストに格納し、
// レスポンスヘッダーにも返すミドルウェアを返す。
// クライアントがX-Request-Idを送った場合はその値を引き継ぐ。
func NewRequestIDMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := RequestIDFromContext(r.Context()); id != "" {
				w.Header().Set(RequestIDHeader, id)
			}
			next.ServeHTTP(w, r)
		})
		return chimw.RequestID(echo)
	}
}

// RequestIDFromContext はコンテキストのリクエストIDを返す。未設定の場合は空文字。
func RequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}
