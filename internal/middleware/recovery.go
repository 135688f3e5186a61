package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はハンドラー内のpanicを捕捉し、500のAPIエラーに変換するミドルウェアを返す。
// ロギングミドルウェアの内側に置いた場合、ログにはセッションゲートが確定したuser_idも含める。
func NewRecoveryMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// クライアント切断による中断はnet/httpに処理を任せる
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				started := responseStarted(w)
				attrs := []slog.Attr{
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Bool("response_started", started),
					slog.String("stack", string(debug.Stack())),
				}
				if id := RequestIDFromContext(r.Context()); id != "" {
					attrs = append(attrs, slog.String("request_id", id))
				}
				if userID := logUserID(r.Context()); userID != "" {
					attrs = append(attrs, slog.String("user_id", userID))
				}
				logger.LogAttrs(r.Context(), slog.LevelError, "panic recovered", attrs...)

				// 送信済みのレスポンスにエラー本文を継ぎ足すと壊れたJSONになる
				if !started {
					WriteInternalServerError(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// responseStarted はラップされたResponseWriterを辿り、ステータスが送信済みかを返す。
// statusRecorderが見つからない場合は未送信とみなす。
func responseStarted(w http.ResponseWriter) bool {
	for {
		switch rw := w.(type) {
		case *statusRecorder:
			return rw.written
		case interface{ Unwrap() http.ResponseWriter }:
			w = rw.Unwrap()
		default:
			return false
		}
	}
}

func logUserID(ctx context.Context) string {
	if f, ok := ctx.Value(logFieldsContextKey).(*logFields); ok {
		return f.userID
	}
	return ""
}
