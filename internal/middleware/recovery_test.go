package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// panicLogEntry はログ出力から "panic recovered" の行を取り出す。
func panicLogEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, line)
		}
		if entry["msg"] == "panic recovered" {
			return entry
		}
	}
	t.Fatalf("panic log not found in:\n%s", buf.String())
	return nil
}

// serveRecovered はRequestID → Logging → Recovery の順でhandlerを包んで1リクエスト処理する。
func serveRecovered(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	chain := NewRequestIDMiddleware()(NewLoggingMiddleware(logger)(NewRecoveryMiddleware(logger)(h)))
	w := httptest.NewRecorder()
	chain.ServeHTTP(w, req)

	return w, panicLogEntry(t, &buf)
}

func TestRecoveryMiddleware_PanicBecomesInternalError(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setLogUserID(r.Context(), "user-42")
		panic("nil map write")
	})
	req := httptest.NewRequest(http.MethodPut, "/clients/abc", nil)
	req.Header.Set(RequestIDHeader, "req-panic")

	w, entry := serveRecovered(t, h, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if code := decodeErrorCode(t, w); code != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", code)
	}

	want := map[string]any{
		"level":            "ERROR",
		"panic":            "nil map write",
		"method":           http.MethodPut,
		"path":             "/clients/abc",
		"request_id":       "req-panic",
		"user_id":          "user-42",
		"response_started": false,
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
	if stack, _ := entry["stack"].(string); !strings.Contains(stack, "goroutine") {
		t.Errorf("stack should contain a goroutine trace, got %q", stack)
	}
}

func TestRecoveryMiddleware_AnonymousRequestOmitsUserID(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	_, entry := serveRecovered(t, h, httptest.NewRequest(http.MethodGet, "/", nil))

	if _, ok := entry["user_id"]; ok {
		t.Errorf("user_id should be omitted for anonymous requests, got %v", entry["user_id"])
	}
}

func TestRecoveryMiddleware_PanicAfterWriteKeepsResponse(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[{"id":"1"}`))
		panic("encoder failed mid-stream")
	})

	w, entry := serveRecovered(t, h, httptest.NewRequest(http.MethodGet, "/clients", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want the already-sent 200", w.Code)
	}
	if got := w.Body.String(); got != `[{"id":"1"}` {
		t.Errorf("body = %q, error body must not be appended", got)
	}
	if entry["response_started"] != true {
		t.Errorf("response_started = %v, want true", entry["response_started"])
	}
}

func TestRecoveryMiddleware_WithoutLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := NewRecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	entry := panicLogEntry(t, &buf)
	if _, ok := entry["request_id"]; ok {
		t.Errorf("request_id should be omitted without the request ID middleware, got %v", entry["request_id"])
	}
}

func TestRecoveryMiddleware_AbortHandlerIsRepanicked(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := NewRecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rec)
		}
		if buf.Len() != 0 {
			t.Errorf("aborted request should not be logged, got %s", buf.String())
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	t.Fatal("ServeHTTP should have re-panicked")
}
