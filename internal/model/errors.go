// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, client, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeTokenMissing   = "TOKEN_MISSING"
	ErrCodeTokenExpired   = "TOKEN_EXPIRED"
	ErrCodeTokenInvalid   = "TOKEN_INVALID"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeClientNotFound = "CLIENT_NOT_FOUND"
	ErrCodeDuplicateEmail = "DUPLICATE_EMAIL"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// NewTokenMissingError はセッショントークン未提示エラーを生成する。
func NewTokenMissingError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenMissing,
		Message:  "アクセスが拒否されました。トークンが提示されていません。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewTokenExpiredError はセッショントークン期限切れエラーを生成する。
func NewTokenExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenExpired,
		Message:  "アクセスが拒否されました。トークンの有効期限が切れています。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewTokenInvalidError は署名不正・形式不正なトークンのエラーを生成する。
func NewTokenInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenInvalid,
		Message:  "アクセスが拒否されました。トークンが不正です。",
		Category: "auth",
		Action:   "トークンを破棄してログインし直してください。問題が続く場合は管理者に連絡してください。",
	}
}

// NewValidationError は必須項目の欠落や形式不正のエラーを生成する。
// fieldsには問題のあるフィールド名を渡す。
func NewValidationError(fields ...string) *APIError {
	msg := "入力内容に誤りがあります。"
	if len(fields) > 0 {
		msg = fmt.Sprintf("入力内容に誤りがあります: %s", strings.Join(fields, ", "))
	}
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  msg,
		Category: "validation",
		Action:   "firstName、lastName、email を正しく入力してください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewClientNotFoundError は顧客が見つからない場合のエラーを生成する。
func NewClientNotFoundError(clientID string) *APIError {
	return &APIError{
		Code:     ErrCodeClientNotFound,
		Message:  fmt.Sprintf("指定された顧客が見つかりません: %s", clientID),
		Category: "client",
		Action:   "顧客IDを確認してください。",
	}
}

// NewDuplicateEmailError はメールアドレスが既に登録済みの場合のエラーを生成する。
func NewDuplicateEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  fmt.Sprintf("メールアドレスは既に登録されています: %s", email),
		Category: "client",
		Action:   "別のメールアドレスを指定するか、既存の顧客を更新してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、呼び出し元には一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
