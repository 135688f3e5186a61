// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultAuthProvider は認証プロバイダー未指定時に設定される値。
const DefaultAuthProvider = "google"

// User は外部IdPで認証されたCRM利用ユーザーを表す。
// emailで一意に識別される。
type User struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	AuthProvider string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DisplayName は姓名を連結した表示名を返す。
func (u *User) DisplayName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}
