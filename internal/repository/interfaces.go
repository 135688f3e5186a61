// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/crmdesk/internal/model"
)

// ErrDuplicateEmail はemailの一意制約に違反した場合に返される。
// PostgreSQLではSQLSTATE 23505から判定し、エラーメッセージの文字列照合は行わない。
var ErrDuplicateEmail = errors.New("email already exists")

// ErrNotFound は更新対象のレコードが存在しない場合に返される。
var ErrNotFound = errors.New("record not found")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByEmail はemailの完全一致でユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。emailが既に存在する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はユーザーの可変項目（first_name, last_name, auth_provider）を更新する。
	// 対象が存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, user *model.User) error
}

// ClientRepository は顧客データの永続化インターフェース。
type ClientRepository interface {
	// List は全顧客をlast_name昇順（同値はfirst_name、id順）で返す。
	List(ctx context.Context) ([]*model.Client, error)

	// FindByID は指定IDの顧客を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Client, error)

	// FindByEmail はemailの完全一致で顧客を取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Client, error)

	// Create は顧客を作成する。emailが既に存在する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, client *model.Client) error

	// Update は顧客の全項目を上書き更新する。
	// emailが他の顧客と重複する場合はErrDuplicateEmail、対象が存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, client *model.Client) error

	// Delete は指定IDの顧客を削除し、削除件数を返す。
	Delete(ctx context.Context, id string) (int64, error)
}
