package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// pgUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pgUniqueViolation = "23505"

// isEmailUniqueViolation はemailカラムの一意制約違反かを判定する。
func isEmailUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pgUniqueViolation && strings.HasSuffix(pqErr.Constraint, "_email_key")
}

// isValidID はIDがUUID形式かを判定する。
// UUID以外の値はuuid型カラムとの比較でエラーになるため、クエリ前に弾いて未検出として扱う。
func isValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// nullString は空文字列をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
