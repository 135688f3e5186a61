// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Direction はマイグレーションの適用方向。
type Direction string

const (
	// DirectionUp は未適用のマイグレーションをすべて適用する。
	DirectionUp Direction = "up"
	// DirectionDown は直近のマイグレーションを1つ巻き戻す。
	DirectionDown Direction = "down"
)

// ParseDirection は文字列をDirectionに変換する。空文字はDirectionUpとして扱う。
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "", DirectionUp:
		return DirectionUp, nil
	case DirectionDown:
		return DirectionDown, nil
	default:
		return "", fmt.Errorf("unknown migration direction %q (want %q or %q)", s, DirectionUp, DirectionDown)
	}
}

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// databaseURLはPostgreSQLの接続URLを指定する。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// Migrate は指定方向にマイグレーションを実行し、実行後のスキーマバージョンを返す。
// 適用対象が無い場合はエラーにならない。全て巻き戻した状態のバージョンは0。
func Migrate(databaseURL string, dir Direction) (uint, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	switch dir {
	case DirectionDown:
		err = m.Steps(-1)
	default:
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) && !isNoPreviousVersion(err) {
		return 0, fmt.Errorf("failed to run migrations (%s): %w", dir, err)
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(databaseURL string) error {
	_, err := Migrate(databaseURL, DirectionUp)
	return err
}

// isNoPreviousVersion は未適用の状態から巻き戻そうとした場合のエラーかを判定する。
func isNoPreviousVersion(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
