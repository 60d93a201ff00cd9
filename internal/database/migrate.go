// Package database はマイグレーションとヘルスチェック用のデータベース接続を提供する。
// アプリケーションのデータアクセスはバックエンドのREST API経由で行い、
// ここではprofiles・projectsテーブルと行レベルポリシーのスキーマだけを管理する。
package database

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Result はマイグレーション実行前後のスキーマバージョン。
// Before が 0 の場合は未適用の状態から実行したことを表す。
type Result struct {
	Before uint
	After  uint
}

// Applied はこの実行で1つ以上のマイグレーションが適用されたかを返す。
func (r Result) Applied() bool {
	return r.After != r.Before
}

// migrateLogger はgolang-migrateのログをslogに流す。
type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "migrate"))
}

func (l migrateLogger) Verbose() bool {
	return false
}

// NewMigrator は埋め込みのマイグレーションを使うmigrateインスタンスを生成する。
// loggerを指定すると適用したマイグレーションごとにログを出力する。
func NewMigrator(databaseURL string, logger *slog.Logger) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	if logger != nil {
		m.Log = migrateLogger{logger: logger}
	}

	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用し、前後のバージョンを返す。
// すでに最新の場合はエラーなしで返る。前回の実行が途中で失敗していた場合はエラーを返す。
func RunMigrations(databaseURL string, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m, err := NewMigrator(databaseURL, logger)
	if err != nil {
		return Result{}, err
	}
	defer m.Close()

	before, err := currentVersion(m)
	if err != nil {
		return Result{}, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return Result{Before: before}, fmt.Errorf("failed to run migrations: %w", err)
	}

	after, err := currentVersion(m)
	if err != nil {
		return Result{Before: before}, err
	}

	res := Result{Before: before, After: after}
	logger.Info("スキーマバージョンを確認しました",
		slog.Uint64("from_version", uint64(res.Before)),
		slog.Uint64("to_version", uint64(res.After)),
		slog.Bool("applied", res.Applied()),
	)
	return res, nil
}

// currentVersion は適用済みのバージョンを返す。未適用の場合は0。
func currentVersion(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return v, fmt.Errorf("schema version %d is dirty; fix the failed migration and force the version", v)
	}
	return v, nil
}
