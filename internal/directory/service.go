// Package directory はプロジェクト・プロフィール・画像ストレージに対する
// バックエンドのテーブルAPI呼び出しをまとめたデータアクセス層を提供する。
//
// 読み取りは匿名キーで、書き込みは解決したアクセストークンで行う。
// 所有者の検証はバックエンドの行レベルポリシーに委ねる。
package directory

import (
	"context"
	"log/slog"

	"github.com/kouame09/225-OS-sub000/internal/backend"
	"github.com/kouame09/225-OS-sub000/internal/github"
)

const (
	projectsPath = "/rest/v1/projects"
	profilesPath = "/rest/v1/profiles"
	storagePath  = "/storage/v1/object"

	// DefaultBucket は画像アップロード先のストレージバケット。
	DefaultBucket = "images"
)

// Backend はバックエンドREST APIのインターフェース。
type Backend interface {
	Do(ctx context.Context, req backend.Request, out any) error
	ObjectPublicURL(bucket, objectPath string) string
}

// TokenSource は書き込み用のアクセストークンを返す。取得できない場合は空文字列。
type TokenSource interface {
	Resolve(ctx context.Context) string
}

// URLValidator はユーザー入力のURLを検証する。
type URLValidator interface {
	Validate(rawURL string) error
}

// Sanitizer はユーザー入力のテキストからHTMLを取り除く。
type Sanitizer interface {
	PlainText(input string) string
}

// StatsFetcher はリポジトリホストからメタデータを取得する。
type StatsFetcher interface {
	GetRepositoryByURL(ctx context.Context, repoURL string) (*github.Repository, error)
}

// Config はServiceの依存関係。
type Config struct {
	Backend Backend
	Tokens  TokenSource
	URLs    URLValidator
	Text    Sanitizer
	Stats   StatsFetcher
	Bucket  string
	Logger  *slog.Logger
}

// Service はデータアクセス層の操作を提供する。ローカルキャッシュは持たない。
type Service struct {
	api    Backend
	tokens TokenSource
	urls   URLValidator
	text   Sanitizer
	stats  StatsFetcher
	bucket string
	logger *slog.Logger
}

// NewService はServiceを生成する。
func NewService(cfg Config) *Service {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		api:    cfg.Backend,
		tokens: cfg.Tokens,
		urls:   cfg.URLs,
		text:   cfg.Text,
		stats:  cfg.Stats,
		bucket: cfg.Bucket,
		logger: cfg.Logger,
	}
}

// token は書き込み用トークンを返す。TokenSource未設定時は匿名キーで送信される。
func (s *Service) token(ctx context.Context) string {
	if s.tokens == nil {
		return ""
	}
	return s.tokens.Resolve(ctx)
}

func (s *Service) plain(v string) string {
	if s.text == nil {
		return v
	}
	return s.text.PlainText(v)
}

func (s *Service) validateURL(raw string) error {
	if s.urls == nil {
		return nil
	}
	return s.urls.Validate(raw)
}
