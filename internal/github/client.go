// Package github はGitHub REST APIからリポジトリのメタデータを取得する。
// プロジェクトのスター数・フォーク数・最終更新日時の同期に使用する。
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultEndpoint はGitHub REST APIのベースURL。
	defaultEndpoint = "https://api.github.com"
	// defaultRate は未認証時の上限（60回/時）を超えないための呼び出し間隔。
	defaultRate = rate.Limit(1.0 / 60.0)
	// maxBodySize はレスポンスとして読み取る最大バイト数。
	maxBodySize = 1 << 20
)

var (
	// ErrRepoNotFound はリポジトリが存在しないか非公開であることを示す。
	ErrRepoNotFound = errors.New("repository not found")
	// ErrRateLimited はAPIのレート制限に達したことを示す。
	ErrRateLimited = errors.New("github rate limit exceeded")
	// ErrNotGitHubURL はURLがgithub.comのリポジトリを指していないことを示す。
	ErrNotGitHubURL = errors.New("not a github repository url")
)

// Repository はリポジトリのメタデータ。
type Repository struct {
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
	Stars       int       `json:"stargazers_count"`
	Forks       int       `json:"forks_count"`
	Language    string    `json:"language"`
	PushedAt    time.Time `json:"pushed_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LastActivity は最終更新日時を返す。pushed_atが空の場合はupdated_atを使う。
func (r *Repository) LastActivity() time.Time {
	if !r.PushedAt.IsZero() {
		return r.PushedAt
	}
	return r.UpdatedAt
}

// Config はClientの設定。
type Config struct {
	// Endpoint はAPIのベースURL。空の場合はapi.github.com。
	Endpoint string
	// Token は個人アクセストークン。指定するとレート上限が緩和される。
	Token string
	// Rate は1秒あたりの呼び出し回数の上限。0の場合はトークン有無に応じたデフォルト値。
	Rate rate.Limit
}

// Client はGitHub REST APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	token      string
	limiter    *rate.Limiter
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, cfg Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	limit := cfg.Rate
	if limit == 0 {
		limit = defaultRate
		if cfg.Token != "" {
			// 認証済みは5000回/時
			limit = rate.Limit(5000.0 / 3600.0)
		}
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
		token:      cfg.Token,
		limiter:    rate.NewLimiter(limit, 5),
	}
}

// GetRepository はowner/repoのメタデータを取得する。
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("レート制限の待機が中断されました: %w", err)
	}

	reqURL := fmt.Sprintf("%s/repos/%s/%s", c.endpoint, url.PathEscape(owner), url.PathEscape(repo))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "225-OS-directory/1.0")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("GitHub APIの呼び出しに失敗しました",
			slog.String("repo", owner+"/"+repo),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s/%s: %w", owner, repo, ErrRepoNotFound)
	case isRateLimited(resp):
		c.logger.Warn("GitHub APIのレート制限に達しました",
			slog.String("repo", owner+"/"+repo),
			slog.String("reset", resp.Header.Get("X-RateLimit-Reset")),
		)
		return nil, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		c.logger.Error("GitHub APIがエラーステータスを返しました",
			slog.String("repo", owner+"/"+repo),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("GitHub APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var r Repository
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return &r, nil
}

// GetRepositoryByURL はリポジトリURLからメタデータを取得する。
func (c *Client) GetRepositoryByURL(ctx context.Context, repoURL string) (*Repository, error) {
	owner, repo, err := ParseRepositoryURL(repoURL)
	if err != nil {
		return nil, err
	}
	return c.GetRepository(ctx, owner, repo)
}

// isRateLimited はレスポンスがレート制限によるものかを判定する。
// 一次制限は403かつ残り回数0、二次制限は429で返る。
func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"
}

// ParseRepositoryURL はhttps://github.com/owner/repo 形式のURLからownerとrepoを取り出す。
// 末尾の.gitやサブパス（/tree/main など）は無視する。
func ParseRepositoryURL(raw string) (owner, repo string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrNotGitHubURL, err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "github.com" {
		return "", "", fmt.Errorf("%w: %s", ErrNotGitHubURL, raw)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrNotGitHubURL, raw)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
