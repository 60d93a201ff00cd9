// Package token は書き込みリクエストに付与するアクセストークンを解決する。
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kouame09/225-OS-sub000/internal/credstore"
	"github.com/kouame09/225-OS-sub000/internal/model"
)

// DefaultTimeout はSDKのセッション取得を待つデフォルトの上限。
const DefaultTimeout = 2 * time.Second

// SessionGetter は認証SDKのセッション取得インターフェース。
type SessionGetter interface {
	GetSession(ctx context.Context) (*model.Session, error)
}

// Resolver はアクセストークンを解決する。
// まずクレデンシャルストアを同期的に走査し、見つからなければSDKに問い合わせる。
type Resolver struct {
	store   credstore.Store
	prefix  string
	sdk     SessionGetter
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewResolver はResolverを生成する。timeoutが0以下の場合はDefaultTimeoutを使う。
func NewResolver(store credstore.Store, prefix string, sdk SessionGetter, timeout time.Duration, logger *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:   store,
		prefix:  prefix,
		sdk:     sdk,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Resolve はアクセストークンを返す。取得できない場合は空文字列を返す。
// エラーは返さず、デフォルトの上限時間内に必ず戻る。
func (r *Resolver) Resolve(ctx context.Context) string {
	return r.ResolveWithin(ctx, r.timeout)
}

// ResolveWithin はSDK問い合わせの上限をtimeoutとしてアクセストークンを返す。
func (r *Resolver) ResolveWithin(ctx context.Context, timeout time.Duration) string {
	if tok := r.fromStore(); tok != "" {
		return tok
	}
	if r.sdk == nil {
		return ""
	}
	if timeout <= 0 {
		timeout = r.timeout
	}
	return r.fromSDK(ctx, timeout)
}

// storedToken はストアのセッションJSONのうちトークン解決に必要な部分。
type storedToken struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"`
}

// fromStore は命名規則に一致するキーを走査し、最初に読める access_token を返す。
// 壊れたエントリと期限切れのエントリは読み飛ばす。
func (r *Resolver) fromStore() string {
	now := r.now().Unix()
	for _, key := range credstore.AuthTokenKeys(r.store, r.prefix) {
		raw, ok := r.store.Get(key)
		if !ok {
			continue
		}
		var st storedToken
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			r.logger.Debug("不正な形式のクレデンシャルエントリを読み飛ばしました", slog.String("key", key))
			continue
		}
		if st.AccessToken == "" {
			continue
		}
		if st.ExpiresAt != 0 && st.ExpiresAt <= now {
			continue
		}
		return st.AccessToken
	}
	return ""
}

type sdkResult struct {
	session *model.Session
	err     error
}

// fromSDK はSDKのセッション取得をtimeoutで打ち切る。
// タイムアウト時はコンテキストをキャンセルし、SDK側のHTTPリクエストも中断させる。
func (r *Resolver) fromSDK(ctx context.Context, timeout time.Duration) string {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan sdkResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- sdkResult{err: fmt.Errorf("session lookup panicked: %v", rec)}
			}
		}()
		s, err := r.sdk.GetSession(ctx)
		done <- sdkResult{session: s, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			r.logger.Warn("セッションの取得に失敗しました", slog.String("error", res.err.Error()))
			return ""
		}
		if res.session == nil {
			return ""
		}
		return res.session.AccessToken
	case <-ctx.Done():
		r.logger.Warn("セッションの取得がタイムアウトしました", slog.Duration("timeout", timeout))
		return ""
	}
}
