// Package auth はバックエンドの認証API（GoTrue互換）のクライアントを提供する。
// セッションのクレデンシャルストアへの永続化と認証状態変化の通知を担う。
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kouame09/225-OS-sub000/internal/backend"
	"github.com/kouame09/225-OS-sub000/internal/credstore"
	"github.com/kouame09/225-OS-sub000/internal/model"
)

const (
	// refreshLeeway は期限切れ前にトークンを再発行する猶予。
	refreshLeeway = 10 * time.Second
	// subscriberBuffer は購読チャネルのバッファサイズ。
	subscriberBuffer = 16
)

// ErrNoSession はサインイン中のセッションが存在しないことを示す。
var ErrNoSession = errors.New("no active session")

// Doer はバックエンド呼び出しのインターフェース。
type Doer interface {
	Do(ctx context.Context, req backend.Request, out any) error
	BaseURL() string
}

// Client は認証APIクライアント。
// セッションはstorageKeyのキーでクレデンシャルストアにJSONとして保存する。
type Client struct {
	api        Doer
	store      credstore.Store
	storageKey string
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	subs   map[int]chan model.AuthChange
	nextID int
}

// NewClient はClientを生成する。
func NewClient(api Doer, store credstore.Store, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:        api,
		store:      store,
		storageKey: StorageKey(api.BaseURL()),
		logger:     logger,
		now:        time.Now,
		subs:       make(map[int]chan model.AuthChange),
	}
}

// StorageKey はバックエンドURLから `sb-<project-ref>-auth-token` 形式のキーを導出する。
// project-refはホスト名の先頭ラベル。
func StorageKey(baseURL string) string {
	ref := "local"
	if u, err := url.Parse(baseURL); err == nil && u.Hostname() != "" {
		ref = strings.SplitN(u.Hostname(), ".", 2)[0]
	}
	return credstore.DefaultPrefix + "-" + ref + "-auth-token"
}

// StorageKey はこのクライアントが使用するストアキーを返す。
func (c *Client) StorageKey() string {
	return c.storageKey
}

// storedUser はストアに保存するユーザー情報。
type storedUser struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// storedSession はストアに保存するセッションJSON。
// 認証APIのトークンレスポンスと同じ形式。
type storedSession struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type,omitempty"`
	ExpiresIn    int64      `json:"expires_in,omitempty"`
	ExpiresAt    int64      `json:"expires_at,omitempty"`
	User         storedUser `json:"user"`
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
// 成功時はセッションを保存しSIGNED_INを通知する。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	var resp storedSession
	err := c.api.Do(ctx, backend.Request{
		Op:     "auth.sign_in",
		Method: http.MethodPost,
		Path:   "/auth/v1/token",
		Query:  url.Values{"grant_type": {"password"}},
		Body:   map[string]string{"email": email, "password": password},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}

	session, err := c.persist(resp)
	if err != nil {
		return nil, err
	}
	c.emit(model.AuthChange{Event: model.AuthEventSignedIn, Session: session})
	return session, nil
}

// signUpResponse はサインアップのレスポンス。
// メール確認が必要な場合はトークンを含まずユーザー情報のみが返る。
type signUpResponse struct {
	storedSession
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SignUp はアカウントを登録する。
// メール確認が不要な設定ではそのままサインインし、セッションを返す。
// 確認が必要な場合は(nil, nil)を返す。
func (c *Client) SignUp(ctx context.Context, email, password, redirectTo string) (*model.Session, error) {
	q := url.Values{}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}

	var resp signUpResponse
	err := c.api.Do(ctx, backend.Request{
		Op:     "auth.sign_up",
		Method: http.MethodPost,
		Path:   "/auth/v1/signup",
		Query:  q,
		Body:   map[string]string{"email": email, "password": password},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}

	if resp.AccessToken == "" {
		c.logger.Info("メール確認待ちのためセッションは発行されませんでした", slog.String("email", email))
		return nil, nil
	}

	session, err := c.persist(resp.storedSession)
	if err != nil {
		return nil, err
	}
	c.emit(model.AuthChange{Event: model.AuthEventSignedIn, Session: session})
	return session, nil
}

// OAuthURL はOAuthプロバイダーへのリダイレクトURLを生成する。
func (c *Client) OAuthURL(provider, redirectTo string) string {
	q := url.Values{"provider": {provider}}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.api.BaseURL() + "/auth/v1/authorize?" + q.Encode()
}

// SetSession はOAuthリダイレクトで受け取ったトークンからセッションを確立する。
// ユーザー情報を取得して保存し、SIGNED_INを通知する。
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*model.Session, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("set session: empty access token")
	}

	var user storedUser
	err := c.api.Do(ctx, backend.Request{
		Op:     "auth.user",
		Method: http.MethodGet,
		Path:   "/auth/v1/user",
		Token:  accessToken,
	}, &user)
	if err != nil {
		return nil, fmt.Errorf("set session: %w", err)
	}

	stored := storedSession{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		User:         user,
	}
	if claims, err := ParseAccessToken(accessToken); err == nil && !claims.ExpiresAt.IsZero() {
		stored.ExpiresAt = claims.ExpiresAt.Unix()
	}

	session, err := c.persist(stored)
	if err != nil {
		return nil, err
	}
	c.emit(model.AuthChange{Event: model.AuthEventSignedIn, Session: session})
	return session, nil
}

// ResetPasswordForEmail はパスワードリセットメールを送信する。
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	q := url.Values{}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	err := c.api.Do(ctx, backend.Request{
		Op:     "auth.recover",
		Method: http.MethodPost,
		Path:   "/auth/v1/recover",
		Query:  q,
		Body:   map[string]string{"email": email},
	}, nil)
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	return nil
}

// GetSession は保存済みのセッションを返す。
// 期限切れが近い場合はリフレッシュトークンで再発行し、TOKEN_REFRESHEDを通知する。
// セッションが存在しない場合は(nil, nil)を返す。
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	stored, ok := c.load()
	if !ok {
		return nil, nil
	}

	session := toSession(stored)
	if !session.Expired(c.now(), refreshLeeway) {
		return session, nil
	}
	if stored.RefreshToken == "" {
		return nil, nil
	}
	return c.refresh(ctx, stored.RefreshToken)
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*model.Session, error) {
	var resp storedSession
	err := c.api.Do(ctx, backend.Request{
		Op:     "auth.refresh",
		Method: http.MethodPost,
		Path:   "/auth/v1/token",
		Query:  url.Values{"grant_type": {"refresh_token"}},
		Body:   map[string]string{"refresh_token": refreshToken},
	}, &resp)
	if err != nil {
		if backend.IsUnauthorized(err) || isInvalidGrant(err) {
			// リフレッシュトークンが失効している場合はセッションを破棄する
			c.clearStored()
			c.emit(model.AuthChange{Event: model.AuthEventSignedOut})
			return nil, nil
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	session, err := c.persist(resp)
	if err != nil {
		return nil, err
	}
	c.emit(model.AuthChange{Event: model.AuthEventTokenRefreshed, Session: session})
	return session, nil
}

// SignOut はバックエンドのセッションを失効させ、保存済みセッションを削除する。
// バックエンド呼び出しが失敗してもローカルのセッションは削除し、SIGNED_OUTを通知する。
func (c *Client) SignOut(ctx context.Context) error {
	stored, ok := c.load()

	var remoteErr error
	if ok && stored.AccessToken != "" {
		remoteErr = c.api.Do(ctx, backend.Request{
			Op:     "auth.sign_out",
			Method: http.MethodPost,
			Path:   "/auth/v1/logout",
			Token:  stored.AccessToken,
		}, nil)
	}

	c.clearStored()
	c.emit(model.AuthChange{Event: model.AuthEventSignedOut})

	if remoteErr != nil {
		return fmt.Errorf("sign out: %w", remoteErr)
	}
	return nil
}

// OnAuthStateChange は認証状態変化の購読を開始する。
// 最初に保存済みセッションを含むINITIAL_SESSIONが配信される。
// 返り値の関数を呼ぶと購読を解除し、チャネルをクローズする。
func (c *Client) OnAuthStateChange() (<-chan model.AuthChange, func()) {
	ch := make(chan model.AuthChange, subscriberBuffer)

	var initial *model.Session
	if stored, ok := c.load(); ok {
		initial = toSession(stored)
	}
	ch <- model.AuthChange{Event: model.AuthEventInitialSession, Session: initial}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe
}

// emit は全購読者にイベントを配信する。バッファが満杯の購読者には配信しない。
func (c *Client) emit(change model.AuthChange) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, ch := range c.subs {
		select {
		case ch <- change:
		default:
			c.logger.Warn("購読者のバッファが満杯のため認証イベントを破棄しました",
				slog.Int("subscriber", id),
				slog.String("event", string(change.Event)),
			)
		}
	}
}

// persist はトークンレスポンスを保存し、Sessionに変換して返す。
func (c *Client) persist(s storedSession) (*model.Session, error) {
	if s.AccessToken == "" {
		return nil, fmt.Errorf("auth response has no access token")
	}
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = c.now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
	if s.User.ID == "" {
		if claims, err := ParseAccessToken(s.AccessToken); err == nil {
			s.User.ID = claims.UserID
			if s.User.Email == "" {
				s.User.Email = claims.Email
			}
		}
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	if err := c.store.Set(c.storageKey, string(data)); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	return toSession(s), nil
}

// load はストアから保存済みセッションを読み込む。
func (c *Client) load() (storedSession, bool) {
	raw, ok := c.store.Get(c.storageKey)
	if !ok || raw == "" {
		return storedSession{}, false
	}
	var s storedSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		c.logger.Warn("保存済みセッションが不正な形式のため無視しました", slog.String("error", err.Error()))
		return storedSession{}, false
	}
	if s.AccessToken == "" {
		return storedSession{}, false
	}
	return s, true
}

func (c *Client) clearStored() {
	if err := c.store.Remove(c.storageKey); err != nil {
		c.logger.Error("保存済みセッションの削除に失敗しました", slog.String("error", err.Error()))
	}
}

func toSession(s storedSession) *model.Session {
	session := &model.Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		User:         model.User{ID: s.User.ID, Email: s.User.Email},
	}
	if s.ExpiresAt > 0 {
		session.ExpiresAt = time.Unix(s.ExpiresAt, 0)
	}
	return session
}

func isInvalidGrant(err error) bool {
	var be *backend.Error
	if !errors.As(err, &be) {
		return false
	}
	return be.StatusCode == http.StatusBadRequest &&
		(be.Code == "invalid_grant" || be.Code == "refresh_token_not_found" || strings.Contains(strings.ToLower(be.Message), "refresh token"))
}
