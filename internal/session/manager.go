// Package session はサインイン中のプリンシパルのセッションライフサイクルを管理する。
//
// 起動時の初期状態は、SDKへの直接問い合わせ・認証イベント・安全タイマーの
// いずれか最初に到達したもの1つだけで確定する。
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kouame09/225-OS-sub000/internal/backend"
	"github.com/kouame09/225-OS-sub000/internal/credstore"
	"github.com/kouame09/225-OS-sub000/internal/model"
	"github.com/kouame09/225-OS-sub000/internal/notify"
)

const (
	// DefaultBootTimeout は初期状態の確定を待つ上限。
	DefaultBootTimeout = 5 * time.Second
	// DefaultSignOutTimeout はリモートのサインアウトを待つ上限。
	DefaultSignOutTimeout = 1 * time.Second

	watcherBuffer = 8
)

// ErrAlreadyStarted はStartが2回呼ばれたことを示す。
var ErrAlreadyStarted = errors.New("session manager already started")

// AuthSDK はManagerが利用する認証SDKのインターフェース。
type AuthSDK interface {
	GetSession(ctx context.Context) (*model.Session, error)
	OnAuthStateChange() (<-chan model.AuthChange, func())
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password, redirectTo string) (*model.Session, error)
	OAuthURL(provider, redirectTo string) string
	SetSession(ctx context.Context, accessToken, refreshToken string) (*model.Session, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	SignOut(ctx context.Context) error
}

// ApprovalFunc はSIGNED_INイベントごとに呼ばれる承認チェック。
type ApprovalFunc func(ctx context.Context, user model.User)

// Recorder はセッション状態遷移のメトリクス記録インターフェース。
type Recorder interface {
	RecordSessionState(state string)
}

// Config はManagerの設定。
type Config struct {
	BootTimeout    time.Duration
	SignOutTimeout time.Duration
	// Prefix はクレデンシャルストアのトークンキー接頭辞。
	Prefix string
	// SiteURL はサインアップ確認やOAuthのリダイレクト先の基点。
	SiteURL  string
	Notifier notify.Sink
	Recorder Recorder
	Logger   *slog.Logger
}

// Manager はセッションライフサイクルを管理する。
type Manager struct {
	sdk   AuthSDK
	store credstore.Store
	cfg   Config

	mu          sync.Mutex
	state       State
	session     *model.Session
	source      bootSource
	bootDone    chan struct{}
	started     bool
	stopped     bool
	cancel      context.CancelFunc
	unsubscribe func()
	approve     ApprovalFunc
	watchers    map[int]chan Snapshot
	nextWatch   int

	wg sync.WaitGroup
}

// NewManager はManagerを生成する。
func NewManager(sdk AuthSDK, store credstore.Store, cfg Config) *Manager {
	if cfg.BootTimeout <= 0 {
		cfg.BootTimeout = DefaultBootTimeout
	}
	if cfg.SignOutTimeout <= 0 {
		cfg.SignOutTimeout = DefaultSignOutTimeout
	}
	if cfg.Prefix == "" {
		cfg.Prefix = credstore.DefaultPrefix
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")

	return &Manager{
		sdk:      sdk,
		store:    store,
		cfg:      cfg,
		state:    StateUninitialized,
		bootDone: make(chan struct{}),
		watchers: make(map[int]chan Snapshot),
	}
}

// UseApprovalGate はSIGNED_IN時に実行する承認チェックを登録する。Startより前に呼ぶこと。
func (m *Manager) UseApprovalGate(fn ApprovalFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approve = fn
}

// Start はセッションの直接取得・認証イベントの購読・安全タイマーを並行して開始する。
// ctxのキャンセルまたはStopでライフサイクルを終了する。
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	lifecycle, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.setStateLocked(StateLoading, nil)
	m.mu.Unlock()

	events, unsubscribe := m.sdk.OnAuthStateChange()

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	m.wg.Add(3)
	go m.fetchInitial(lifecycle)
	go m.listen(lifecycle, events)
	go m.safetyTimer(lifecycle)

	m.cfg.Logger.Debug("セッションマネージャーを開始しました", slog.Duration("boot_timeout", m.cfg.BootTimeout))
	return nil
}

// Stop は購読を解除し、以降の状態更新を抑止する。
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancel := m.cancel
	unsubscribe := m.unsubscribe
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	m.wg.Wait()

	m.mu.Lock()
	for id, ch := range m.watchers {
		delete(m.watchers, id)
		close(ch)
	}
	m.mu.Unlock()
}

// fetchInitial はSDKから現在のセッションを直接取得する。
// 取得に失敗した場合は未ログインとして確定させる。
func (m *Manager) fetchInitial(ctx context.Context) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.BootTimeout)
	defer cancel()

	s, err := m.sdk.GetSession(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.cfg.Logger.Warn("初期セッションの取得に失敗しました", slog.String("error", err.Error()))
		}
		s = nil
	}
	if m.settle(bootFetch, s) {
		m.cfg.Logger.Info("セッションの初期状態が確定しました", slog.String("source", string(bootFetch)), slog.Bool("authenticated", s != nil))
	}
}

// listen は認証イベントを処理する。購読開始時の合成イベントINITIAL_SESSIONは無視する。
func (m *Manager) listen(ctx context.Context, events <-chan model.AuthChange) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(ctx, ev)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev model.AuthChange) {
	switch ev.Event {
	case model.AuthEventInitialSession:
		return
	case model.AuthEventSignedIn:
		if !m.apply(ev.Session) || ev.Session == nil {
			return
		}
		m.mu.Lock()
		approve := m.approve
		m.mu.Unlock()
		if approve != nil {
			approve(ctx, ev.Session.User)
		}
	case model.AuthEventTokenRefreshed:
		m.apply(ev.Session)
	case model.AuthEventSignedOut:
		m.apply(nil)
	default:
		m.cfg.Logger.Debug("未知の認証イベントを無視しました", slog.String("event", string(ev.Event)))
	}
}

// safetyTimer はBootTimeout経過までに初期状態が確定しなければ、現時点の状態で確定させる。
func (m *Manager) safetyTimer(ctx context.Context) {
	defer m.wg.Done()

	timer := time.NewTimer(m.cfg.BootTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-m.bootDone:
	case <-timer.C:
		m.mu.Lock()
		known := m.session
		m.mu.Unlock()
		if m.settle(bootTimeout, known) {
			m.cfg.Logger.Warn("初期状態の確定がタイムアウトしたため現在の状態で続行します",
				slog.Duration("timeout", m.cfg.BootTimeout),
				slog.Bool("authenticated", known != nil),
			)
		}
	}
}

// settle は初期状態が未確定の場合のみsでセッションを確定させる。確定させた場合trueを返す。
func (m *Manager) settle(source bootSource, s *model.Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.source != bootNone {
		return false
	}
	m.markBootLocked(source)
	m.setSessionLocked(s)
	return true
}

// apply はイベントによるセッション変更を反映する。初期状態が未確定なら同時に確定させる。
func (m *Manager) apply(s *model.Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return false
	}
	if m.source == bootNone {
		m.markBootLocked(bootEvent)
	}
	m.setSessionLocked(s)
	return true
}

func (m *Manager) markBootLocked(source bootSource) {
	m.source = source
	close(m.bootDone)
}

func (m *Manager) setSessionLocked(s *model.Session) {
	if s != nil {
		m.setStateLocked(StateAuthenticated, s)
		return
	}
	m.setStateLocked(StateAnonymous, nil)
}

func (m *Manager) setStateLocked(state State, s *model.Session) {
	changed := m.state != state
	m.state = state
	m.session = s
	if changed && m.cfg.Recorder != nil {
		m.cfg.Recorder.RecordSessionState(string(state))
	}
	m.broadcastLocked()
}

// SignOut はリモートのサインアウトをSignOutTimeoutで打ち切り、結果に関わらず
// ローカルのトークンエントリとセッション状態を消去して "/" への遷移を通知する。
func (m *Manager) SignOut(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, m.cfg.SignOutTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("sign out panicked: %v", rec)
			}
		}()
		done <- m.sdk.SignOut(sctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			m.cfg.Logger.Warn("リモートのサインアウトに失敗しました。ローカルのセッションを消去します", slog.String("error", err.Error()))
		}
	case <-sctx.Done():
		m.cfg.Logger.Warn("リモートのサインアウトがタイムアウトしました。ローカルのセッションを消去します", slog.Duration("timeout", m.cfg.SignOutTimeout))
	}

	removed, err := credstore.RemoveAuthTokens(m.store, m.cfg.Prefix)
	if err != nil {
		m.cfg.Logger.Error("保存済みクレデンシャルの削除に失敗しました", slog.String("error", err.Error()))
	}

	m.mu.Lock()
	if !m.stopped {
		if m.source == bootNone {
			m.markBootLocked(bootSignOut)
		}
		m.setSessionLocked(nil)
	}
	m.mu.Unlock()

	m.cfg.Logger.Info("サインアウトしました", slog.Int("removed_credentials", removed))
	m.cfg.Notifier.Notify(notify.Navigate("/"))
}

// SignIn はメールアドレスとパスワードでサインインする。
// セッション状態はSDKのSIGNED_INイベント経由で反映される。
func (m *Manager) SignIn(ctx context.Context, email, password string) (*model.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, model.NewInvalidInputError("e-mail et mot de passe requis")
	}

	s, err := m.sdk.SignInWithPassword(ctx, email, password)
	if err != nil {
		m.cfg.Logger.Info("サインインに失敗しました", slog.String("email", email), slog.String("error", err.Error()))
		return nil, model.NewSignInFailedError(reason(err))
	}
	return s, nil
}

// minPasswordLength はバックエンドが受け付けるパスワードの最小長。
const minPasswordLength = 6

// SignUp はアカウントを登録する。メール確認が必要な場合は(nil, nil)を返す。
func (m *Manager) SignUp(ctx context.Context, email, password string) (*model.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, model.NewInvalidInputError("adresse e-mail invalide")
	}
	if len(password) < minPasswordLength {
		return nil, model.NewInvalidInputError(fmt.Sprintf("le mot de passe doit contenir au moins %d caractères", minPasswordLength))
	}

	s, err := m.sdk.SignUp(ctx, email, password, m.redirect("/login"))
	if err != nil {
		m.cfg.Logger.Info("アカウント登録に失敗しました", slog.String("email", email), slog.String("error", err.Error()))
		return nil, model.NewSignUpFailedError(reason(err))
	}
	return s, nil
}

// OAuthURL はOAuthプロバイダーの認可URLを返す。
func (m *Manager) OAuthURL(provider string) string {
	return m.sdk.OAuthURL(provider, m.redirect("/auth/callback"))
}

// CompleteOAuth はOAuthリダイレクトで受け取ったトークンでセッションを確立する。
func (m *Manager) CompleteOAuth(ctx context.Context, accessToken, refreshToken string) (*model.Session, error) {
	if accessToken == "" {
		return nil, model.NewInvalidInputError("jeton d'accès manquant")
	}
	s, err := m.sdk.SetSession(ctx, accessToken, refreshToken)
	if err != nil {
		m.cfg.Logger.Info("OAuthセッションの確立に失敗しました", slog.String("error", err.Error()))
		return nil, model.NewSignInFailedError(reason(err))
	}
	return s, nil
}

// ResetPassword はパスワードリセットメールを送信する。
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.NewInvalidInputError("adresse e-mail requise")
	}
	if err := m.sdk.ResetPasswordForEmail(ctx, email, m.redirect("/reset-password")); err != nil {
		m.cfg.Logger.Info("パスワードリセットメールの送信に失敗しました", slog.String("email", email), slog.String("error", err.Error()))
		return model.NewPasswordResetError(reason(err))
	}
	return nil
}

// Snapshot は現在のセッション状態を返す。
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// WaitInitialized は初期状態が確定するまで待つ。
func (m *Manager) WaitInitialized(ctx context.Context) error {
	select {
	case <-m.bootDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Watch は状態変化の購読を開始する。直後に現在の状態が配信される。
// 受信が遅い購読者には最新の状態のみを残す。
func (m *Manager) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, watcherBuffer)

	m.mu.Lock()
	id := m.nextWatch
	m.nextWatch++
	ch <- m.snapshotLocked()
	if m.stopped {
		close(ch)
		m.mu.Unlock()
		return ch, func() {}
	}
	m.watchers[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if w, ok := m.watchers[id]; ok {
			delete(m.watchers, id)
			close(w)
		}
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:       m.state,
		Loading:     m.state == StateLoading,
		Initialized: m.source != bootNone,
		Session:     m.session,
	}
	if m.session != nil {
		u := m.session.User
		snap.User = &u
	}
	return snap
}

func (m *Manager) broadcastLocked() {
	snap := m.snapshotLocked()
	for _, ch := range m.watchers {
		select {
		case ch <- snap:
		default:
			// 古い状態を1件捨てて最新を入れる
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (m *Manager) redirect(path string) string {
	if m.cfg.SiteURL == "" {
		return ""
	}
	return m.cfg.SiteURL + path
}

// reason はユーザー向けに表示する失敗理由を返す。
func reason(err error) string {
	var be *backend.Error
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "délai dépassé"
	}
	return "service indisponible"
}
