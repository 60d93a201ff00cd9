package handler

import (
	"context"
	"net/http"

	"github.com/kouame09/225-OS-sub000/internal/middleware"
	"github.com/kouame09/225-OS-sub000/internal/model"
	"github.com/kouame09/225-OS-sub000/internal/session"
)

// AuthService は認証ハンドラーが必要とするセッション管理のインターフェース。
type AuthService interface {
	SignIn(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password string) (*model.Session, error)
	OAuthURL(provider string) string
	CompleteOAuth(ctx context.Context, accessToken, refreshToken string) (*model.Session, error)
	ResetPassword(ctx context.Context, email string) error
	SignOut(ctx context.Context)
	Snapshot() session.Snapshot
}

// oauthProviders はサインインに利用できるOAuthプロバイダー。
var oauthProviders = map[string]bool{"github": true}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service   AuthService
	onSignOut []func()
}

// NewAuthHandler はAuthHandlerを生成する。
// onSignOutはサインアウト後に呼ばれる。
func NewAuthHandler(service AuthService, onSignOut ...func()) *AuthHandler {
	return &AuthHandler{service: service, onSignOut: onSignOut}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type oauthCallbackRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type signUpResponse struct {
	User                *userResponse `json:"user,omitempty"`
	ConfirmationPending bool          `json:"confirmation_pending"`
}

// Login はメールアドレスとパスワードでサインインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	s, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{ID: s.User.ID, Email: s.User.Email})
}

// SignUp はアカウントを登録する。メール確認待ちの場合は202を返す。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	s, err := h.service.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if s == nil {
		writeJSON(w, http.StatusAccepted, signUpResponse{ConfirmationPending: true})
		return
	}
	writeJSON(w, http.StatusCreated, signUpResponse{User: &userResponse{ID: s.User.ID, Email: s.User.Email}})
}

// OAuthLogin はOAuthプロバイダーの認可画面にリダイレクトする。
// GET /auth/oauth/{provider}
func (h *AuthHandler) OAuthLogin(provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !oauthProviders[provider] {
			middleware.WriteError(w, model.NewInvalidInputError("fournisseur inconnu"))
			return
		}
		http.Redirect(w, r, h.service.OAuthURL(provider), http.StatusTemporaryRedirect)
	}
}

// OAuthCallback はOAuthリダイレクトのフラグメントから取り出したトークンでセッションを確立する。
// POST /auth/callback
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	var req oauthCallbackRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	s, err := h.service.CompleteOAuth(r.Context(), req.AccessToken, req.RefreshToken)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{ID: s.User.ID, Email: s.User.Email})
}

// ResetPassword はパスワードリセットメールを送信する。
// POST /auth/reset
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if err := h.service.ResetPassword(r.Context(), req.Email); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Logout はサインアウトする。リモートの失敗に関わらずローカルのセッションは消去される。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.SignOut(r.Context())
	for _, fn := range h.onSignOut {
		fn()
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me はサインイン中のユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	writeJSON(w, http.StatusOK, userResponse{ID: u.ID, Email: u.Email})
}

// State は現在のセッション状態を返す。UIは初期化完了までローディング表示を続ける。
// GET /auth/state
func (h *AuthHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Snapshot())
}
