// Package middleware はローカルHTTP APIのミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"

	"github.com/kouame09/225-OS-sub000/internal/model"
	"github.com/kouame09/225-OS-sub000/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
	userContextKey = contextKey("user")
	// requestInfoContextKey はアクセスログ用のリクエスト情報を格納するためのキー。
	requestInfoContextKey = contextKey("request_info")
)

// SnapshotSource は現在のセッション状態を返す。session.Managerが実装する。
type SnapshotSource interface {
	Snapshot() session.Snapshot
}

// NewSessionMiddleware はセッション管理から現在のユーザーを読み取り、
// サインイン中であればリクエストコンテキストに注入するミドルウェアを返す。
// 未認証のリクエストもそのまま通す。
func NewSessionMiddleware(src SnapshotSource) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := src.Snapshot()
			if snap.Authenticated() && snap.User != nil {
				setRequestUser(r.Context(), snap.User.ID)
				r = r.WithContext(ContextWithUser(r.Context(), *snap.User))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession はサインインしていないリクエストに401を返すミドルウェア。
// NewSessionMiddlewareの後に配置する。
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func UserFromContext(ctx context.Context) (model.User, bool) {
	u, ok := ctx.Value(userContextKey).(model.User)
	if !ok || u.ID == "" {
		return model.User{}, false
	}
	return u, true
}

// ContextWithUser はコンテキストに認証済みユーザーを注入する。
func ContextWithUser(ctx context.Context, u model.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}
