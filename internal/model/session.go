// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証済みプリンシパルのユーザー情報を表す。
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Session はバックエンドが発行した認証セッションを表す。
// AccessTokenは短命で、RefreshTokenで再発行する。
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         User
}

// Expired はセッションの有効期限がnowからleeway以内に切れるかを返す。
// ExpiresAtがゼロ値の場合は期限不明として期限切れ扱いしない。
func (s *Session) Expired(now time.Time, leeway time.Duration) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(s.ExpiresAt)
}

// AuthEvent は認証SDKが通知する認証状態変化の種類。
type AuthEvent string

const (
	// AuthEventInitialSession は購読開始時に配信される合成イベント。
	AuthEventInitialSession AuthEvent = "INITIAL_SESSION"
	// AuthEventSignedIn はサインイン完了を示す。
	AuthEventSignedIn AuthEvent = "SIGNED_IN"
	// AuthEventSignedOut はサインアウトを示す。
	AuthEventSignedOut AuthEvent = "SIGNED_OUT"
	// AuthEventTokenRefreshed はアクセストークンの再発行を示す。
	AuthEventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// AuthChange は認証状態変化イベントとその時点のセッションを表す。
// SIGNED_OUTではSessionはnil。
type AuthChange struct {
	Event   AuthEvent
	Session *Session
}
