package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims はアクセストークンから取り出すクレーム。
type Claims struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

type accessTokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// ParseAccessToken はアクセストークンの署名を検証せずにクレームを取り出す。
// 署名鍵はバックエンドのみが保持するため、検証はバックエンド側に委ねる。
func ParseAccessToken(token string) (*Claims, error) {
	var c accessTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}
	if c.Subject == "" {
		return nil, errors.New("access token has no subject")
	}

	claims := &Claims{UserID: c.Subject, Email: c.Email}
	if c.ExpiresAt != nil {
		claims.ExpiresAt = c.ExpiresAt.Time
	}
	return claims, nil
}
