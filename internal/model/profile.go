// Package model はドメインモデルを定義する。
package model

import "time"

// Profile はユーザーIDと1対1で紐づく承認・表示用レコード。
// IsApprovedがfalseの間はセッションを保持できない。
type Profile struct {
	ID          string
	Email       string
	FullName    string
	Bio         string
	AvatarURL   string
	BannerURL   string
	GithubURL   string
	LinkedinURL string
	TwitterURL  string
	WebsiteURL  string
	IsApproved  bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProfileUpdate はプロフィール編集で変更可能なフィールド。
// nilのフィールドは変更しない。
type ProfileUpdate struct {
	FullName    *string
	Bio         *string
	AvatarURL   *string
	BannerURL   *string
	GithubURL   *string
	LinkedinURL *string
	TwitterURL  *string
	WebsiteURL  *string
}
