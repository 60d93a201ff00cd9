// Package model はドメインモデルを定義する。
package model

import "time"

// Project はコミュニティメンバーが登録したオープンソースプロジェクトを表す。
// Stars、Forks、Language、LastUpdatedは外部のリポジトリホストから取得する値で、
// 作成後にユーザーが直接編集することはない。
type Project struct {
	ID          string
	Name        string
	Author      string
	Description string
	RepoURL     string
	Tags        []string
	Stars       int
	Forks       int
	Language    string
	LastUpdated time.Time
	ImageURL    string
	Slug        string
	OwnerID     string
	CreatedAt   time.Time
}

// NewProject はプロジェクト登録時の入力。
type NewProject struct {
	Name        string
	Author      string
	Description string
	RepoURL     string
	Tags        []string
	Stars       int
	Forks       int
	Language    string
	LastUpdated time.Time
	ImageURL    string
}

// ProjectUpdate はオーナーが編集可能なフィールドのみを保持する。
type ProjectUpdate struct {
	Name        string
	Author      string
	Description string
	Tags        []string
}
