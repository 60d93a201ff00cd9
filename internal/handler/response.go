// Package handler はローカルHTTP APIのハンドラーを提供する。
package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/kouame09/225-OS-sub000/internal/model"
)

// maxJSONBody はJSONリクエストボディの最大バイト数。
const maxJSONBody = 1 << 20

// writeJSON はvをJSONとして書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをvにデコードする。失敗時はINVALID_INPUTを返す。
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return model.NewInvalidInputError("corps de requête JSON invalide")
	}
	return nil
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// projectResponse はプロジェクトのAPIレスポンス。
type projectResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Author      string     `json:"author"`
	Description string     `json:"description"`
	RepoURL     string     `json:"repo_url"`
	Tags        []string   `json:"tags"`
	Stars       int        `json:"stars"`
	Forks       int        `json:"forks"`
	Language    string     `json:"language,omitempty"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	Slug        string     `json:"slug"`
	OwnerID     string     `json:"user_id"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

func toProjectResponse(p model.Project) projectResponse {
	resp := projectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Author:      p.Author,
		Description: p.Description,
		RepoURL:     p.RepoURL,
		Tags:        p.Tags,
		Stars:       p.Stars,
		Forks:       p.Forks,
		Language:    p.Language,
		ImageURL:    p.ImageURL,
		Slug:        p.Slug,
		OwnerID:     p.OwnerID,
		LastUpdated: timePtr(p.LastUpdated),
		CreatedAt:   timePtr(p.CreatedAt),
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	return resp
}

func toProjectResponses(ps []model.Project) []projectResponse {
	out := make([]projectResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, toProjectResponse(p))
	}
	return out
}

// profileResponse はプロフィールのAPIレスポンス。メールアドレスは本人にのみ返す。
type profileResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email,omitempty"`
	FullName    string     `json:"full_name"`
	Bio         string     `json:"bio,omitempty"`
	AvatarURL   string     `json:"avatar_url,omitempty"`
	BannerURL   string     `json:"banner_url,omitempty"`
	GithubURL   string     `json:"github_url,omitempty"`
	LinkedinURL string     `json:"linkedin_url,omitempty"`
	TwitterURL  string     `json:"twitter_url,omitempty"`
	WebsiteURL  string     `json:"website_url,omitempty"`
	IsApproved  bool       `json:"is_approved"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

func toProfileResponse(p model.Profile, self bool) profileResponse {
	resp := profileResponse{
		ID:          p.ID,
		FullName:    p.FullName,
		Bio:         p.Bio,
		AvatarURL:   p.AvatarURL,
		BannerURL:   p.BannerURL,
		GithubURL:   p.GithubURL,
		LinkedinURL: p.LinkedinURL,
		TwitterURL:  p.TwitterURL,
		WebsiteURL:  p.WebsiteURL,
		IsApproved:  p.IsApproved,
		UpdatedAt:   timePtr(p.UpdatedAt),
	}
	if self {
		resp.Email = p.Email
	}
	return resp
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
