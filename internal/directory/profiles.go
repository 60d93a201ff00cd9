package directory

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kouame09/225-OS-sub000/internal/backend"
	"github.com/kouame09/225-OS-sub000/internal/model"
)

// GetProfile はユーザーIDでプロフィールを取得する。存在しない場合は(nil, nil)を返す。
// 未承認のプロフィールは本人にしか見えないため、サインイン中はそのトークンで参照する。
func (s *Service) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	if id == "" {
		return nil, nil
	}

	var rows []profileRow
	err := s.api.Do(ctx, backend.Request{
		Op:     "profiles.get",
		Method: http.MethodGet,
		Path:   profilesPath,
		Token:  s.token(ctx),
		Query: url.Values{
			"id":     {backend.Eq(id)},
			"select": {"*"},
			"limit":  {"1"},
		},
	}, &rows)
	if backend.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	p := rows[0].toProfile()
	return &p, nil
}

// CreatePendingProfile は未承認のプロフィールを作成する。
// 同じIDの行が既に存在する場合は挿入せずfalseを返す。
func (s *Service) CreatePendingProfile(ctx context.Context, p *model.Profile) (bool, error) {
	var rows []profileRow
	err := s.api.Do(ctx, backend.Request{
		Op:     "profiles.insert",
		Method: http.MethodPost,
		Path:   profilesPath,
		Token:  s.token(ctx),
		Prefer: "resolution=ignore-duplicates," + preferRepresentation,
		Body: map[string]any{
			"id":          p.ID,
			"email":       p.Email,
			"is_approved": false,
		},
	}, &rows)
	if backend.IsConflict(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert profile %s: %w", p.ID, err)
	}
	return len(rows) > 0, nil
}

// UpdateProfile はプロフィールの表示用フィールドを更新する。nilのフィールドは変更しない。
func (s *Service) UpdateProfile(ctx context.Context, id string, upd model.ProfileUpdate) (*model.Profile, error) {
	if id == "" {
		return nil, model.NewUnauthorizedError()
	}

	body := map[string]any{}
	if upd.FullName != nil {
		// 空の名前はNULLで保存し、人材一覧に載せない
		if name := strings.TrimSpace(s.plain(*upd.FullName)); name != "" {
			body["full_name"] = name
		} else {
			body["full_name"] = nil
		}
	}
	if upd.Bio != nil {
		body["bio"] = s.plain(*upd.Bio)
	}
	links := map[string]*string{
		"avatar_url":   upd.AvatarURL,
		"banner_url":   upd.BannerURL,
		"github_url":   upd.GithubURL,
		"linkedin_url": upd.LinkedinURL,
		"twitter_url":  upd.TwitterURL,
		"website_url":  upd.WebsiteURL,
	}
	for col, v := range links {
		if v == nil {
			continue
		}
		link := strings.TrimSpace(*v)
		if link != "" {
			if err := s.validateURL(link); err != nil {
				return nil, model.NewInvalidURLError(link)
			}
		}
		body[col] = link
	}
	if len(body) == 0 {
		return nil, model.NewInvalidInputError("aucune modification")
	}
	body["updated_at"] = time.Now().UTC()

	var rows []profileRow
	err := s.api.Do(ctx, backend.Request{
		Op:     "profiles.update",
		Method: http.MethodPatch,
		Path:   profilesPath,
		Query:  url.Values{"id": {backend.Eq(id)}},
		Token:  s.token(ctx),
		Prefer: preferRepresentation,
		Body:   body,
	}, &rows)
	if backend.IsUnauthorized(err) {
		return nil, model.NewWriteRejectedError("profile")
	}
	if err != nil {
		return nil, fmt.Errorf("update profile %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, model.NewWriteRejectedError("profile")
	}
	p := rows[0].toProfile()
	return &p, nil
}

// ListTalents は名前が設定された承認済みメンバーを名前順に返す。
func (s *Service) ListTalents(ctx context.Context) ([]model.Profile, error) {
	var rows []profileRow
	err := s.api.Do(ctx, backend.Request{
		Op:     "profiles.talents",
		Method: http.MethodGet,
		Path:   profilesPath,
		Query: url.Values{
			"select":      {"*"},
			"is_approved": {"eq.true"},
			"full_name":   {"not.is.null", "neq."},
			"order":       {"full_name.asc"},
		},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("list talents: %w", err)
	}

	out := make([]model.Profile, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toProfile())
	}
	return out, nil
}
