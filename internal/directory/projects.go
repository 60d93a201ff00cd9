package directory

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/kouame09/225-OS-sub000/internal/backend"
	"github.com/kouame09/225-OS-sub000/internal/model"
)

const (
	preferRepresentation = "return=representation"
	// maxSlugAttempts は同時登録でスラッグが衝突した場合の再試行回数。
	maxSlugAttempts = 3
	maxTags         = 10
)

// ListAll は全プロジェクトを登録日時の新しい順に返す。
func (s *Service) ListAll(ctx context.Context) ([]model.Project, error) {
	return s.listProjects(ctx, "projects.list", url.Values{})
}

// ListByOwner は指定ユーザーが所有するプロジェクトを登録日時の新しい順に返す。
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]model.Project, error) {
	if ownerID == "" {
		return nil, model.NewUnauthorizedError()
	}
	return s.listProjects(ctx, "projects.list_by_owner", url.Values{"user_id": {backend.Eq(ownerID)}})
}

func (s *Service) listProjects(ctx context.Context, op string, q url.Values) ([]model.Project, error) {
	q.Set("select", "*")
	q.Set("order", "created_at.desc")

	var rows []projectRow
	err := s.api.Do(ctx, backend.Request{Op: op, Method: http.MethodGet, Path: projectsPath, Query: q}, &rows)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return toProjects(rows), nil
}

// GetByID はIDでプロジェクトを取得する。存在しない場合は(nil, nil)を返す。
func (s *Service) GetByID(ctx context.Context, id string) (*model.Project, error) {
	return s.getProject(ctx, "projects.get", "id", id)
}

// GetBySlug はスラッグでプロジェクトを取得する。存在しない場合は(nil, nil)を返す。
func (s *Service) GetBySlug(ctx context.Context, slug string) (*model.Project, error) {
	return s.getProject(ctx, "projects.get_by_slug", "slug", slug)
}

func (s *Service) getProject(ctx context.Context, op, column, value string) (*model.Project, error) {
	if value == "" {
		return nil, nil
	}

	var rows []projectRow
	err := s.api.Do(ctx, backend.Request{
		Op:     op,
		Method: http.MethodGet,
		Path:   projectsPath,
		Query: url.Values{
			"select": {"*"},
			column:   {backend.Eq(value)},
			"limit":  {"1"},
		},
	}, &rows)
	if backend.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project by %s: %w", column, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	p := rows[0].toProject()
	return &p, nil
}

// Create はプロジェクトを登録する。スラッグは名前から生成し、重複時は連番を付与する。
func (s *Service) Create(ctx context.Context, ownerID string, in model.NewProject) (*model.Project, error) {
	if ownerID == "" {
		return nil, model.NewUnauthorizedError()
	}
	in, err := s.normalizeNewProject(in)
	if err != nil {
		return nil, err
	}

	token := s.token(ctx)
	base := Slugify(in.Name)

	for attempt := 1; ; attempt++ {
		slug, err := s.uniqueSlug(ctx, base)
		if err != nil {
			return nil, err
		}

		var rows []projectRow
		err = s.api.Do(ctx, backend.Request{
			Op:     "projects.create",
			Method: http.MethodPost,
			Path:   projectsPath,
			Token:  token,
			Prefer: preferRepresentation,
			Body:   newProjectRow(in, slug, ownerID),
		}, &rows)
		if backend.IsConflict(err) && attempt < maxSlugAttempts {
			s.logger.Info("スラッグが同時登録と衝突したため再試行します", slog.String("slug", slug), slog.Int("attempt", attempt))
			continue
		}
		if backend.IsUnauthorized(err) {
			return nil, model.NewWriteRejectedError("project")
		}
		if err != nil {
			return nil, fmt.Errorf("create project: %w", err)
		}
		if len(rows) == 0 {
			return nil, model.NewWriteRejectedError("project")
		}

		p := rows[0].toProject()
		s.logger.Info("プロジェクトを登録しました", slog.String("project_id", p.ID), slog.String("slug", p.Slug))
		return &p, nil
	}
}

func (s *Service) normalizeNewProject(in model.NewProject) (model.NewProject, error) {
	in.Name = s.plain(in.Name)
	in.Author = s.plain(in.Author)
	in.Description = s.plain(in.Description)
	in.RepoURL = strings.TrimSpace(in.RepoURL)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	in.Tags = normalizeTags(in.Tags)

	if in.Name == "" {
		return in, model.NewInvalidInputError("le nom du projet est requis")
	}
	if in.RepoURL == "" {
		return in, model.NewInvalidInputError("l'URL du dépôt est requise")
	}
	if err := s.validateURL(in.RepoURL); err != nil {
		return in, model.NewInvalidURLError(in.RepoURL)
	}
	if in.ImageURL != "" {
		if err := s.validateURL(in.ImageURL); err != nil {
			return in, model.NewInvalidURLError(in.ImageURL)
		}
	}
	if len(in.Tags) > maxTags {
		return in, model.NewInvalidInputError(fmt.Sprintf("%d technologies maximum", maxTags))
	}
	return in, nil
}

// normalizeTags は前後の空白を除き、空文字列と重複を取り除く。
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Update はオーナーが編集可能なフィールド（名前・作者・説明・タグ）のみを更新する。
// 行レベルポリシーで更新されなかった場合はWRITE_REJECTEDを返す。
func (s *Service) Update(ctx context.Context, id string, upd model.ProjectUpdate) (*model.Project, error) {
	upd.Name = s.plain(upd.Name)
	upd.Author = s.plain(upd.Author)
	upd.Description = s.plain(upd.Description)
	upd.Tags = normalizeTags(upd.Tags)
	if upd.Name == "" {
		return nil, model.NewInvalidInputError("le nom du projet est requis")
	}
	if len(upd.Tags) > maxTags {
		return nil, model.NewInvalidInputError(fmt.Sprintf("%d technologies maximum", maxTags))
	}

	var rows []projectRow
	err := s.api.Do(ctx, backend.Request{
		Op:     "projects.update",
		Method: http.MethodPatch,
		Path:   projectsPath,
		Query:  url.Values{"id": {backend.Eq(id)}},
		Token:  s.token(ctx),
		Prefer: preferRepresentation,
		Body: map[string]any{
			"name":        upd.Name,
			"author":      upd.Author,
			"description": upd.Description,
			"tags":        upd.Tags,
		},
	}, &rows)
	if backend.IsUnauthorized(err) {
		return nil, model.NewWriteRejectedError("project")
	}
	if err != nil {
		return nil, fmt.Errorf("update project %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, model.NewWriteRejectedError("project")
	}
	p := rows[0].toProject()
	return &p, nil
}

// Delete はプロジェクトを削除する。表示中の一覧からの除去は呼び出し側が行う。
func (s *Service) Delete(ctx context.Context, id string) error {
	var rows []struct {
		ID string `json:"id"`
	}
	err := s.api.Do(ctx, backend.Request{
		Op:     "projects.delete",
		Method: http.MethodDelete,
		Path:   projectsPath,
		Query:  url.Values{"id": {backend.Eq(id)}, "select": {"id"}},
		Token:  s.token(ctx),
		Prefer: preferRepresentation,
	}, &rows)
	if backend.IsUnauthorized(err) {
		return model.NewWriteRejectedError("project")
	}
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	if len(rows) == 0 {
		return model.NewWriteRejectedError("project")
	}
	s.logger.Info("プロジェクトを削除しました", slog.String("project_id", id))
	return nil
}

// RemoveFrom はプロジェクトを削除し、成功した場合にlistからも除去する。
func (s *Service) RemoveFrom(ctx context.Context, list *ProjectList, id string) error {
	if err := s.Delete(ctx, id); err != nil {
		return err
	}
	list.Remove(id)
	return nil
}
