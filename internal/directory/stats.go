package directory

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/kouame09/225-OS-sub000/internal/backend"
	"github.com/kouame09/225-OS-sub000/internal/model"
)

// StatsUpdate はリポジトリホストから取得した最新の統計値。
// 取得に失敗した場合は全フィールドがnilの空の値になる。
type StatsUpdate struct {
	Stars       *int       `json:"stars,omitempty"`
	Forks       *int       `json:"forks,omitempty"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	// Changed は保存済みの値と異なっていたか。
	Changed bool `json:"changed"`
	// Persisted は変更をテーブルに保存できたか。
	Persisted bool `json:"persisted"`
}

// Empty は統計値を取得できなかったかを返す。
func (u StatsUpdate) Empty() bool {
	return u.Stars == nil && u.Forks == nil && u.LastUpdated == nil
}

// RefreshStats はリポジトリホストから統計値を取得し、変更があればテーブルを更新する。
// 取得に失敗した場合のみエラーを返す。更新が拒否されても取得した値は返す。
func (s *Service) RefreshStats(ctx context.Context, p *model.Project) (StatsUpdate, error) {
	if s.stats == nil {
		return StatsUpdate{}, fmt.Errorf("stats fetcher not configured")
	}

	repo, err := s.stats.GetRepositoryByURL(ctx, p.RepoURL)
	if err != nil {
		return StatsUpdate{}, fmt.Errorf("fetch stats for %s: %w", p.ID, err)
	}

	stars, forks, last := repo.Stars, repo.Forks, repo.LastActivity().UTC()
	upd := StatsUpdate{Stars: &stars, Forks: &forks, LastUpdated: &last}
	upd.Changed = stars != p.Stars || forks != p.Forks || !last.Equal(p.LastUpdated)
	if !upd.Changed {
		return upd, nil
	}

	var rows []struct {
		ID string `json:"id"`
	}
	err = s.api.Do(ctx, backend.Request{
		Op:     "projects.sync_stats",
		Method: http.MethodPatch,
		Path:   projectsPath,
		Query:  url.Values{"id": {backend.Eq(p.ID)}, "select": {"id"}},
		Token:  s.token(ctx),
		Prefer: preferRepresentation,
		Body: map[string]any{
			"stars":        stars,
			"forks":        forks,
			"last_updated": last,
		},
	}, &rows)
	if err != nil {
		s.logger.Warn("統計値の保存に失敗しました。取得した値のみ返します",
			slog.String("project_id", p.ID),
			slog.String("error", err.Error()),
		)
		return upd, nil
	}
	upd.Persisted = len(rows) > 0
	if !upd.Persisted {
		s.logger.Debug("統計値の更新は行レベルポリシーにより反映されませんでした", slog.String("project_id", p.ID))
	}
	return upd, nil
}

// SyncStats はRefreshStatsと同じ処理を行うが、失敗時はエラーではなく空のStatsUpdateを返す。
func (s *Service) SyncStats(ctx context.Context, p *model.Project) StatsUpdate {
	upd, err := s.RefreshStats(ctx, p)
	if err != nil {
		s.logger.Warn("統計値の取得に失敗しました",
			slog.String("project_id", p.ID),
			slog.String("error", err.Error()),
		)
		return StatsUpdate{}
	}
	return upd
}
