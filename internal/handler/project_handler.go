package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kouame09/225-OS-sub000/internal/directory"
	"github.com/kouame09/225-OS-sub000/internal/middleware"
	"github.com/kouame09/225-OS-sub000/internal/model"
)

const (
	// defaultListTimeout は自分のプロジェクト一覧を再取得する際のタイムアウト。
	defaultListTimeout = 10 * time.Second
	// defaultSyncTimeout は統計値の再取得の上限。リポジトリホストのレート制限待ちもここで打ち切る。
	defaultSyncTimeout = 5 * time.Second
)

// ProjectService はプロジェクトハンドラーが必要とするデータアクセス層のインターフェース。
type ProjectService interface {
	ListAll(ctx context.Context) ([]model.Project, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.Project, error)
	GetByID(ctx context.Context, id string) (*model.Project, error)
	GetBySlug(ctx context.Context, slug string) (*model.Project, error)
	Create(ctx context.Context, ownerID string, in model.NewProject) (*model.Project, error)
	Update(ctx context.Context, id string, upd model.ProjectUpdate) (*model.Project, error)
	RemoveFrom(ctx context.Context, list *directory.ProjectList, id string) error
	SyncStats(ctx context.Context, p *model.Project) directory.StatsUpdate
}

// ProjectHandler はプロジェクト管理のHTTPハンドラー。
// サインイン中のユーザーのプロジェクト一覧を保持し、削除を即座に反映する。
type ProjectHandler struct {
	service     ProjectService
	mine        *directory.ProjectList
	listTimeout time.Duration
	syncTimeout time.Duration
	logger      *slog.Logger
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(service ProjectService, logger *slog.Logger) *ProjectHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProjectHandler{
		service:     service,
		mine:        &directory.ProjectList{},
		listTimeout: defaultListTimeout,
		syncTimeout: defaultSyncTimeout,
		logger:      logger,
	}
}

type createProjectRequest struct {
	Name        string    `json:"name"`
	Author      string    `json:"author"`
	Description string    `json:"description"`
	RepoURL     string    `json:"repo_url"`
	Tags        []string  `json:"tags"`
	Stars       int       `json:"stars"`
	Forks       int       `json:"forks"`
	Language    string    `json:"language"`
	LastUpdated time.Time `json:"last_updated"`
	ImageURL    string    `json:"image_url"`
}

type updateProjectRequest struct {
	Name        string   `json:"name"`
	Author      string   `json:"author"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// List は全プロジェクトを返す。
// GET /api/projects
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.service.ListAll(r.Context())
	if err != nil {
		h.logger.Error("プロジェクト一覧の取得に失敗しました", slog.String("error", err.Error()))
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponses(projects))
}

// ListMine はサインイン中のユーザーのプロジェクトを返す。
// 再取得中に削除された項目は結果に含めない。
// GET /api/me/projects
func (h *ProjectHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())
	list := h.listFor(u)

	projects, applied, err := list.Refresh(r.Context(), h.listTimeout, func(ctx context.Context) ([]model.Project, error) {
		return h.service.ListByOwner(ctx, u.ID)
	})
	if err != nil {
		h.logger.Error("自分のプロジェクト一覧の取得に失敗しました",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, err)
		return
	}
	if !applied {
		h.logger.Debug("より新しい一覧の変更があったため取得結果を破棄しました", slog.String("user_id", u.ID))
	}
	writeJSON(w, http.StatusOK, toProjectResponses(projects))
}

// listFor はuserの一覧を返す。別のユーザーの一覧を保持していた場合は空にする。
func (h *ProjectHandler) listFor(u model.User) *directory.ProjectList {
	h.mine.Reset(u.ID)
	return h.mine
}

// ResetMine はサインアウト時に自分のプロジェクト一覧を破棄する。
func (h *ProjectHandler) ResetMine() {
	h.mine.Reset("")
}

// Get はIDでプロジェクトを返す。
// GET /api/projects/{id}
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.service.GetByID(r.Context(), id)
	writeProject(w, id, p, err)
}

// GetBySlug はスラッグでプロジェクトを返す。
// GET /api/projects/slug/{slug}
func (h *ProjectHandler) GetBySlug(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	p, err := h.service.GetBySlug(r.Context(), slug)
	writeProject(w, slug, p, err)
}

func writeProject(w http.ResponseWriter, ref string, p *model.Project, err error) {
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if p == nil {
		middleware.WriteError(w, model.NewProjectNotFoundError(ref))
		return
	}
	writeJSON(w, http.StatusOK, toProjectResponse(*p))
}

// Create はプロジェクトを登録する。
// POST /api/projects
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())

	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	p, err := h.service.Create(r.Context(), u.ID, model.NewProject{
		Name:        req.Name,
		Author:      req.Author,
		Description: req.Description,
		RepoURL:     req.RepoURL,
		Tags:        req.Tags,
		Stars:       req.Stars,
		Forks:       req.Forks,
		Language:    req.Language,
		LastUpdated: req.LastUpdated,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.listFor(u).Upsert(*p)
	writeJSON(w, http.StatusCreated, toProjectResponse(*p))
}

// Update はプロジェクトの名前・作者・説明・タグを更新する。
// PATCH /api/projects/{id}
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())

	var req updateProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	p, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), model.ProjectUpdate{
		Name:        req.Name,
		Author:      req.Author,
		Description: req.Description,
		Tags:        req.Tags,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.listFor(u).Upsert(*p)
	writeJSON(w, http.StatusOK, toProjectResponse(*p))
}

// Delete はプロジェクトを削除し、自分のプロジェクト一覧からも除く。
// DELETE /api/projects/{id}
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())
	if err := h.service.RemoveFrom(r.Context(), h.listFor(u), chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync はリポジトリホストから統計値を再取得する。取得に失敗しても200で空の結果を返す。
// POST /api/projects/{id}/sync
func (h *ProjectHandler) Sync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if p == nil {
		middleware.WriteError(w, model.NewProjectNotFoundError(id))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.syncTimeout)
	defer cancel()
	writeJSON(w, http.StatusOK, h.service.SyncStats(ctx, p))
}
