package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kouame09/225-OS-sub000/internal/directory"
	"github.com/kouame09/225-OS-sub000/internal/model"
)

// mockProjectService はProjectServiceのモック実装。
type mockProjectService struct {
	listAllFn     func(ctx context.Context) ([]model.Project, error)
	listByOwnerFn func(ctx context.Context, ownerID string) ([]model.Project, error)
	getByIDFn     func(ctx context.Context, id string) (*model.Project, error)
	getBySlugFn   func(ctx context.Context, slug string) (*model.Project, error)
	createFn      func(ctx context.Context, ownerID string, in model.NewProject) (*model.Project, error)
	updateFn      func(ctx context.Context, id string, upd model.ProjectUpdate) (*model.Project, error)
	deleteFn      func(ctx context.Context, id string) error
	syncFn        func(ctx context.Context, p *model.Project) directory.StatsUpdate
}

var _ ProjectService = (*mockProjectService)(nil)
var _ ProjectService = (*directory.Service)(nil)

func (m *mockProjectService) ListAll(ctx context.Context) ([]model.Project, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return nil, nil
}

func (m *mockProjectService) ListByOwner(ctx context.Context, ownerID string) ([]model.Project, error) {
	if m.listByOwnerFn != nil {
		return m.listByOwnerFn(ctx, ownerID)
	}
	return nil, nil
}

func (m *mockProjectService) GetByID(ctx context.Context, id string) (*model.Project, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockProjectService) GetBySlug(ctx context.Context, slug string) (*model.Project, error) {
	if m.getBySlugFn != nil {
		return m.getBySlugFn(ctx, slug)
	}
	return nil, nil
}

func (m *mockProjectService) Create(ctx context.Context, ownerID string, in model.NewProject) (*model.Project, error) {
	if m.createFn != nil {
		return m.createFn(ctx, ownerID, in)
	}
	return nil, nil
}

func (m *mockProjectService) Update(ctx context.Context, id string, upd model.ProjectUpdate) (*model.Project, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, upd)
	}
	return nil, nil
}

func (m *mockProjectService) RemoveFrom(ctx context.Context, list *directory.ProjectList, id string) error {
	if m.deleteFn != nil {
		if err := m.deleteFn(ctx, id); err != nil {
			return err
		}
	}
	list.Remove(id)
	return nil
}

func (m *mockProjectService) SyncStats(ctx context.Context, p *model.Project) directory.StatsUpdate {
	if m.syncFn != nil {
		return m.syncFn(ctx, p)
	}
	return directory.StatsUpdate{}
}

func TestProjectHandler_List(t *testing.T) {
	svc := &mockProjectService{
		listAllFn: func(ctx context.Context) ([]model.Project, error) {
			return []model.Project{{ID: "p1", Name: "Akwaba", Slug: "akwaba"}, {ID: "p2", Name: "Garba", Slug: "garba"}}, nil
		},
	}
	h := NewProjectHandler(svc, nil)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/projects", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got []projectResponse
	decodeBody(t, w, &got)
	if len(got) != 2 || got[0].Slug != "akwaba" {
		t.Errorf("got = %+v", got)
	}
	if got[0].Tags == nil {
		t.Error("タグ未設定でも空配列を返すべき")
	}
}

func TestProjectHandler_List_BackendFailure(t *testing.T) {
	svc := &mockProjectService{
		listAllFn: func(ctx context.Context) ([]model.Project, error) {
			return nil, errors.New("connection refused")
		},
	}
	h := NewProjectHandler(svc, nil)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/api/projects", nil))

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
}

func TestProjectHandler_Get_NotFound(t *testing.T) {
	h := NewProjectHandler(&mockProjectService{}, nil)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/projects/missing", nil), "id", "missing")
	w := httptest.NewRecorder()
	h.Get(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if body := parseAPIErrorResponse(t, w); body.Code != model.ErrCodeProjectNotFound {
		t.Errorf("code = %q", body.Code)
	}
}

func TestProjectHandler_GetBySlug(t *testing.T) {
	svc := &mockProjectService{
		getBySlugFn: func(ctx context.Context, slug string) (*model.Project, error) {
			if slug != "attieke-api" {
				t.Errorf("slug = %q", slug)
			}
			return &model.Project{ID: "p9", Slug: slug, OwnerID: "user-1"}, nil
		},
	}
	h := NewProjectHandler(svc, nil)

	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/projects/slug/attieke-api", nil), "slug", "attieke-api")
	w := httptest.NewRecorder()
	h.GetBySlug(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got projectResponse
	decodeBody(t, w, &got)
	if got.ID != "p9" || got.OwnerID != "user-1" {
		t.Errorf("got = %+v", got)
	}
}

func TestProjectHandler_Create(t *testing.T) {
	svc := &mockProjectService{
		createFn: func(ctx context.Context, ownerID string, in model.NewProject) (*model.Project, error) {
			if ownerID != "user-1" {
				t.Errorf("ownerID = %q, want user-1", ownerID)
			}
			if in.Name != "Zouglou UI" || in.RepoURL != "https://github.com/a/zouglou" || len(in.Tags) != 2 {
				t.Errorf("in = %+v", in)
			}
			return &model.Project{ID: "p1", Name: in.Name, Slug: "zouglou-ui", OwnerID: ownerID}, nil
		},
	}
	h := NewProjectHandler(svc, nil)

	body := `{"name":"Zouglou UI","author":"Ama","description":"d","repo_url":"https://github.com/a/zouglou","tags":["go","ui"]}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader(body)), "user-1")
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if items := h.mine.Items(); len(items) != 1 || items[0].ID != "p1" {
		t.Errorf("作成したプロジェクトが自分の一覧に反映されていない: %+v", items)
	}
}

func TestProjectHandler_Create_UnknownField(t *testing.T) {
	h := NewProjectHandler(&mockProjectService{}, nil)

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader(`{"name":"x","slug":"forced"}`)), "user-1")
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("未知のフィールドは400: status = %d", w.Code)
	}
}

func TestProjectHandler_Update_Rejected(t *testing.T) {
	svc := &mockProjectService{
		updateFn: func(ctx context.Context, id string, upd model.ProjectUpdate) (*model.Project, error) {
			return nil, model.NewWriteRejectedError("project")
		},
	}
	h := NewProjectHandler(svc, nil)

	req := httptest.NewRequest(http.MethodPatch, "/api/projects/p1", strings.NewReader(`{"name":"n","author":"a","description":"d","tags":[]}`))
	req = withChiURLParam(withUser(req, "intruder"), "id", "p1")
	w := httptest.NewRecorder()
	h.Update(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestProjectHandler_Delete_RemovesFromOwnList(t *testing.T) {
	svc := &mockProjectService{
		listByOwnerFn: func(ctx context.Context, ownerID string) ([]model.Project, error) {
			return []model.Project{{ID: "p1"}, {ID: "p2"}}, nil
		},
	}
	h := NewProjectHandler(svc, nil)

	w := httptest.NewRecorder()
	h.ListMine(w, withUser(httptest.NewRequest(http.MethodGet, "/api/me/projects", nil), "user-1"))
	if w.Code != http.StatusOK {
		t.Fatalf("ListMine status = %d", w.Code)
	}

	req := withChiURLParam(withUser(httptest.NewRequest(http.MethodDelete, "/api/projects/p1", nil), "user-1"), "id", "p1")
	w = httptest.NewRecorder()
	h.Delete(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	items := h.mine.Items()
	if len(items) != 1 || items[0].ID != "p2" {
		t.Errorf("削除後の一覧 = %+v", items)
	}
}

func TestProjectHandler_Delete_FailureKeepsList(t *testing.T) {
	svc := &mockProjectService{
		deleteFn: func(ctx context.Context, id string) error {
			return model.NewWriteRejectedError("project")
		},
	}
	h := NewProjectHandler(svc, nil)
	h.mine.Upsert(model.Project{ID: "p1"})

	req := withChiURLParam(httptest.NewRequest(http.MethodDelete, "/api/projects/p1", nil), "id", "p1")
	w := httptest.NewRecorder()
	h.Delete(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if len(h.mine.Items()) != 1 {
		t.Error("削除に失敗した場合は一覧を変更しない")
	}
}

func TestProjectHandler_ListMine_UserSwitchDropsPreviousList(t *testing.T) {
	svc := &mockProjectService{
		listByOwnerFn: func(ctx context.Context, ownerID string) ([]model.Project, error) {
			if ownerID == "user-1" {
				return []model.Project{{ID: "p1", OwnerID: ownerID}}, nil
			}
			return []model.Project{}, nil
		},
	}
	h := NewProjectHandler(svc, nil)

	w := httptest.NewRecorder()
	h.ListMine(w, withUser(httptest.NewRequest(http.MethodGet, "/api/me/projects", nil), "user-1"))
	if w.Code != http.StatusOK || len(h.mine.Items()) != 1 {
		t.Fatalf("status = %d items = %+v", w.Code, h.mine.Items())
	}

	w = httptest.NewRecorder()
	h.ListMine(w, withUser(httptest.NewRequest(http.MethodGet, "/api/me/projects", nil), "user-2"))
	var got []projectResponse
	decodeBody(t, w, &got)
	if len(got) != 0 {
		t.Errorf("別ユーザーのプロジェクトが返された: %+v", got)
	}
}

func TestProjectHandler_ResetMine(t *testing.T) {
	h := NewProjectHandler(&mockProjectService{}, nil)
	h.listFor(model.User{ID: "user-1"}).Upsert(model.Project{ID: "p1"})

	h.ResetMine()
	if len(h.mine.Items()) != 0 || h.mine.Owner() != "" {
		t.Errorf("サインアウト後は一覧を破棄すべき: owner=%q items=%+v", h.mine.Owner(), h.mine.Items())
	}
}

func TestProjectHandler_ListMine_Failure(t *testing.T) {
	svc := &mockProjectService{
		listByOwnerFn: func(ctx context.Context, ownerID string) ([]model.Project, error) {
			return nil, errors.New("timeout")
		},
	}
	h := NewProjectHandler(svc, nil)

	w := httptest.NewRecorder()
	h.ListMine(w, withUser(httptest.NewRequest(http.MethodGet, "/api/me/projects", nil), "user-1"))

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
}

func TestProjectHandler_Sync(t *testing.T) {
	stars := 12
	svc := &mockProjectService{
		getByIDFn: func(ctx context.Context, id string) (*model.Project, error) {
			return &model.Project{ID: id, RepoURL: "https://github.com/a/b"}, nil
		},
		syncFn: func(ctx context.Context, p *model.Project) directory.StatsUpdate {
			if p.ID != "p1" {
				t.Errorf("project = %+v", p)
			}
			return directory.StatsUpdate{Stars: &stars, Changed: true, Persisted: true}
		},
	}
	h := NewProjectHandler(svc, nil)

	req := withChiURLParam(withUser(httptest.NewRequest(http.MethodPost, "/api/projects/p1/sync", nil), "user-1"), "id", "p1")
	w := httptest.NewRecorder()
	h.Sync(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got directory.StatsUpdate
	decodeBody(t, w, &got)
	if got.Stars == nil || *got.Stars != 12 || !got.Changed {
		t.Errorf("got = %+v", got)
	}
}

func TestProjectHandler_Sync_TimeoutReturnsEmpty(t *testing.T) {
	svc := &mockProjectService{
		getByIDFn: func(ctx context.Context, id string) (*model.Project, error) {
			return &model.Project{ID: id, RepoURL: "https://github.com/a/b"}, nil
		},
		syncFn: func(ctx context.Context, p *model.Project) directory.StatsUpdate {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("統計値の再取得には期限を設定すべき")
			}
			// レート制限の待機を再現する
			<-ctx.Done()
			return directory.StatsUpdate{}
		},
	}
	h := NewProjectHandler(svc, nil)
	h.syncTimeout = 20 * time.Millisecond

	req := withChiURLParam(withUser(httptest.NewRequest(http.MethodPost, "/api/projects/p1/sync", nil), "user-1"), "id", "p1")
	w := httptest.NewRecorder()
	start := time.Now()
	h.Sync(w, req)

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("待機が打ち切られていない: %v", elapsed)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got directory.StatsUpdate
	decodeBody(t, w, &got)
	if !got.Empty() {
		t.Errorf("期限切れの場合は空の結果を返す: %+v", got)
	}
}

func TestProjectHandler_Sync_NotFound(t *testing.T) {
	h := NewProjectHandler(&mockProjectService{}, nil)

	req := withChiURLParam(httptest.NewRequest(http.MethodPost, "/api/projects/x/sync", nil), "id", "x")
	w := httptest.NewRecorder()
	h.Sync(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
