package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kouame09/225-OS-sub000/internal/directory"
	"github.com/kouame09/225-OS-sub000/internal/middleware"
	"github.com/kouame09/225-OS-sub000/internal/model"
)

// uploadFormField はアップロードするファイルのフォームフィールド名。
const uploadFormField = "file"

// ProfileService はプロフィールハンドラーが必要とするデータアクセス層のインターフェース。
type ProfileService interface {
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	UpdateProfile(ctx context.Context, id string, upd model.ProfileUpdate) (*model.Profile, error)
	ListTalents(ctx context.Context) ([]model.Profile, error)
	UploadImage(ctx context.Context, filename string, body io.Reader) (string, error)
}

// ProfileHandler はプロフィールと画像アップロードのHTTPハンドラー。
type ProfileHandler struct {
	service ProfileService
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(service ProfileService) *ProfileHandler {
	return &ProfileHandler{service: service}
}

type updateProfileRequest struct {
	FullName    *string `json:"full_name"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatar_url"`
	BannerURL   *string `json:"banner_url"`
	GithubURL   *string `json:"github_url"`
	LinkedinURL *string `json:"linkedin_url"`
	TwitterURL  *string `json:"twitter_url"`
	WebsiteURL  *string `json:"website_url"`
}

// Talents は承認済みメンバーの一覧を返す。
// GET /api/talents
func (h *ProfileHandler) Talents(w http.ResponseWriter, r *http.Request) {
	talents, err := h.service.ListTalents(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	out := make([]profileResponse, 0, len(talents))
	for _, p := range talents {
		out = append(out, toProfileResponse(p, false))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get はプロフィールを返す。
// GET /api/profiles/{id}
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := h.service.GetProfile(r.Context(), id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if p == nil {
		middleware.WriteError(w, model.NewProfileNotFoundError(id))
		return
	}
	u, _ := middleware.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, toProfileResponse(*p, u.ID == p.ID))
}

// UpdateMe はサインイン中のユーザーのプロフィールを更新する。
// PATCH /api/profiles/me
func (h *ProfileHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.UserFromContext(r.Context())

	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	p, err := h.service.UpdateProfile(r.Context(), u.ID, model.ProfileUpdate{
		FullName:    req.FullName,
		Bio:         req.Bio,
		AvatarURL:   req.AvatarURL,
		BannerURL:   req.BannerURL,
		GithubURL:   req.GithubURL,
		LinkedinURL: req.LinkedinURL,
		TwitterURL:  req.TwitterURL,
		WebsiteURL:  req.WebsiteURL,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(*p, true))
}

// Upload はmultipart/form-dataの画像を保存し、公開URLを返す。
// POST /api/uploads
func (h *ProfileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// フォームのオーバーヘッド分を上乗せして制限する
	r.Body = http.MaxBytesReader(w, r.Body, directory.MaxImageSize+(64<<10))

	file, header, err := r.FormFile(uploadFormField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, model.NewInvalidInputError("image trop volumineuse (5 Mo maximum)"))
			return
		}
		middleware.WriteError(w, model.NewInvalidInputError("fichier manquant"))
		return
	}
	defer file.Close()

	publicURL, err := h.service.UploadImage(r.Context(), header.Filename, file)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": publicURL})
}
