package directory

import (
	"time"

	"github.com/kouame09/225-OS-sub000/internal/model"
)

// projectRow はprojectsテーブルの行。
type projectRow struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	Author      string     `json:"author"`
	Description string     `json:"description"`
	RepoURL     string     `json:"repo_url"`
	Tags        []string   `json:"tags"`
	Stars       int        `json:"stars"`
	Forks       int        `json:"forks"`
	Language    string     `json:"language"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	ImageURL    *string    `json:"image_url"`
	Slug        string     `json:"slug"`
	UserID      string     `json:"user_id"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

func (r projectRow) toProject() model.Project {
	p := model.Project{
		ID:          r.ID,
		Name:        r.Name,
		Author:      r.Author,
		Description: r.Description,
		RepoURL:     r.RepoURL,
		Tags:        r.Tags,
		Stars:       r.Stars,
		Forks:       r.Forks,
		Language:    r.Language,
		Slug:        r.Slug,
		OwnerID:     r.UserID,
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if r.LastUpdated != nil {
		p.LastUpdated = *r.LastUpdated
	}
	if r.ImageURL != nil {
		p.ImageURL = *r.ImageURL
	}
	if r.CreatedAt != nil {
		p.CreatedAt = *r.CreatedAt
	}
	return p
}

func toProjects(rows []projectRow) []model.Project {
	out := make([]model.Project, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toProject())
	}
	return out
}

// newProjectRow は登録入力を挿入用の行に変換する。
func newProjectRow(in model.NewProject, slug, ownerID string) projectRow {
	row := projectRow{
		Name:        in.Name,
		Author:      in.Author,
		Description: in.Description,
		RepoURL:     in.RepoURL,
		Tags:        in.Tags,
		Stars:       in.Stars,
		Forks:       in.Forks,
		Language:    in.Language,
		Slug:        slug,
		UserID:      ownerID,
	}
	if row.Tags == nil {
		row.Tags = []string{}
	}
	if !in.LastUpdated.IsZero() {
		t := in.LastUpdated.UTC()
		row.LastUpdated = &t
	}
	if in.ImageURL != "" {
		u := in.ImageURL
		row.ImageURL = &u
	}
	return row
}

// profileRow はprofilesテーブルの行。
type profileRow struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name"`
	Bio         string     `json:"bio"`
	AvatarURL   string     `json:"avatar_url"`
	BannerURL   string     `json:"banner_url"`
	GithubURL   string     `json:"github_url"`
	LinkedinURL string     `json:"linkedin_url"`
	TwitterURL  string     `json:"twitter_url"`
	WebsiteURL  string     `json:"website_url"`
	IsApproved  bool       `json:"is_approved"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

func (r profileRow) toProfile() model.Profile {
	p := model.Profile{
		ID:          r.ID,
		Email:       r.Email,
		FullName:    r.FullName,
		Bio:         r.Bio,
		AvatarURL:   r.AvatarURL,
		BannerURL:   r.BannerURL,
		GithubURL:   r.GithubURL,
		LinkedinURL: r.LinkedinURL,
		TwitterURL:  r.TwitterURL,
		WebsiteURL:  r.WebsiteURL,
		IsApproved:  r.IsApproved,
	}
	if r.CreatedAt != nil {
		p.CreatedAt = *r.CreatedAt
	}
	if r.UpdatedAt != nil {
		p.UpdatedAt = *r.UpdatedAt
	}
	return p
}
