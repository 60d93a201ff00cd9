package github

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func newTestClient(t *testing.T, handler http.HandlerFunc, token string) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	return NewClient(server.Client(), newTestLogger(&buf), Config{
		Endpoint: server.URL,
		Token:    token,
		Rate:     rate.Inf,
	})
}

func TestClient_GetRepository(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/kouame09/225-os" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer ghp_test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Accept") != "application/vnd.github+json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		w.Write([]byte(`{
			"full_name": "kouame09/225-os",
			"stargazers_count": 42,
			"forks_count": 7,
			"language": "TypeScript",
			"pushed_at": "2026-03-01T10:00:00Z",
			"updated_at": "2026-02-01T10:00:00Z"
		}`))
	}, "ghp_test")

	repo, err := c.GetRepository(context.Background(), "kouame09", "225-os")
	if err != nil {
		t.Fatalf("GetRepository がエラーを返した: %v", err)
	}
	if repo.Stars != 42 || repo.Forks != 7 || repo.Language != "TypeScript" {
		t.Errorf("repo = %+v", repo)
	}
	want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if !repo.LastActivity().Equal(want) {
		t.Errorf("LastActivity = %v, want %v", repo.LastActivity(), want)
	}
}

func TestClient_GetRepository_NoTokenHeaderWhenAnonymous(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("トークン未設定時は Authorization を付与しない: %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"stargazers_count": 1}`))
	}, "")

	if _, err := c.GetRepository(context.Background(), "a", "b"); err != nil {
		t.Fatalf("GetRepository がエラーを返した: %v", err)
	}
}

func TestClient_GetRepository_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		wantErr error
	}{
		{name: "404は未検出", status: http.StatusNotFound, wantErr: ErrRepoNotFound},
		{name: "403かつ残り0はレート制限", status: http.StatusForbidden, headers: map[string]string{"X-RateLimit-Remaining": "0"}, wantErr: ErrRateLimited},
		{name: "429はレート制限", status: http.StatusTooManyRequests, wantErr: ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
			}, "")

			_, err := c.GetRepository(context.Background(), "a", "b")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_GetRepository_OtherStatusIsGenericError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}, "")

	_, err := c.GetRepository(context.Background(), "a", "b")
	if err == nil {
		t.Fatal("403 はエラーを返すべき")
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrRepoNotFound) {
		t.Errorf("残り回数のない403は一般エラー: %v", err)
	}
}

func TestClient_GetRepository_InvalidJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}, "")

	if _, err := c.GetRepository(context.Background(), "a", "b"); err == nil {
		t.Fatal("不正なJSONはエラーを返すべき")
	}
}

func TestClient_GetRepository_RespectsLimiterCancellation(t *testing.T) {
	var buf bytes.Buffer
	c := NewClient(http.DefaultClient, newTestLogger(&buf), Config{Endpoint: "http://unused.invalid", Rate: rate.Limit(0.0001)})
	// バーストを使い切る
	for c.limiter.Allow() {
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.GetRepository(ctx, "a", "b"); err == nil {
		t.Fatal("待機が中断された場合はエラーを返すべき")
	}
}

func TestClient_GetRepositoryByURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/owner/tool" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"stargazers_count": 3}`))
	}, "")

	repo, err := c.GetRepositoryByURL(context.Background(), "https://github.com/owner/tool.git")
	if err != nil {
		t.Fatalf("GetRepositoryByURL がエラーを返した: %v", err)
	}
	if repo.Stars != 3 {
		t.Errorf("Stars = %d", repo.Stars)
	}
}

func TestParseRepositoryURL(t *testing.T) {
	tests := []struct {
		raw       string
		wantOwner string
		wantRepo  string
		wantErr   bool
	}{
		{raw: "https://github.com/kouame09/225-os", wantOwner: "kouame09", wantRepo: "225-os"},
		{raw: "https://www.github.com/a/b/", wantOwner: "a", wantRepo: "b"},
		{raw: "https://github.com/a/b.git", wantOwner: "a", wantRepo: "b"},
		{raw: "https://github.com/a/b/tree/main/docs", wantOwner: "a", wantRepo: "b"},
		{raw: "https://github.com/a", wantErr: true},
		{raw: "https://gitlab.com/a/b", wantErr: true},
		{raw: "not a url", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			owner, repo, err := ParseRepositoryURL(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrNotGitHubURL) {
					t.Errorf("err = %v, want ErrNotGitHubURL", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRepositoryURL がエラーを返した: %v", err)
			}
			if owner != tt.wantOwner || repo != tt.wantRepo {
				t.Errorf("got %s/%s, want %s/%s", owner, repo, tt.wantOwner, tt.wantRepo)
			}
		})
	}
}
