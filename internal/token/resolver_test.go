package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kouame09/225-OS-sub000/internal/credstore"
	"github.com/kouame09/225-OS-sub000/internal/model"
)

// --- モック定義 ---

type mockSessionGetter struct {
	getSessionFn func(ctx context.Context) (*model.Session, error)
	calls        int
}

func (m *mockSessionGetter) GetSession(ctx context.Context) (*model.Session, error) {
	m.calls++
	if m.getSessionFn != nil {
		return m.getSessionFn(ctx)
	}
	return nil, nil
}

// --- テスト ---

func TestResolve_FastPathFromStore(t *testing.T) {
	store := credstore.NewMemoryStore()
	store.Set("sb-ref-auth-token", `{"access_token":"stored-token"}`)
	sdk := &mockSessionGetter{}

	r := NewResolver(store, "sb", sdk, time.Second, nil)
	if got := r.Resolve(context.Background()); got != "stored-token" {
		t.Errorf("Resolve = %q, want stored-token", got)
	}
	if sdk.calls != 0 {
		t.Errorf("ストアで解決できた場合はSDKを呼ばない: calls = %d", sdk.calls)
	}
}

func TestResolve_SkipsMalformedEntries(t *testing.T) {
	store := credstore.NewMemoryStore()
	store.Set("sb-aaa-auth-token", "{broken")
	store.Set("sb-bbb-auth-token", `{"refresh_token":"only"}`)
	store.Set("sb-ccc-auth-token", `{"access_token":"good"}`)

	r := NewResolver(store, "sb", nil, time.Second, nil)
	if got := r.Resolve(context.Background()); got != "good" {
		t.Errorf("Resolve = %q, want good", got)
	}
}

func TestResolve_SkipsExpiredEntries(t *testing.T) {
	store := credstore.NewMemoryStore()
	store.Set("sb-ref-auth-token", `{"access_token":"old","expires_at":1000}`)
	sdk := &mockSessionGetter{
		getSessionFn: func(ctx context.Context) (*model.Session, error) {
			return &model.Session{AccessToken: "refreshed"}, nil
		},
	}

	r := NewResolver(store, "sb", sdk, time.Second, nil)
	if got := r.Resolve(context.Background()); got != "refreshed" {
		t.Errorf("Resolve = %q, want refreshed", got)
	}
}

func TestResolve_FallsBackToSDK(t *testing.T) {
	sdk := &mockSessionGetter{
		getSessionFn: func(ctx context.Context) (*model.Session, error) {
			return &model.Session{AccessToken: "sdk-token"}, nil
		},
	}

	r := NewResolver(credstore.NewMemoryStore(), "sb", sdk, time.Second, nil)
	if got := r.Resolve(context.Background()); got != "sdk-token" {
		t.Errorf("Resolve = %q, want sdk-token", got)
	}
}

func TestResolve_SDKErrorYieldsEmpty(t *testing.T) {
	sdk := &mockSessionGetter{
		getSessionFn: func(ctx context.Context) (*model.Session, error) {
			return nil, errors.New("network down")
		},
	}

	r := NewResolver(credstore.NewMemoryStore(), "sb", sdk, time.Second, nil)
	if got := r.Resolve(context.Background()); got != "" {
		t.Errorf("Resolve = %q, want empty", got)
	}
}

func TestResolve_SDKPanicYieldsEmpty(t *testing.T) {
	sdk := &mockSessionGetter{
		getSessionFn: func(ctx context.Context) (*model.Session, error) {
			panic("boom")
		},
	}

	r := NewResolver(credstore.NewMemoryStore(), "sb", sdk, time.Second, nil)
	if got := r.Resolve(context.Background()); got != "" {
		t.Errorf("Resolve = %q, want empty", got)
	}
}

func TestResolveWithin_TimesOutAndCancels(t *testing.T) {
	cancelled := make(chan struct{})
	sdk := &mockSessionGetter{
		getSessionFn: func(ctx context.Context) (*model.Session, error) {
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		},
	}

	r := NewResolver(credstore.NewMemoryStore(), "sb", sdk, time.Second, nil)

	start := time.Now()
	got := r.ResolveWithin(context.Background(), 50*time.Millisecond)
	elapsed := time.Since(start)

	if got != "" {
		t.Errorf("Resolve = %q, want empty", got)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("タイムアウトを大きく超えた: %v", elapsed)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Error("タイムアウト時はSDK呼び出しのコンテキストをキャンセルすべき")
	}
}
