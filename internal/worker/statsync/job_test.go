package statsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kouame09/225-OS-sub000/internal/directory"
	"github.com/kouame09/225-OS-sub000/internal/github"
	"github.com/kouame09/225-OS-sub000/internal/model"
)

// --- モック定義 ---

type mockLister struct {
	listAllFunc func(ctx context.Context) ([]model.Project, error)
}

func (m *mockLister) ListAll(ctx context.Context) ([]model.Project, error) {
	return m.listAllFunc(ctx)
}

type mockRefresher struct {
	refreshFunc func(ctx context.Context, p *model.Project) (directory.StatsUpdate, error)
}

func (m *mockRefresher) RefreshStats(ctx context.Context, p *model.Project) (directory.StatsUpdate, error) {
	return m.refreshFunc(ctx, p)
}

type mockRecorder struct {
	mu      sync.Mutex
	results map[string]int
}

func (m *mockRecorder) RecordStatsSync(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = map[string]int{}
	}
	m.results[result]++
}

// コンパイル時にインターフェースの実装を検証
var (
	_ ProjectLister  = (*directory.Service)(nil)
	_ StatsRefresher = (*directory.Service)(nil)
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func listed(n int) *mockLister {
	return &mockLister{listAllFunc: func(ctx context.Context) ([]model.Project, error) {
		out := make([]model.Project, n)
		for i := range out {
			out[i] = model.Project{ID: fmt.Sprintf("p%d", i), RepoURL: fmt.Sprintf("https://github.com/a/r%d", i)}
		}
		return out, nil
	}}
}

func changed(persisted bool) directory.StatsUpdate {
	stars := 1
	return directory.StatsUpdate{Stars: &stars, Changed: true, Persisted: persisted}
}

func TestJob_RunOnce_ClassifiesResults(t *testing.T) {
	refresher := &mockRefresher{refreshFunc: func(ctx context.Context, p *model.Project) (directory.StatsUpdate, error) {
		switch p.ID {
		case "p0":
			return changed(true), nil
		case "p1":
			return changed(false), nil
		case "p2":
			return directory.StatsUpdate{}, errors.New("network down")
		default:
			return directory.StatsUpdate{Changed: false}, nil
		}
	}}
	recorder := &mockRecorder{}
	var buf bytes.Buffer
	job := NewJob(listed(4), refresher, recorder, newTestLogger(&buf), Config{MaxConcurrency: 2})

	summary, err := job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if summary.Total != 4 || summary.Updated != 1 || summary.Rejected != 1 || summary.Failed != 1 || summary.Unchanged != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if recorder.results[ResultUpdated] != 1 || recorder.results[ResultFailed] != 1 {
		t.Errorf("recorder = %v", recorder.results)
	}
}

func TestJob_RunOnce_RespectsMaxConcurrency(t *testing.T) {
	var current, peak int32
	refresher := &mockRefresher{refreshFunc: func(ctx context.Context, p *model.Project) (directory.StatsUpdate, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return directory.StatsUpdate{}, nil
	}}
	var buf bytes.Buffer
	job := NewJob(listed(12), refresher, nil, newTestLogger(&buf), Config{MaxConcurrency: 3})

	if _, err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if got := atomic.LoadInt32(&peak); got > 3 {
		t.Errorf("最大並列数 = %d, want <= 3", got)
	}
}

func TestJob_RunOnce_ListErrorIsReturned(t *testing.T) {
	lister := &mockLister{listAllFunc: func(ctx context.Context) ([]model.Project, error) {
		return nil, errors.New("backend down")
	}}
	var buf bytes.Buffer
	job := NewJob(lister, &mockRefresher{}, nil, newTestLogger(&buf), Config{})

	if _, err := job.RunOnce(context.Background()); err == nil {
		t.Fatal("一覧取得の失敗はエラーを返すべき")
	}
}

func TestJob_RunOnce_SkipsProjectsWithoutRepoURL(t *testing.T) {
	lister := &mockLister{listAllFunc: func(ctx context.Context) ([]model.Project, error) {
		return []model.Project{{ID: "p0"}, {ID: "p1", RepoURL: "https://github.com/a/b"}}, nil
	}}
	var calls int32
	refresher := &mockRefresher{refreshFunc: func(ctx context.Context, p *model.Project) (directory.StatsUpdate, error) {
		atomic.AddInt32(&calls, 1)
		return directory.StatsUpdate{}, nil
	}}
	var buf bytes.Buffer
	job := NewJob(lister, refresher, nil, newTestLogger(&buf), Config{})

	if _, err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if calls != 1 {
		t.Errorf("RefreshStats 呼び出し = %d, want 1", calls)
	}
}

func TestJob_RunOnce_RateLimitStopsCycleAndBacksOff(t *testing.T) {
	var calls int32
	refresher := &mockRefresher{refreshFunc: func(ctx context.Context, p *model.Project) (directory.StatsUpdate, error) {
		atomic.AddInt32(&calls, 1)
		return directory.StatsUpdate{}, fmt.Errorf("fetch stats: %w", github.ErrRateLimited)
	}}
	var buf bytes.Buffer
	job := NewJob(listed(10), refresher, nil, newTestLogger(&buf), Config{MaxConcurrency: 1})
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	summary, err := job.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if !summary.RateLimited {
		t.Error("RateLimited = false, want true")
	}
	if got := atomic.LoadInt32(&calls); got >= 10 {
		t.Errorf("レート制限後も問い合わせを続けた: %d 回", got)
	}
	if want := now.Add(initialBackoff); !job.backoff().Equal(want) {
		t.Errorf("backoffUntil = %v, want %v", job.backoff(), want)
	}

	// バックオフ中はスキップ
	summary, err = job.RunOnce(context.Background())
	if err != nil || !summary.Skipped {
		t.Errorf("RunOnce = (%+v, %v), want skipped", summary, err)
	}

	// 期限後に成功すればバックオフを解除
	now = now.Add(initialBackoff + time.Second)
	refresher.refreshFunc = func(ctx context.Context, p *model.Project) (directory.StatsUpdate, error) {
		return directory.StatsUpdate{}, nil
	}
	if _, err := job.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if !job.backoff().IsZero() {
		t.Errorf("成功後は backoffUntil をリセットすべき: %v", job.backoff())
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		consecutive int
		want        time.Duration
	}{
		{0, 15 * time.Minute},
		{1, 30 * time.Minute},
		{2, time.Hour},
		{4, 4 * time.Hour},
		{5, 6 * time.Hour},
		{20, 6 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("consecutive=%d", tt.consecutive), func(t *testing.T) {
			if got := CalculateBackoff(tt.consecutive); got != tt.want {
				t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.consecutive, got, tt.want)
			}
		})
	}
}

func TestJob_Start_StopsOnCancel(t *testing.T) {
	var cycles int32
	lister := &mockLister{listAllFunc: func(ctx context.Context) ([]model.Project, error) {
		atomic.AddInt32(&cycles, 1)
		return nil, nil
	}}
	var buf bytes.Buffer
	job := NewJob(lister, &mockRefresher{}, nil, newTestLogger(&buf), Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("キャンセル後に Start が終了しなかった")
	}
	if atomic.LoadInt32(&cycles) < 2 {
		t.Errorf("cycles = %d, want >= 2", cycles)
	}
}
