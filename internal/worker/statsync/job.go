// Package statsync は登録済みプロジェクトのスター数・フォーク数・最終更新日時を
// リポジトリホストから定期的に再取得するバッチジョブを提供する。
package statsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kouame09/225-OS-sub000/internal/directory"
	"github.com/kouame09/225-OS-sub000/internal/github"
	"github.com/kouame09/225-OS-sub000/internal/model"
)

// 同期結果の種類。メトリクスのラベルにも使う。
const (
	ResultUpdated     = "updated"
	ResultUnchanged   = "unchanged"
	ResultRejected    = "rejected"
	ResultFailed      = "failed"
	ResultRateLimited = "rate_limited"
)

const (
	// initialBackoff はレート制限を受けた場合の初回待機時間。
	initialBackoff = 15 * time.Minute
	// maxBackoff は待機時間の上限。
	maxBackoff = 6 * time.Hour
)

// ProjectLister は同期対象のプロジェクト一覧を返す。
type ProjectLister interface {
	ListAll(ctx context.Context) ([]model.Project, error)
}

// StatsRefresher は1件のプロジェクトの統計値を再取得して保存する。
type StatsRefresher interface {
	RefreshStats(ctx context.Context, p *model.Project) (directory.StatsUpdate, error)
}

// Recorder は同期結果のメトリクス記録インターフェース。
type Recorder interface {
	RecordStatsSync(result string)
}

// Config はジョブの設定。
type Config struct {
	// Interval は同期サイクルの実行間隔（デフォルト: 1時間）。
	Interval time.Duration
	// MaxConcurrency は同時に問い合わせるプロジェクト数（デフォルト: 4）。
	MaxConcurrency int
}

// Summary は1サイクルの実行結果。
type Summary struct {
	Total       int
	Updated     int
	Unchanged   int
	Rejected    int
	Failed      int
	RateLimited bool
	Skipped     bool
}

// Job は統計値の同期ジョブ。
// レート制限を受けるとサイクルを打ち切り、連続回数に応じて次回以降のサイクルを見送る。
type Job struct {
	projects ProjectLister
	stats    StatsRefresher
	recorder Recorder
	logger   *slog.Logger
	config   Config
	now      func() time.Time

	mu           sync.Mutex
	rateLimited  int
	backoffUntil time.Time
}

// NewJob はJobの新しいインスタンスを生成する。recorderはnilでもよい。
func NewJob(projects ProjectLister, stats StatsRefresher, recorder Recorder, logger *slog.Logger, cfg Config) *Job {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		projects: projects,
		stats:    stats,
		recorder: recorder,
		logger:   logger,
		config:   cfg,
		now:      time.Now,
	}
}

// Start はティッカーでジョブを定期実行する。コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.logger.Info("統計値同期ジョブを開始しました",
		slog.Duration("interval", j.config.Interval),
		slog.Int("max_concurrency", j.config.MaxConcurrency),
	)

	// 起動直後に1回実行
	j.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("統計値同期ジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *Job) runLogged(ctx context.Context) {
	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.Error("統計値同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は全プロジェクトを1回同期する。一覧の取得に失敗した場合のみエラーを返す。
func (j *Job) RunOnce(ctx context.Context) (Summary, error) {
	start := j.now()

	if until := j.backoff(); !until.IsZero() && start.Before(until) {
		j.logger.Info("統計値同期ジョブはバックオフ中のためスキップします",
			slog.Time("backoff_until", until),
		)
		return Summary{Skipped: true}, nil
	}

	projects, err := j.projects.ListAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("同期対象プロジェクトの取得に失敗しました: %w", err)
	}
	if len(projects) == 0 {
		j.logger.Info("同期対象のプロジェクトはありません")
		return Summary{}, nil
	}

	j.logger.Info("統計値同期サイクルを開始します", slog.Int("project_count", len(projects)))

	// レート制限を受けたら残りの問い合わせを打ち切る
	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		summary = Summary{Total: len(projects)}
		wg      sync.WaitGroup
		sem     = make(chan struct{}, j.config.MaxConcurrency)
	)

	for i := range projects {
		if cycleCtx.Err() != nil {
			break
		}
		p := &projects[i]
		if p.RepoURL == "" {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if cycleCtx.Err() != nil {
				return
			}
			result := j.syncOne(cycleCtx, p)
			if result == ResultRateLimited {
				cancel()
			}

			mu.Lock()
			defer mu.Unlock()
			switch result {
			case ResultUpdated:
				summary.Updated++
			case ResultUnchanged:
				summary.Unchanged++
			case ResultRejected:
				summary.Rejected++
			case ResultRateLimited:
				summary.RateLimited = true
			default:
				summary.Failed++
			}
		}()
	}
	wg.Wait()

	j.updateBackoff(summary.RateLimited)

	j.logger.Info("統計値同期サイクルが完了しました",
		slog.Int("project_count", summary.Total),
		slog.Int("updated", summary.Updated),
		slog.Int("unchanged", summary.Unchanged),
		slog.Int("rejected", summary.Rejected),
		slog.Int("failed", summary.Failed),
		slog.Bool("rate_limited", summary.RateLimited),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return summary, nil
}

func (j *Job) syncOne(ctx context.Context, p *model.Project) string {
	upd, err := j.stats.RefreshStats(ctx, p)
	result := classify(upd, err)
	if j.recorder != nil {
		j.recorder.RecordStatsSync(result)
	}

	switch result {
	case ResultRateLimited:
		j.logger.Warn("リポジトリホストのレート制限により同期を中断します",
			slog.String("project_id", p.ID),
		)
	case ResultFailed:
		if !errors.Is(err, context.Canceled) {
			j.logger.Warn("プロジェクトの統計値同期に失敗しました",
				slog.String("project_id", p.ID),
				slog.String("repo_url", p.RepoURL),
				slog.String("error", err.Error()),
			)
		}
	}
	return result
}

func classify(upd directory.StatsUpdate, err error) string {
	switch {
	case errors.Is(err, github.ErrRateLimited):
		return ResultRateLimited
	case err != nil:
		return ResultFailed
	case !upd.Changed:
		return ResultUnchanged
	case !upd.Persisted:
		return ResultRejected
	default:
		return ResultUpdated
	}
}

func (j *Job) backoff() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.backoffUntil
}

func (j *Job) updateBackoff(rateLimited bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !rateLimited {
		j.rateLimited = 0
		j.backoffUntil = time.Time{}
		return
	}
	j.rateLimited++
	delay := CalculateBackoff(j.rateLimited - 1)
	j.backoffUntil = j.now().Add(delay)
	j.logger.Warn("レート制限によりバックオフを適用します",
		slog.Int("consecutive_rate_limits", j.rateLimited),
		slog.Duration("backoff_duration", delay),
	)
}

// CalculateBackoff は連続してレート制限を受けた回数に基づく待機時間を返す。
// 初回15分、2倍ずつ増加、最大6時間。
func CalculateBackoff(consecutive int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutive; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}
