package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/kouame09/225-OS-sub000/internal/session"
)

// healthCheckTimeout は依存先の疎通確認のタイムアウト。
const healthCheckTimeout = 3 * time.Second

// HealthChecker は依存先の疎通確認インターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// SnapshotSource はセッション状態の参照インターフェース。
type SnapshotSource interface {
	Snapshot() session.Snapshot
}

type healthResponse struct {
	Status   string `json:"status"`
	Session  string `json:"session"`
	Database string `json:"database,omitempty"`
}

// NewHealthHandler は /health のハンドラーを返す。checkerがnilの場合はDBの確認を省略する。
func NewHealthHandler(sessions SnapshotSource, checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Session: string(sessions.Snapshot().State)}
		status := http.StatusOK

		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			resp.Database = "ok"
			if err := checker.PingContext(ctx); err != nil {
				logger.Error("データベースの疎通確認に失敗しました", slog.String("error", err.Error()))
				resp.Status = "degraded"
				resp.Database = "unreachable"
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, resp)
	}
}
