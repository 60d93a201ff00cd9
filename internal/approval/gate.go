// Package approval はサインイン後のプロフィール承認チェックを提供する。
// 承認されていないアカウントはセッションを保持できない。
package approval

import (
	"context"
	"log/slog"

	"github.com/kouame09/225-OS-sub000/internal/model"
	"github.com/kouame09/225-OS-sub000/internal/notify"
)

// ユーザーに表示するメッセージ。
const (
	MessagePending    = "Votre compte est en attente de validation par un administrateur."
	MessageRegistered = "Inscription reçue ! Votre compte sera activé après validation."
)

// Verdict は承認チェックの結果。
type Verdict string

const (
	// VerdictApproved は承認済みでセッションを維持する。
	VerdictApproved Verdict = "approved"
	// VerdictPending は未承認のためサインアウトさせた。
	VerdictPending Verdict = "pending"
	// VerdictRegistered はプロフィールを新規作成し、承認待ちとしてサインアウトさせた。
	VerdictRegistered Verdict = "registered"
	// VerdictConflict は挿入が重複キーで無視され、既存の行も参照できなかった。
	VerdictConflict Verdict = "conflict"
	// VerdictFailed はプロフィールの参照または作成に失敗した。
	VerdictFailed Verdict = "failed"
)

// ProfileStore は承認チェックが利用するプロフィールの参照・作成インターフェース。
type ProfileStore interface {
	// GetProfile はプロフィールを返す。存在しない場合は(nil, nil)。
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	// CreatePendingProfile は未承認プロフィールを作成する。
	// 重複キーで作成されなかった場合はfalseを返す。
	CreatePendingProfile(ctx context.Context, p *model.Profile) (bool, error)
}

// SignOuter はセッションを強制終了させるインターフェース。
type SignOuter interface {
	SignOut(ctx context.Context)
}

// Recorder は承認チェック結果のメトリクス記録インターフェース。
type Recorder interface {
	RecordApprovalVerdict(verdict string)
}

// Gate はプロフィール承認チェックを行う。
type Gate struct {
	profiles ProfileStore
	sessions SignOuter
	notifier notify.Sink
	recorder Recorder
	logger   *slog.Logger
}

// NewGate はGateを生成する。recorderはnilでもよい。
func NewGate(profiles ProfileStore, sessions SignOuter, notifier notify.Sink, recorder Recorder, logger *slog.Logger) *Gate {
	if notifier == nil {
		notifier = notify.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		profiles: profiles,
		sessions: sessions,
		notifier: notifier,
		recorder: recorder,
		logger:   logger,
	}
}

// Check はuserのプロフィールを確認し、未承認であればサインアウトさせて通知する。
// プロフィールが存在しなければ未承認として作成する。
func (g *Gate) Check(ctx context.Context, user model.User) Verdict {
	v := g.check(ctx, user)
	if g.recorder != nil {
		g.recorder.RecordApprovalVerdict(string(v))
	}
	g.logger.Info("承認チェックが完了しました",
		slog.String("user_id", user.ID),
		slog.String("verdict", string(v)),
	)
	return v
}

func (g *Gate) check(ctx context.Context, user model.User) Verdict {
	profile, err := g.profiles.GetProfile(ctx, user.ID)
	if err != nil {
		// 参照失敗はログのみ。セッションは維持する
		g.logger.Error("承認チェックのプロフィール取得に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return VerdictFailed
	}

	if profile == nil {
		created, err := g.profiles.CreatePendingProfile(ctx, &model.Profile{
			ID:         user.ID,
			Email:      user.Email,
			IsApproved: false,
		})
		if err != nil {
			g.logger.Error("承認待ちプロフィールの作成に失敗しました",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			return VerdictFailed
		}
		if created {
			g.reject(ctx, notify.LevelInfo, MessageRegistered)
			return VerdictRegistered
		}

		// 既存の行があったため挿入されなかった。作成済みの行で判定し直す
		profile, err = g.profiles.GetProfile(ctx, user.ID)
		if err != nil {
			g.logger.Error("承認チェックのプロフィール再取得に失敗しました",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
			return VerdictFailed
		}
		if profile == nil {
			g.logger.Warn("既存のプロフィールを参照できませんでした", slog.String("user_id", user.ID))
			return VerdictConflict
		}
	}

	if profile.IsApproved {
		return VerdictApproved
	}
	g.reject(ctx, notify.LevelWarning, MessagePending)
	return VerdictPending
}

func (g *Gate) reject(ctx context.Context, level notify.Level, message string) {
	g.sessions.SignOut(ctx)
	g.notifier.Notify(notify.New(level, message))
}
