package session

import "github.com/kouame09/225-OS-sub000/internal/model"

// State はセッションライフサイクルの状態。
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateAuthenticated State = "authenticated"
	StateAnonymous     State = "anonymous"
)

// Snapshot はある時点のセッション状態のコピー。
type Snapshot struct {
	State       State          `json:"state"`
	Loading     bool           `json:"loading"`
	Initialized bool           `json:"initialized"`
	User        *model.User    `json:"user,omitempty"`
	Session     *model.Session `json:"-"`
}

// Authenticated はサインイン中かを返す。
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated && s.Session != nil
}

// bootSource は初期状態を確定させた経路。
type bootSource string

const (
	bootNone    bootSource = ""
	bootFetch   bootSource = "fetch"
	bootEvent   bootSource = "event"
	bootTimeout bootSource = "timeout"
	bootSignOut bootSource = "sign_out"
)
