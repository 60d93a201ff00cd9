// Package notify はUIへのトースト通知と画面遷移指示を配信する。
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Level は通知の種類。
type Level string

const (
	LevelInfo     Level = "info"
	LevelSuccess  Level = "success"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	// LevelNavigate はトーストではなく画面遷移の指示。Messageに遷移先パスを入れる。
	LevelNavigate Level = "navigate"
)

// Notification はUIに配信する1件の通知。
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Sink は通知の配信先。
type Sink interface {
	Notify(n Notification)
}

// SinkFunc は関数をSinkとして扱うアダプター。
type SinkFunc func(n Notification)

// Notify はSinkインターフェースを実装する。
func (f SinkFunc) Notify(n Notification) {
	f(n)
}

// New は現在時刻を付与したNotificationを生成する。
func New(level Level, message string) Notification {
	return Notification{Level: level, Message: message, At: time.Now()}
}

// Navigate は画面遷移の指示を生成する。
func Navigate(path string) Notification {
	return New(LevelNavigate, path)
}

// LogSink は通知をslogに出力するSink。
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink はLogSinkを生成する。
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Notify は通知レベルに応じたログレベルで出力する。
func (s *LogSink) Notify(n Notification) {
	level := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	case LevelNavigate:
		level = slog.LevelDebug
	}
	s.logger.Log(context.Background(), level, "通知",
		slog.String("kind", string(n.Level)),
		slog.String("message", n.Message),
	)
}

// Multi は複数のSinkへ同じ通知を配信する。nilのSinkは無視する。
func Multi(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	return SinkFunc(func(n Notification) {
		for _, s := range live {
			s.Notify(n)
		}
	})
}

// Discard は通知を破棄するSink。
var Discard Sink = SinkFunc(func(Notification) {})

// Recorder は受け取った通知を保持するSink。
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// Notify は通知を記録する。
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// All は記録済みの通知のコピーを返す。
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Count は指定レベルの通知件数を返す。
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, it := range r.items {
		if it.Level == level {
			n++
		}
	}
	return n
}
