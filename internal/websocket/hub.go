// Package websocket はUIへの通知とセッション状態をWebSocketで配信する。
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/kouame09/225-OS-sub000/internal/notify"
	"github.com/kouame09/225-OS-sub000/internal/session"
)

// メッセージの種類。
const (
	TypeNotification = "notification"
	TypeSession      = "session"
)

// Message はクライアントに配信する1件のメッセージ。
type Message struct {
	Type         string               `json:"type"`
	Notification *notify.Notification `json:"notification,omitempty"`
	Session      *session.Snapshot    `json:"session,omitempty"`
}

// Hub は接続中のクライアントを管理し、メッセージを配信する。
// 最後に配信したセッション状態を保持し、新しく接続したクライアントに最初に送る。
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	lastSession []byte
	logger      *slog.Logger
}

// NewHub はHubを生成する。
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register はクライアントを登録し、直近のセッション状態を送信キューに積む。
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if h.lastSession != nil {
		select {
		case c.send <- h.lastSession:
		default:
		}
	}
}

// Unregister はクライアントを登録解除し、送信チャネルを閉じる。
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Notify はnotify.Sinkを実装し、通知を全クライアントに配信する。
func (h *Hub) Notify(n notify.Notification) {
	h.Broadcast(Message{Type: TypeNotification, Notification: &n})
}

// PublishSession はセッション状態を全クライアントに配信する。
func (h *Hub) PublishSession(s session.Snapshot) {
	data, ok := h.encode(Message{Type: TypeSession, Session: &s})
	if !ok {
		return
	}
	h.mu.Lock()
	h.lastSession = data
	h.mu.Unlock()
	h.send(data)
}

// Follow はsnapshotsを受信するたびにPublishSessionを呼ぶ。
// チャネルが閉じられるかctxがキャンセルされると戻る。
func (h *Hub) Follow(ctx context.Context, snapshots <-chan session.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-snapshots:
			if !ok {
				return
			}
			h.PublishSession(s)
		}
	}
}

// Broadcast はメッセージを全クライアントに配信する。
func (h *Hub) Broadcast(msg Message) {
	if data, ok := h.encode(msg); ok {
		h.send(data)
	}
}

func (h *Hub) encode(msg Message) ([]byte, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("配信メッセージのエンコードに失敗しました",
			slog.String("type", msg.Type),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	return data, true
}

func (h *Hub) send(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// 送信バッファが満杯のクライアントには配信しない
		}
	}
}

// ClientCount は接続中のクライアント数を返す。
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
