package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/kouame09/225-OS-sub000/internal/model"
	"github.com/kouame09/225-OS-sub000/internal/notify"
	"github.com/kouame09/225-OS-sub000/internal/session"
)

// コンパイル時にインターフェースの実装を検証
var _ notify.Sink = (*Hub)(nil)

// mockClient は実際の接続を持たないClientを生成する。
func mockClient(hub *Hub) *Client {
	return &Client{hub: hub, send: make(chan []byte, sendBufferSize)}
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	case <-time.After(100 * time.Millisecond):
		t.Fatal("メッセージを受信できなかった")
	}
	return Message{}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())
	c1, c2 := mockClient(hub), mockClient(hub)

	hub.Register(c1)
	hub.Register(c2)
	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("ClientCount = %d, want 2", got)
	}

	hub.Unregister(c1)
	// 二重解除でpanicしない
	hub.Unregister(c1)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("ClientCount = %d, want 1", got)
	}
	hub.Unregister(c2)
}

func TestHub_NotifyBroadcastsToAllClients(t *testing.T) {
	hub := NewHub(slog.Default())
	c1, c2 := mockClient(hub), mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)
	defer hub.Unregister(c1)
	defer hub.Unregister(c2)

	hub.Notify(notify.New(notify.LevelWarning, "attention"))

	for _, c := range []*Client{c1, c2} {
		msg := receive(t, c)
		if msg.Type != TypeNotification || msg.Notification == nil {
			t.Fatalf("msg = %+v", msg)
		}
		if msg.Notification.Level != notify.LevelWarning || msg.Notification.Message != "attention" {
			t.Errorf("notification = %+v", msg.Notification)
		}
	}
}

func TestHub_NewClientReceivesLastSession(t *testing.T) {
	hub := NewHub(slog.Default())
	hub.PublishSession(session.Snapshot{
		State:       session.StateAuthenticated,
		Initialized: true,
		User:        &model.User{ID: "u1", Email: "u1@example.com"},
		Session:     &model.Session{AccessToken: "secret"},
	})

	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	msg := receive(t, c)
	if msg.Type != TypeSession || msg.Session == nil {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.Session.State != session.StateAuthenticated || msg.Session.User.ID != "u1" {
		t.Errorf("session = %+v", msg.Session)
	}
	if msg.Session.Session != nil {
		t.Error("アクセストークンは配信してはならない")
	}
}

func TestHub_BroadcastFullBufferDrops(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	for i := 0; i < sendBufferSize+5; i++ {
		hub.Notify(notify.New(notify.LevelInfo, "fill"))
	}
	if got := len(c.send); got != sendBufferSize {
		t.Errorf("len(send) = %d, want %d", got, sendBufferSize)
	}
}

func TestHub_Follow(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	snapshots := make(chan session.Snapshot, 1)
	done := make(chan struct{})
	go func() {
		hub.Follow(context.Background(), snapshots)
		close(done)
	}()

	snapshots <- session.Snapshot{State: session.StateAnonymous, Initialized: true}
	if msg := receive(t, c); msg.Session == nil || msg.Session.State != session.StateAnonymous {
		t.Errorf("msg = %+v", msg)
	}

	close(snapshots)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("チャネルが閉じられた後に Follow が終了しなかった")
	}
}

func TestHandleWebSocket_DeliversNotifications(t *testing.T) {
	hub := NewHub(slog.Default())
	server := httptest.NewServer(HandleWebSocket(hub, nil))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial がエラーを返した: %v", err)
	}
	defer conn.CloseNow()

	// 登録されるまで待つ
	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Notify(notify.New(notify.LevelSuccess, "Projet ajouté"))

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read がエラーを返した: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Notification == nil || msg.Notification.Message != "Projet ajouté" {
		t.Errorf("msg = %+v", msg)
	}
}
