package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleWebSocket は接続をWebSocketにアップグレードし、Hubのクライアントとして実行する
// HTTPハンドラーを返す。originPatternsが空の場合は同一オリジンのみ許可する。
func HandleWebSocket(hub *Hub, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			hub.logger.Warn("WebSocket接続の受け入れに失敗しました",
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("error", err.Error()),
			)
			return
		}
		defer conn.CloseNow()

		client := NewClient(hub, conn)
		client.Run(r.Context())
	}
}
