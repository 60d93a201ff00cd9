package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kouame09/225-OS-sub000/internal/middleware"
	"github.com/kouame09/225-OS-sub000/internal/model"
)

// withUser はテスト用にリクエストコンテキストにユーザーを注入するヘルパー。
func withUser(r *http.Request, id string) *http.Request {
	return r.WithContext(middleware.ContextWithUser(r.Context(), model.User{ID: id, Email: id + "@example.com"}))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからエラーレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var result middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("エラーレスポンスのデコードに失敗した: %v", err)
	}
	return result
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("レスポンスのデコードに失敗した: %v", err)
	}
}
