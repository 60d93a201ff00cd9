package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kouame09/225-OS-sub000/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// UIはこの内容をそのままトースト通知に表示する。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteError はerrを統一エラーフォーマットで書き込む。
// *model.APIErrorでないエラーはバックエンド障害として502を返す。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusForCode(apiErr.Code), apiErr)
		return
	}
	WriteErrorResponse(w, http.StatusBadGateway, model.NewBackendUnavailableError())
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。
func StatusForCode(code string) int {
	switch code {
	case model.ErrCodeUnauthorized, model.ErrCodeSignInFailed:
		return http.StatusUnauthorized
	case model.ErrCodeWriteRejected:
		return http.StatusForbidden
	case model.ErrCodeProjectNotFound, model.ErrCodeProfileNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidInput, model.ErrCodeInvalidURL, model.ErrCodeSignUpFailed, model.ErrCodePasswordReset:
		return http.StatusBadRequest
	case model.ErrCodeUnsupportedImage:
		return http.StatusUnsupportedMediaType
	case model.ErrCodeBackendUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "Une erreur interne est survenue.",
		Category: "system",
		Action:   "Réessayez dans quelques instants.",
	})
}
