// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIのトースト通知に表示するメッセージと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, project, profile, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeSignInFailed       = "SIGN_IN_FAILED"
	ErrCodeSignUpFailed       = "SIGN_UP_FAILED"
	ErrCodePasswordReset      = "PASSWORD_RESET_FAILED"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeInvalidURL         = "INVALID_URL"
	ErrCodeProjectNotFound    = "PROJECT_NOT_FOUND"
	ErrCodeProfileNotFound    = "PROFILE_NOT_FOUND"
	ErrCodeWriteRejected      = "WRITE_REJECTED"
	ErrCodeUnsupportedImage   = "UNSUPPORTED_IMAGE"
	ErrCodeBackendUnavailable = "BACKEND_UNAVAILABLE"
)

// NewUnauthorizedError は未ログインエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Vous devez être connecté pour effectuer cette action.",
		Category: "auth",
		Action:   "Connectez-vous puis réessayez.",
	}
}

// NewSignInFailedError はサインイン失敗エラーを生成する。
func NewSignInFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSignInFailed,
		Message:  fmt.Sprintf("Connexion impossible : %s", reason),
		Category: "auth",
		Action:   "Vérifiez votre e-mail et votre mot de passe.",
	}
}

// NewSignUpFailedError はアカウント登録失敗エラーを生成する。
func NewSignUpFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSignUpFailed,
		Message:  fmt.Sprintf("Inscription impossible : %s", reason),
		Category: "auth",
		Action:   "Vérifiez les informations saisies puis réessayez.",
	}
}

// NewPasswordResetError はパスワードリセットメール送信失敗エラーを生成する。
func NewPasswordResetError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodePasswordReset,
		Message:  fmt.Sprintf("Envoi de l'e-mail de réinitialisation impossible : %s", reason),
		Category: "auth",
		Action:   "Réessayez dans quelques instants.",
	}
}

// NewInvalidInputError は入力値検証エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("Données invalides : %s", reason),
		Category: "validation",
		Action:   "Corrigez le formulaire puis réessayez.",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("URL invalide : %s", reason),
		Category: "validation",
		Action:   "Saisissez une URL publique commençant par http:// ou https://.",
	}
}

// NewProjectNotFoundError はプロジェクト未検出エラーを生成する。
func NewProjectNotFoundError(ref string) *APIError {
	return &APIError{
		Code:     ErrCodeProjectNotFound,
		Message:  fmt.Sprintf("Projet introuvable : %s", ref),
		Category: "project",
		Action:   "Vérifiez le lien du projet.",
	}
}

// NewProfileNotFoundError はプロフィール未検出エラーを生成する。
func NewProfileNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  fmt.Sprintf("Profil introuvable : %s", id),
		Category: "profile",
		Action:   "Vérifiez le lien du profil.",
	}
}

// NewWriteRejectedError はバックエンドの行レベルポリシーで書き込みが反映されなかった場合のエラーを生成する。
func NewWriteRejectedError(entity string) *APIError {
	return &APIError{
		Code:     ErrCodeWriteRejected,
		Message:  fmt.Sprintf("Modification refusée (%s).", entity),
		Category: entity,
		Action:   "Seul le propriétaire peut modifier cet élément.",
	}
}

// NewUnsupportedImageError は非対応の画像形式エラーを生成する。
func NewUnsupportedImageError(ext string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedImage,
		Message:  fmt.Sprintf("Format d'image non pris en charge : %s", ext),
		Category: "validation",
		Action:   "Utilisez une image PNG, JPEG, GIF ou WebP.",
	}
}

// NewBackendUnavailableError はバックエンド呼び出し失敗エラーを生成する。
func NewBackendUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeBackendUnavailable,
		Message:  "Le service est momentanément indisponible.",
		Category: "system",
		Action:   "Réessayez dans quelques instants.",
	}
}
