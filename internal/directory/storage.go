package directory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/kouame09/225-OS-sub000/internal/backend"
	"github.com/kouame09/225-OS-sub000/internal/model"
)

// MaxImageSize はアップロードできる画像の最大バイト数。
const MaxImageSize = 5 << 20

// imageTypes は拡張子ごとのContent-Type。
var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// UploadImage は画像を profiles/<uuid>.<ext> に保存し、公開URLを返す。
func (s *Service) UploadImage(ctx context.Context, filename string, body io.Reader) (string, error) {
	ext := strings.ToLower(path.Ext(filename))
	contentType, ok := imageTypes[ext]
	if !ok {
		return "", model.NewUnsupportedImageError(ext)
	}

	data, err := io.ReadAll(io.LimitReader(body, MaxImageSize+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return "", model.NewInvalidInputError("fichier vide")
	}
	if len(data) > MaxImageSize {
		return "", model.NewInvalidInputError("image trop volumineuse (5 Mo maximum)")
	}

	objectPath := "profiles/" + uuid.NewString() + ext
	err = s.api.Do(ctx, backend.Request{
		Op:          "storage.upload",
		Method:      http.MethodPost,
		Path:        storagePath + "/" + s.bucket + "/" + objectPath,
		Token:       s.token(ctx),
		RawBody:     bytes.NewReader(data),
		ContentType: contentType,
	}, nil)
	if backend.IsUnauthorized(err) {
		return "", model.NewWriteRejectedError("profile")
	}
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return s.api.ObjectPublicURL(s.bucket, objectPath), nil
}
