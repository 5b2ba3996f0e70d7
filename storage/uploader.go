package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

var ErrUnsupportedContentType = errors.New("unsupported evidence content type")

type UploadResult struct {
	Key      string
	Location string
	ETag     string
}

// FileUploader - хранилище файлов доказательств (скриншоты, фото экрана).
type FileUploader interface {
	Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*UploadResult, error)

	Delete(ctx context.Context, key string) error

	GetPublicURL(key string) string
}

// EvidenceKey строит ключ объекта для доказательства участника матча.
func EvidenceKey(matchID, submitterID, contentType string) (string, error) {
	ext, err := ExtensionFromContentType(contentType)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("evidence/%s/%s/%s%s", matchID, submitterID, uuid.NewString(), ext), nil
}

// ExtensionFromContentType принимает только растровые изображения.
func ExtensionFromContentType(contentType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])) {
	case "image/jpeg", "image/jpg":
		return ".jpg", nil
	case "image/png":
		return ".png", nil
	case "image/gif":
		return ".gif", nil
	case "image/webp":
		return ".webp", nil
	case "image/heic":
		return ".heic", nil
	default:
		return "", fmt.Errorf("%w: '%s'", ErrUnsupportedContentType, contentType)
	}
}
