package infrastructure

import "github.com/lookalike-tech/go-backend/pkg/e"

// GetExtensionFromMIME возвращает расширение staged-объекта по MIME-типу.
// Inference-сервис принимает только jpeg, png и webp; всё остальное —
// e.ErrUnsupportedMediaType, постоянная ошибка конвейера.
func GetExtensionFromMIME(mime string) (string, error) {
	switch mime {
	case "image/jpeg", "image/jpg":
		return "jpg", nil
	case "image/png":
		return "png", nil
	case "image/webp":
		return "webp", nil
	default:
		return "", e.ErrUnsupportedMediaType
	}
}
