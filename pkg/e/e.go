package e

import (
	"errors"
	"fmt"
)

var (
	// Внутренние ошибки с транзакциями
	ErrTransactionNotFound = fmt.Errorf("transaction not found")

	// Внутренние ошибки с векторами
	ErrEmptyVector    = fmt.Errorf("empty query vector")
	ErrVectorNotFound = fmt.Errorf("vector not found")

	// 400 Bad Request
	ErrNoQuerySource        = fmt.Errorf("query source is required: product_id, image_url or image file")
	ErrAmbiguousQuerySource = fmt.Errorf("exactly one query source must be provided")
	ErrInvalidThreshold     = fmt.Errorf("threshold must be within [-1, 1]")
	ErrInvalidMaxResults    = fmt.Errorf("max_results must be positive")
	ErrInvalidConcurrency   = fmt.Errorf("concurrency must be positive")
	ErrExpectedMultipart    = fmt.Errorf("expected multipart/form-data")
	ErrUnsupportedMediaType = fmt.Errorf("unsupported media type")
	ErrUnsupportedURLScheme = fmt.Errorf("source url scheme must be http or https")
	ErrFileTooLarge         = fmt.Errorf("file is too large")
	ErrNoImage              = fmt.Errorf("no image provided")
	ErrStatusBadRequest     = fmt.Errorf("bad request")

	// 404 Not Found
	ErrProductNotFound = fmt.Errorf("product not found")
	ErrProductNoImage  = fmt.Errorf("product has no source image")

	// 500 Internal Server Error
	ErrInternalServerError = fmt.Errorf("internal server error")

	ErrIncorrectEnvVariable = fmt.Errorf("incorrect environment variable")
)

// Wrap оборачивает ошибку
func Wrap(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}

// DownloadError — исходное изображение недоступно, отвечает слишком медленно
// или тело ответа неправдоподобно мало. Всегда временная: повтор на следующем запуске.
type DownloadError struct {
	URL string
	Err error
}

func (d *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", d.URL, d.Err)
}

func (d *DownloadError) Unwrap() error { return d.Err }

// StagingError — запись во временное объектное хранилище не удалась. Временная.
type StagingError struct {
	Key string
	Err error
}

func (s *StagingError) Error() string {
	return fmt.Sprintf("staging %s: %v", s.Key, s.Err)
}

func (s *StagingError) Unwrap() error { return s.Err }

// EmbeddingError — ошибка внешнего inference-сервиса.
// Permanent=true для 4xx (некорректный вход), false для 5xx/таймаутов.
type EmbeddingError struct {
	Permanent bool
	Status    int
	Err       error
}

func (em *EmbeddingError) Error() string {
	kind := "transient"
	if em.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("embedding (%s, status=%d): %v", kind, em.Status, em.Err)
}

func (em *EmbeddingError) Unwrap() error { return em.Err }

// DimensionMismatchError — длина вектора не равна D. Всегда постоянная:
// указывает на смену контракта inference-сервиса, а не на временный сбой.
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (d *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: got %d, want %d", d.Got, d.Want)
}

// PersistenceError — запись в базу не удалась. Срывает только попытку одного
// элемента и считается временной.
type PersistenceError struct {
	Err error
}

func (p *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %v", p.Err)
}

func (p *PersistenceError) Unwrap() error { return p.Err }

// IsPermanent сообщает, должна ли ошибка конвейера исключить элемент
// из автоматических повторов (до явного force-reprocess).
func IsPermanent(err error) bool {
	var dim *DimensionMismatchError
	if errors.As(err, &dim) {
		return true
	}

	var emb *EmbeddingError
	if errors.As(err, &emb) {
		return emb.Permanent
	}

	// Неподдерживаемый формат изображения или схема URL не чинятся повтором.
	return errors.Is(err, ErrUnsupportedMediaType) || errors.Is(err, ErrUnsupportedURLScheme)
}
