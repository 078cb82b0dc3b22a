package usecase

import "context"

// ReleaseFunc удаляет staged-объект. Идемпотентна; вызывается на каждом
// пути выхода — успешном и ошибочном.
type ReleaseFunc func()

type StagingInfra interface {
	// RehostFromURL скачивает исходное изображение и перекладывает его
	// во временное хранилище, доступное inference-сервису.
	RehostFromURL(ctx context.Context, sourceURL string) (*StagedObject, ReleaseFunc, error)
	// RehostBytes перекладывает в хранилище уже имеющиеся байты (загруженное фото).
	RehostBytes(ctx context.Context, data []byte, contentType string) (*StagedObject, ReleaseFunc, error)
}

type EmbedderInfra interface {
	EmbedImageURL(ctx context.Context, imageURL string) (*EmbedRes, error)
}

// Transactor выполняет fn внутри одной транзакции БД.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type MessageProducer interface {
	WriteRawMessage(ctx context.Context, req *WriteRawMessageReq) error
}
