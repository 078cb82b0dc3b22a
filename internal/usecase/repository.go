package usecase

import (
	"context"

	"github.com/lookalike-tech/go-backend/internal/domain"
)

type ProductRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Product, error)
	// ListEmbeddableIDs возвращает id всех товаров с исходным изображением,
	// по возрастанию id.
	ListEmbeddableIDs(ctx context.Context) ([]int64, error)
	GetCards(ctx context.Context, ids []int64) ([]ProductCard, error)
}

// VectorRepository — доступ к векторной колонке товара (VectorStore).
type VectorRepository interface {
	// Put пишет вектор товара; вызывается внутри транзакции элемента.
	Put(ctx context.Context, productID int64, vector []float32) error
	// Get возвращает сохранённый вектор или nil, если его нет.
	Get(ctx context.Context, productID int64) ([]float32, error)
}

// VectorSearcher — бэкенд поиска ближайших соседей (pgvector или qdrant).
type VectorSearcher interface {
	SearchSimilar(ctx context.Context, req *VectorSearchReq) ([]domain.SimilarityMatch, error)
}

// AnnIndexRepository — внешний ANN-индекс, наполняемый вместе с векторной колонкой.
type AnnIndexRepository interface {
	VectorSearcher
	Upsert(ctx context.Context, embedding *domain.Embedding) error
}

// LedgerRepository — журнал прогресса batch-векторизации.
// Отметки буферизуются в памяти; Flush сбрасывает их в долговременное хранилище.
type LedgerRepository interface {
	IsProcessed(ctx context.Context, productID int64) (bool, error)
	MarkProcessed(ctx context.Context, productID int64) error
	MarkFailed(ctx context.Context, productID int64, reason string, permanent bool) error
	// NextBatch отбирает из allIDs ещё не обработанные и не постоянно-сбойные id,
	// по возрастанию, не более limit (0 — без ограничения).
	NextBatch(ctx context.Context, allIDs []int64, limit int) ([]int64, error)
	Flush(ctx context.Context) error
	Stats(ctx context.Context) (*domain.LedgerStats, error)
}

type EmbeddingVersionRepository interface {
	Upsert(ctx context.Context, productID int64) (*domain.ProductEmbeddingVersion, error)
}

type OutboxRepository interface {
	Create(ctx context.Context, event *OutboxEvent) (*OutboxEvent, error)
	GetAndMarkAsProcessing(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkAsProcessed(ctx context.Context, id int64) error
}

// StagingRepository — объектное хранилище для временных staged-изображений.
type StagingRepository interface {
	// Upload кладёт объект и возвращает публично доступный URL.
	Upload(ctx context.Context, image *domain.StagedImage) (string, error)
	Delete(ctx context.Context, key string) error
}

// CacheRepository — кэш карточек товаров для обогащения результатов поиска.
type CacheRepository interface {
	GetCards(ctx context.Context, ids []int64) (map[int64]ProductCard, error)
	SetCards(ctx context.Context, cards []ProductCard) error
	DeleteCards(ctx context.Context, ids []int64) error
}
