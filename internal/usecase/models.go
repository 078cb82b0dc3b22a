package usecase

import (
	"encoding/json"
	"time"
)

// BATCH USECASE

// RunBatchReq — запрос на batch-векторизацию каталога.
type RunBatchReq struct {
	Concurrency int
	Limit       int
	Force       bool // переэмбеддинг уже обработанных товаров
}

// RunBatchRes — сводка одного прогона.
type RunBatchRes struct {
	Processed       int
	Skipped         int // уже обработанные, пропущены без обращения к inference
	FailedTransient int
	FailedPermanent int
}

// SEARCH USECASE

// FindSimilarReq — запрос похожих товаров. Источник запроса задаётся ровно
// одним из полей: Vector, ProductID, ImageURL или ImageBytes.
type FindSimilarReq struct {
	Vector     []float32
	ProductID  int64
	ImageURL   string
	ImageBytes []byte
	ImageMime  string

	Threshold  *float64 // nil — порог по умолчанию из конфигурации
	MaxResults *int     // nil — лимит по умолчанию
	ExcludeID  int64    // 0 — ничего не исключать
}

// ProductCard — DTO с витринными данными товара для обогащения результатов.
type ProductCard struct {
	ID         int64
	Title      string
	Brand      string
	Category   string
	Price      int64 // в копейках
	ImageURL   string
	ProductURL string
}

// SimilarProduct — один элемент ранжированного ответа.
type SimilarProduct struct {
	ProductID  int64
	Similarity float64
	Card       *ProductCard // nil, если карточка не нашлась
}

// FindSimilarRes — упорядоченный по убыванию сходства список.
// Пустой список — штатный ответ, не ошибка.
type FindSimilarRes struct {
	Results []SimilarProduct
}

// INFRASTRUCTURE

// StagedObject — результат re-hosting'а: ключ в бакете и публичная ссылка.
type StagedObject struct {
	Key       string
	PublicURL string
}

// EmbedRes — ответ inference-сервиса на одно изображение.
type EmbedRes struct {
	Vector       []float32
	ModelVersion string
}

// VectorSearchReq — запрос к бэкенду векторного поиска.
type VectorSearchReq struct {
	Vector    []float32
	Threshold float64
	Limit     int
	ExcludeID int64
}

type WriteRawMessageReq struct {
	ProductID int64
	Payload   []byte
}

// OUTBOX

type OutboxStatus string

const (
	Pending    OutboxStatus = "pending"
	Processing OutboxStatus = "processing"
	Processed  OutboxStatus = "processed"
)

type OutboxEventType string

const EventProductEmbedded OutboxEventType = "product.embedded"

type OutboxEvent struct {
	ID          int64
	EventID     string
	EventType   OutboxEventType
	ProductID   int64
	Payload     []byte
	Status      OutboxStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// ProductEmbeddedPayload — JSON-тело события product.embedded.
type ProductEmbeddedPayload struct {
	ProductID        int64  `json:"product_id"`
	EmbeddingVersion int32  `json:"embedding_version"`
	ModelVersion     string `json:"model_version"`
	EmbeddedAt       int64  `json:"embedded_at"` // unix nano, UTC
}

// MAPPERS

func NewRunBatchRes(processed, skipped, transient, permanent int) *RunBatchRes {
	return &RunBatchRes{
		Processed:       processed,
		Skipped:         skipped,
		FailedTransient: transient,
		FailedPermanent: permanent,
	}
}

func NewStagedObject(key, publicURL string) *StagedObject {
	return &StagedObject{
		Key:       key,
		PublicURL: publicURL,
	}
}

func NewEmbedRes(vector []float32, modelVersion string) *EmbedRes {
	return &EmbedRes{
		Vector:       vector,
		ModelVersion: modelVersion,
	}
}

func NewVectorSearchReq(vector []float32, threshold float64, limit int, excludeID int64) *VectorSearchReq {
	return &VectorSearchReq{
		Vector:    vector,
		Threshold: threshold,
		Limit:     limit,
		ExcludeID: excludeID,
	}
}

func NewWriteRawMessageReq(productID int64, payload []byte) *WriteRawMessageReq {
	return &WriteRawMessageReq{
		ProductID: productID,
		Payload:   payload,
	}
}

func NewProductEmbeddedEvent(eventID string, productID int64, embeddingVersion int32, modelVersion string) (*OutboxEvent, error) {
	payload, err := json.Marshal(&ProductEmbeddedPayload{
		ProductID:        productID,
		EmbeddingVersion: embeddingVersion,
		ModelVersion:     modelVersion,
		EmbeddedAt:       time.Now().UTC().UnixNano(),
	})
	if err != nil {
		return nil, err
	}

	return &OutboxEvent{
		EventID:   eventID,
		EventType: EventProductEmbedded,
		ProductID: productID,
		Payload:   payload,
		Status:    Pending,
		CreatedAt: time.Now().UTC(),
	}, nil
}
