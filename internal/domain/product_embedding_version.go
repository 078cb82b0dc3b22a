package domain

import "time"

// ProductEmbeddingVersion — счётчик переэмбеддингов товара.
// Инкрементируется при каждой успешной (пере)векторизации.
type ProductEmbeddingVersion struct {
	ID               int64
	ProductID        int64
	EmbeddingVersion int32
	CreatedAt        time.Time
	UpdatedAt        *time.Time
}
