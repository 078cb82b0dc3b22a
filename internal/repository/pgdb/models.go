package pgdb

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Скан-модели строк PostgreSQL.

type ProductModel struct {
	ID             int64
	Title          string
	Brand          string
	Category       string
	Price          int64
	SourceImageURL string
	ProductURL     string
	Embedding      *pgvector.Vector
	CreatedAt      time.Time
	UpdatedAt      *time.Time
}

type ProductEmbeddingVersionModel struct {
	ID               int64
	ProductID        int64
	EmbeddingVersion int32
	CreatedAt        time.Time
	UpdatedAt        *time.Time
}

type OutboxEventModel struct {
	ID          int64
	EventID     string
	EventType   string
	ProductID   int64
	Payload     []byte
	Status      string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

type ledgerRowModel struct {
	ProductID int64
	Status    string
	Reason    *string
	Attempts  int
	UpdatedAt time.Time
}
