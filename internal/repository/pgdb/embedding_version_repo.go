package pgdb

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"

	"github.com/lookalike-tech/go-backend/internal/domain"
	"github.com/lookalike-tech/go-backend/pkg/e"
	"github.com/lookalike-tech/go-backend/pkg/tr"
)

type ProductEmbeddingVersionRepo struct {
	pool *pgxpool.Pool
}

func NewProductEmbeddingVersionRepo(pool *pgxpool.Pool) *ProductEmbeddingVersionRepo {
	return &ProductEmbeddingVersionRepo{pool: pool}
}

// Upsert инкрементирует счётчик переэмбеддингов товара. Вызывается строго
// внутри транзакции записи вектора.
func (p *ProductEmbeddingVersionRepo) Upsert(ctx context.Context, productID int64) (*domain.ProductEmbeddingVersion, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	var model ProductEmbeddingVersionModel
	query := `
	INSERT INTO product_embedding_version (product_id)
    VALUES ($1)
    ON CONFLICT (product_id)
    DO UPDATE SET embedding_version = product_embedding_version.embedding_version + 1,
                  updated_at = NOW()
    RETURNING id, product_id, embedding_version, created_at, updated_at;
	`

	err = tx.QueryRow(ctx, query, productID).Scan(
		&model.ID,
		&model.ProductID,
		&model.EmbeddingVersion,
		&model.CreatedAt,
		&model.UpdatedAt,
	)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return toVersionEntity(&model), nil
}
