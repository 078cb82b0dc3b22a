package pgdb

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lookalike-tech/go-backend/internal/domain"
	"github.com/lookalike-tech/go-backend/pkg/e"
	"github.com/lookalike-tech/go-backend/pkg/tr"
)

// querier покрывает и пул, и открытую транзакцию.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txOrPool отдаёт транзакцию из контекста, а вне транзакции — пул.
func txOrPool(ctx context.Context, pool *pgxpool.Pool) (querier, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		if errors.Is(err, e.ErrTransactionNotFound) {
			return pool, nil
		}

		return nil, err
	}

	return tx, nil
}

// postgresDuplicate распознаёт нарушение уникального ограничения.
func postgresDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func toProductEntity(model *ProductModel) *domain.Product {
	product := &domain.Product{
		ID:             model.ID,
		Title:          model.Title,
		Brand:          model.Brand,
		Category:       model.Category,
		Price:          model.Price,
		SourceImageURL: model.SourceImageURL,
		ProductURL:     model.ProductURL,
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}
	if model.Embedding != nil {
		product.Embedding = model.Embedding.Slice()
	}

	return product
}

func toVersionEntity(model *ProductEmbeddingVersionModel) *domain.ProductEmbeddingVersion {
	return &domain.ProductEmbeddingVersion{
		ID:               model.ID,
		ProductID:        model.ProductID,
		EmbeddingVersion: model.EmbeddingVersion,
		CreatedAt:        model.CreatedAt,
		UpdatedAt:        model.UpdatedAt,
	}
}
