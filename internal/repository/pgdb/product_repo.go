package pgdb

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"

	"github.com/lookalike-tech/go-backend/internal/domain"
	"github.com/lookalike-tech/go-backend/internal/usecase"
	"github.com/lookalike-tech/go-backend/pkg/e"
)

// ProductRepo реализует репозиторий каталога поверх PostgreSQL.
// Строки каталога создаёт внешний ingestion; здесь только чтение.
type ProductRepo struct {
	pool *pgxpool.Pool
}

func NewProductRepo(pool *pgxpool.Pool) *ProductRepo {
	return &ProductRepo{pool: pool}
}

func (p *ProductRepo) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	query := `
		SELECT id, title, brand, category, price, source_image_url, product_url,
		       embedding, created_at, updated_at
		FROM products
		WHERE id = $1
	`

	var model ProductModel
	err := p.pool.QueryRow(ctx, query, id).Scan(
		&model.ID,
		&model.Title,
		&model.Brand,
		&model.Category,
		&model.Price,
		&model.SourceImageURL,
		&model.ProductURL,
		&model.Embedding,
		&model.CreatedAt,
		&model.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, e.Wrap(whereami.WhereAmI(), e.ErrProductNotFound)
		}

		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return toProductEntity(&model), nil
}

// ListEmbeddableIDs возвращает id товаров с исходным изображением, по возрастанию.
func (p *ProductRepo) ListEmbeddableIDs(ctx context.Context) ([]int64, error) {
	query := `
		SELECT id
		FROM products
		WHERE source_image_url <> ''
		ORDER BY id
	`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return ids, nil
}

// GetCards возвращает витринные карточки товаров по их идентификаторам.
func (p *ProductRepo) GetCards(ctx context.Context, ids []int64) ([]usecase.ProductCard, error) {
	query := `
		SELECT id, title, brand, category, price, source_image_url, product_url
		FROM products
		WHERE id = ANY($1)
	`

	rows, err := p.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	cards := make([]usecase.ProductCard, 0, len(ids))
	for rows.Next() {
		var card usecase.ProductCard
		err := rows.Scan(
			&card.ID,
			&card.Title,
			&card.Brand,
			&card.Category,
			&card.Price,
			&card.ImageURL,
			&card.ProductURL,
		)
		if err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return cards, nil
}
