package pgdb

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
	"github.com/pgvector/pgvector-go"

	"github.com/lookalike-tech/go-backend/internal/domain"
	"github.com/lookalike-tech/go-backend/internal/usecase"
	"github.com/lookalike-tech/go-backend/pkg/e"
)

// VectorRepo хранит эмбеддинги в векторной колонке таблицы products
// и ищет соседей косинусным оператором pgvector.
type VectorRepo struct {
	pool *pgxpool.Pool
	dim  int
}

func NewVectorRepo(pool *pgxpool.Pool, dim int) *VectorRepo {
	return &VectorRepo{
		pool: pool,
		dim:  dim,
	}
}

// Put пишет вектор товара внутри транзакции элемента.
// Размерность проверяется до обращения к БД.
func (v *VectorRepo) Put(ctx context.Context, productID int64, vector []float32) error {
	if len(vector) != v.dim {
		return &e.DimensionMismatchError{Got: len(vector), Want: v.dim}
	}

	tx, err := txOrPool(ctx, v.pool)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	query := `
		UPDATE products
		SET embedding = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := tx.Exec(ctx, query, pgvector.NewVector(vector), productID)
	if err != nil {
		return &e.PersistenceError{Err: e.Wrap(whereami.WhereAmI(), err)}
	}
	if result.RowsAffected() == 0 {
		return e.Wrap(whereami.WhereAmI(), e.ErrProductNotFound)
	}

	return nil
}

// Get возвращает сохранённый вектор или nil, если товар ещё не векторизован.
func (v *VectorRepo) Get(ctx context.Context, productID int64) ([]float32, error) {
	query := `
		SELECT embedding
		FROM products
		WHERE id = $1
	`

	var embedding *pgvector.Vector
	err := v.pool.QueryRow(ctx, query, productID).Scan(&embedding)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, e.Wrap(whereami.WhereAmI(), e.ErrProductNotFound)
		}

		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if embedding == nil {
		return nil, nil
	}

	return embedding.Slice(), nil
}

// SearchSimilar возвращает ближайшие товары по косинусному сходству.
// Сортировка: сходство по убыванию, при равенстве id по возрастанию.
func (v *VectorRepo) SearchSimilar(ctx context.Context, req *usecase.VectorSearchReq) ([]domain.SimilarityMatch, error) {
	if len(req.Vector) != v.dim {
		return nil, &e.DimensionMismatchError{Got: len(req.Vector), Want: v.dim}
	}

	query := `
		SELECT id, 1 - (embedding <=> $1) AS similarity
		FROM products
		WHERE embedding IS NOT NULL
		  AND ($2 = 0 OR id <> $2)
		  AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1 ASC, id ASC
		LIMIT $4
	`

	rows, err := v.pool.Query(ctx, query,
		pgvector.NewVector(req.Vector),
		req.ExcludeID,
		req.Threshold,
		req.Limit,
	)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	matches := make([]domain.SimilarityMatch, 0, req.Limit)
	for rows.Next() {
		var match domain.SimilarityMatch
		if err := rows.Scan(&match.ProductID, &match.Similarity); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return matches, nil
}
