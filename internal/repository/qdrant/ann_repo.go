package qdrant

import (
	"context"
	"sort"

	"github.com/jimlawless/whereami"
	"github.com/qdrant/go-client/qdrant"

	"github.com/lookalike-tech/go-backend/internal/cfg"
	"github.com/lookalike-tech/go-backend/internal/domain"
	"github.com/lookalike-tech/go-backend/internal/usecase"
	"github.com/lookalike-tech/go-backend/pkg/e"
)

// AnnRepo — внешний ANN-индекс поверх Qdrant. Точка индекса использует
// product_id как числовой id, поэтому upsert идемпотентен.
type AnnRepo struct {
	client *qdrant.Client
	cfg    *cfg.QdrantCfg
}

func NewAnnRepo(client *qdrant.Client, cfg *cfg.QdrantCfg) *AnnRepo {
	return &AnnRepo{
		client: client,
		cfg:    cfg,
	}
}

// Upsert сохраняет или обновляет вектор товара в коллекции Qdrant.
func (q *AnnRepo) Upsert(ctx context.Context, embedding *domain.Embedding) error {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewIDNum(uint64(embedding.ProductID)),
		Vectors: qdrant.NewVectors(embedding.Vector...),
		Payload: qdrant.NewValueMap(map[string]any{
			"product_id":    embedding.ProductID,
			"model_version": embedding.ModelVersion,
		}),
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.CollectionName,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// SearchSimilar ищет ближайшие точки по косинусному сходству.
// Qdrant не гарантирует порядок при равных score, поэтому равные
// досортировываются по id.
func (q *AnnRepo) SearchSimilar(ctx context.Context, req *usecase.VectorSearchReq) ([]domain.SimilarityMatch, error) {
	query := &qdrant.QueryPoints{
		CollectionName: q.cfg.CollectionName,
		Query:          qdrant.NewQuery(req.Vector...),
		Limit:          qdrant.PtrOf(uint64(req.Limit)),
		ScoreThreshold: qdrant.PtrOf(float32(req.Threshold)),
	}

	if req.ExcludeID != 0 {
		query.Filter = &qdrant.Filter{
			MustNot: []*qdrant.Condition{
				qdrant.NewHasID(qdrant.NewIDNum(uint64(req.ExcludeID))),
			},
		}
	}

	points, err := q.client.Query(ctx, query)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	matches := make([]domain.SimilarityMatch, 0, len(points))
	for _, point := range points {
		matches = append(matches, domain.SimilarityMatch{
			ProductID:  int64(point.GetId().GetNum()),
			Similarity: float64(point.GetScore()),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ProductID < matches[j].ProductID
	})

	return matches, nil
}
