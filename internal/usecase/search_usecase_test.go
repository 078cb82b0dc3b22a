package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookalike-tech/go-backend/internal/domain"
	"github.com/lookalike-tech/go-backend/pkg/e"
)

type searchEnv struct {
	productRepo *mockProductRepo
	vectorRepo  *mockVectorRepo
	searcher    *mockSearcher
	cache       *mockCache
	staging     *mockStaging
	embedder    *mockEmbedder
	uc          *SearchUseCase
}

func newSearchEnv(products ...*domain.Product) *searchEnv {
	env := &searchEnv{
		productRepo: newMockProductRepo(products...),
		vectorRepo:  newMockVectorRepo(testDim, nil),
		searcher:    &mockSearcher{},
		cache:       newMockCache(),
		staging:     newMockStaging(),
		embedder:    newMockEmbedder(testVector()),
	}
	env.uc = NewSearchUC(
		env.productRepo,
		env.vectorRepo,
		env.searcher,
		env.cache,
		env.staging,
		env.embedder,
		nopLogger{},
		testDim,
		0.4,
		20,
	)
	return env
}

func ptrFloat(v float64) *float64 { return &v }
func ptrInt(v int) *int           { return &v }

func TestFindSimilar_RequiresExactlyOneSource(t *testing.T) {
	env := newSearchEnv()

	_, err := env.uc.FindSimilar(context.Background(), &FindSimilarReq{})
	require.ErrorIs(t, err, e.ErrNoQuerySource)

	_, err = env.uc.FindSimilar(context.Background(), &FindSimilarReq{
		Vector:    testVector(),
		ProductID: 7,
	})
	require.ErrorIs(t, err, e.ErrAmbiguousQuerySource)
}

func TestFindSimilar_RawVectorDimensionChecked(t *testing.T) {
	env := newSearchEnv()

	_, err := env.uc.FindSimilar(context.Background(), &FindSimilarReq{
		Vector: []float32{0.1, 0.2},
	})

	var dim *e.DimensionMismatchError
	require.ErrorAs(t, err, &dim)
	assert.Equal(t, 2, dim.Got)
	assert.Equal(t, testDim, dim.Want)
}

func TestFindSimilar_ThresholdValidation(t *testing.T) {
	env := newSearchEnv()

	_, err := env.uc.FindSimilar(context.Background(), &FindSimilarReq{
		Vector:    testVector(),
		Threshold: ptrFloat(1.5),
	})
	require.ErrorIs(t, err, e.ErrInvalidThreshold)

	_, err = env.uc.FindSimilar(context.Background(), &FindSimilarReq{
		Vector:    testVector(),
		Threshold: ptrFloat(-1.5),
	})
	require.ErrorIs(t, err, e.ErrInvalidThreshold)

	// Косинусная близость определена на [-1, 1]: отрицательный порог допустим.
	_, err = env.uc.FindSimilar(context.Background(), &FindSimilarReq{
		Vector:    testVector(),
		Threshold: ptrFloat(-0.25),
	})
	require.NoError(t, err)
	assert.Equal(t, -0.25, env.searcher.lastReq.Threshold)

	_, err = env.uc.FindSimilar(context.Background(), &FindSimilarReq{
		Vector:     testVector(),
		MaxResults: ptrInt(0),
	})
	require.ErrorIs(t, err, e.ErrInvalidMaxResults)
}

func TestFindSimilar_DefaultsPassedToSearcher(t *testing.T) {
	env := newSearchEnv()

	_, err := env.uc.FindSimilar(context.Background(), &FindSimilarReq{Vector: testVector()})
	require.NoError(t, err)

	require.NotNil(t, env.searcher.lastReq)
	assert.Equal(t, 0.4, env.searcher.lastReq.Threshold)
	assert.Equal(t, 20, env.searcher.lastReq.Limit)
	assert.Equal(t, int64(0), env.searcher.lastReq.ExcludeID)
}

func TestFindSimilar_ExplicitParamsOverrideDefaults(t *testing.T) {
	env := newSearchEnv()

	_, err := env.uc.FindSimilar(context.Background(), &FindSimilarReq{
		Vector:     testVector(),
		Threshold:  ptrFloat(0.75),
		MaxResults: ptrInt(5),
	})
	require.NoError(t, err)

	assert.Equal(t, 0.75, env.searcher.lastReq.Threshold)
	assert.Equal(t, 5, env.searcher.lastReq.Limit)
}

func TestFindSimilar_ByProductUsesStoredVector(t *testing.T) {
	env := newSearchEnv(testProduct(7))
	require.NoError(t, env.vectorRepo.Put(context.Background(), 7, testVector()))

	_, err := env.uc.FindSimilar(context.Background(), &FindSimilarReq{ProductID: 7})
	require.NoError(t, err)

	// Сохранённый вектор не гоняется через inference заново.
	assert.Equal(t, 0, env.embedder.calls)
	assert.Equal(t, testVector(), env.searcher.lastReq.Vector)
	// Сам товар исключается из выдачи.
	assert.Equal(t, int64(7), env.searcher.lastReq.ExcludeID)
}

func TestFindSimilar_ByProductWithoutVectorEmbedsOnTheFly(t *testing.T) {
	env := newSearchEnv(testProduct(7))

	_, err := env.uc.FindSimilar(context.Background(), &FindSimilarReq{ProductID: 7})
	require.NoError(t, err)

	assert.Equal(t, 1, env.embedder.calls)
	// On-the-fly вектор не попадает в каталог.
	stored, err := env.vectorRepo.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestFindSimilar_ByProductWithoutImage(t *testing.T) {
	product := testProduct(7)
	product.SourceImageURL = ""
	env := newSearchEnv(product)

	_, err := env.uc.FindSimilar(context.Background(), &FindSimilarReq{ProductID: 7})
	require.ErrorIs(t, err, e.ErrProductNoImage)
}

func TestFindSimilar_ByImageBytesStagesAndReleases(t *testing.T) {
	env := newSearchEnv()

	_, err := env.uc.FindSimilar(context.Background(), &FindSimilarReq{
		ImageBytes: []byte{0xFF, 0xD8, 0xFF},
		ImageMime:  "image/jpeg",
	})
	require.NoError(t, err)

	env.staging.mu.Lock()
	defer env.staging.mu.Unlock()
	assert.Equal(t, 1, env.staging.rehosted)
	assert.Equal(t, 1, env.staging.released)
}

func TestFindSimilar_EmptyMatchesIsNotError(t *testing.T) {
	env := newSearchEnv()

	res, err := env.uc.FindSimilar(context.Background(), &FindSimilarReq{Vector: testVector()})
	require.NoError(t, err)

	assert.NotNil(t, res.Results)
	assert.Empty(t, res.Results)
}

func TestFindSimilar_EnrichesResultsWithCards(t *testing.T) {
	env := newSearchEnv(testProduct(1), testProduct(2))
	env.searcher.matches = []domain.SimilarityMatch{
		{ProductID: 1, Similarity: 0.93},
		{ProductID: 2, Similarity: 0.81},
		{ProductID: 99, Similarity: 0.52}, // карточки нет
	}

	res, err := env.uc.FindSimilar(context.Background(), &FindSimilarReq{Vector: testVector()})
	require.NoError(t, err)
	require.Len(t, res.Results, 3)

	assert.Equal(t, int64(1), res.Results[0].ProductID)
	assert.Equal(t, 0.93, res.Results[0].Similarity)
	require.NotNil(t, res.Results[0].Card)
	assert.Equal(t, "product 1", res.Results[0].Card.Title)

	require.NotNil(t, res.Results[1].Card)
	assert.Nil(t, res.Results[2].Card)

	// Порядок выдачи бэкенда сохраняется.
	assert.GreaterOrEqual(t, res.Results[0].Similarity, res.Results[1].Similarity)
	assert.GreaterOrEqual(t, res.Results[1].Similarity, res.Results[2].Similarity)
}

func TestFindSimilar_CacheHitSkipsRepo(t *testing.T) {
	env := newSearchEnv(testProduct(1))
	require.NoError(t, env.cache.SetCards(context.Background(), []ProductCard{{ID: 1, Title: "cached"}}))
	env.searcher.matches = []domain.SimilarityMatch{{ProductID: 1, Similarity: 0.9}}

	res, err := env.uc.FindSimilar(context.Background(), &FindSimilarReq{Vector: testVector()})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	require.NotNil(t, res.Results[0].Card)
	assert.Equal(t, "cached", res.Results[0].Card.Title)
}

func TestFindSimilar_CacheWarmedAfterMiss(t *testing.T) {
	env := newSearchEnv(testProduct(1))
	env.searcher.matches = []domain.SimilarityMatch{{ProductID: 1, Similarity: 0.9}}

	_, err := env.uc.FindSimilar(context.Background(), &FindSimilarReq{Vector: testVector()})
	require.NoError(t, err)

	// Прогрев идёт в фоне.
	assert.Eventually(t, func() bool {
		env.cache.mu.Lock()
		defer env.cache.mu.Unlock()
		_, ok := env.cache.cards[1]
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestFindSimilar_SelfSimilarityByStoredVector(t *testing.T) {
	env := newSearchEnv(testProduct(7))
	require.NoError(t, env.vectorRepo.Put(context.Background(), 7, testVector()))
	env.searcher.matches = []domain.SimilarityMatch{{ProductID: 7, Similarity: 1.0}}

	res, err := env.uc.FindSimilar(context.Background(), &FindSimilarReq{
		Vector: testVector(),
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.InDelta(t, 1.0, res.Results[0].Similarity, 1e-9)
}
