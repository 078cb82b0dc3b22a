package usecase

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookalike-tech/go-backend/internal/domain"
	"github.com/lookalike-tech/go-backend/pkg/e"
)

const testDim = 4

func testVector() []float32 {
	return []float32{0.1, 0.2, 0.3, 0.4}
}

func testProduct(id int64) *domain.Product {
	return &domain.Product{
		ID:             id,
		Title:          fmt.Sprintf("product %d", id),
		Brand:          "acme",
		Category:       "sneakers",
		Price:          499900,
		SourceImageURL: fmt.Sprintf("https://cdn.example.com/img/%d.jpg", id),
		ProductURL:     fmt.Sprintf("https://shop.example.com/p/%d", id),
	}
}

type batchEnv struct {
	productRepo *mockProductRepo
	vectorRepo  *mockVectorRepo
	versionRepo *mockVersionRepo
	outboxRepo  *mockOutboxRepo
	annRepo     *mockAnnRepo
	ledger      *mockLedger
	staging     *mockStaging
	embedder    *mockEmbedder
	trace       *callTrace
	uc          *BatchUseCase
}

func newBatchEnv(products ...*domain.Product) *batchEnv {
	trace := &callTrace{}
	env := &batchEnv{
		productRepo: newMockProductRepo(products...),
		vectorRepo:  newMockVectorRepo(testDim, trace),
		versionRepo: newMockVersionRepo(),
		outboxRepo:  &mockOutboxRepo{},
		ledger:      newMockLedger(trace),
		staging:     newMockStaging(),
		embedder:    newMockEmbedder(testVector()),
		trace:       trace,
	}
	env.uc = NewBatchUC(
		env.productRepo,
		env.vectorRepo,
		env.versionRepo,
		env.outboxRepo,
		nil,
		env.ledger,
		env.staging,
		env.embedder,
		mockTransactor{},
		nopLogger{},
		5,
	)
	return env
}

// newBatchEnvWithAnn включает внешний ANN-индекс, как при SEARCH_BACKEND=qdrant.
func newBatchEnvWithAnn(products ...*domain.Product) *batchEnv {
	env := newBatchEnv(products...)
	env.annRepo = newMockAnnRepo()
	env.uc = NewBatchUC(
		env.productRepo,
		env.vectorRepo,
		env.versionRepo,
		env.outboxRepo,
		env.annRepo,
		env.ledger,
		env.staging,
		env.embedder,
		mockTransactor{},
		nopLogger{},
		5,
	)
	return env
}

func TestBatchRun_ProcessesAllCandidates(t *testing.T) {
	env := newBatchEnv(testProduct(1), testProduct(2), testProduct(3))

	res, err := env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 2})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 0, res.FailedTransient)
	assert.Equal(t, 0, res.FailedPermanent)

	for id := int64(1); id <= 3; id++ {
		vec, err := env.vectorRepo.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, testVector(), vec)
	}
	assert.Len(t, env.outboxRepo.events, 3)
}

func TestBatchRun_SecondRunSkipsProcessed(t *testing.T) {
	env := newBatchEnv(testProduct(1), testProduct(2))

	_, err := env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 1})
	require.NoError(t, err)
	require.Equal(t, 2, env.embedder.calls)

	res, err := env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 1})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 2, res.Skipped)
	// Пропуск не трогает inference.
	assert.Equal(t, 2, env.embedder.calls)
}

func TestBatchRun_ForceReembedsProcessed(t *testing.T) {
	env := newBatchEnv(testProduct(1))

	_, err := env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 1})
	require.NoError(t, err)

	res, err := env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 1, Force: true})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 2, env.embedder.calls)
	// Счётчик версии растёт при каждом переэмбеддинге.
	assert.Equal(t, int32(2), env.versionRepo.versions[1])
}

func TestBatchRun_TransientFailureRetriedOnNextRun(t *testing.T) {
	env := newBatchEnv(testProduct(1), testProduct(2))
	env.staging.errByURL["https://cdn.example.com/img/2.jpg"] = &e.DownloadError{
		URL: "https://cdn.example.com/img/2.jpg",
		Err: fmt.Errorf("status 503"),
	}

	res, err := env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.FailedTransient)

	delete(env.staging.errByURL, "https://cdn.example.com/img/2.jpg")

	res, err = env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.FailedTransient)
}

func TestBatchRun_PermanentFailureExcludedFromNextRun(t *testing.T) {
	env := newBatchEnv(testProduct(1), testProduct(2))
	// Inference отдаёт вектор чужой размерности для товара 2.
	env.embedder.perURL["2.jpg"] = []float32{0.1, 0.2}

	res, err := env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.FailedPermanent)

	calls := env.embedder.calls
	res, err = env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 0, res.FailedPermanent)
	// Постоянно-сбойный товар не попадает в рабочее множество.
	assert.Equal(t, calls, env.embedder.calls)
}

func TestBatchRun_StagedObjectReleasedOnEveryPath(t *testing.T) {
	env := newBatchEnv(testProduct(1), testProduct(2), testProduct(3))
	env.embedder.errByURL["2.jpg"] = &e.EmbeddingError{Permanent: false, Status: 503, Err: fmt.Errorf("overloaded")}
	env.embedder.perURL["3.jpg"] = []float32{0.5}

	_, err := env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 3})
	require.NoError(t, err)

	env.staging.mu.Lock()
	defer env.staging.mu.Unlock()
	assert.Equal(t, env.staging.rehosted, env.staging.released)
	assert.Equal(t, 3, env.staging.rehosted)
}

func TestBatchRun_VectorWrittenBeforeLedgerMark(t *testing.T) {
	env := newBatchEnv(testProduct(1), testProduct(2))

	_, err := env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 1})
	require.NoError(t, err)

	putAt := make(map[string]int)
	for i, call := range env.trace.snapshot() {
		if _, seen := putAt[call]; !seen {
			putAt[call] = i
		}
	}
	for _, id := range []int64{1, 2} {
		put, ok := putAt[fmt.Sprintf("put:%d", id)]
		require.True(t, ok)
		mark, ok := putAt[fmt.Sprintf("mark:%d", id)]
		require.True(t, ok)
		assert.Less(t, put, mark, "вектор пишется строго до отметки в журнале")
	}
}

func TestBatchRun_NoDoubleDispatch(t *testing.T) {
	products := make([]*domain.Product, 0, 20)
	for id := int64(1); id <= 20; id++ {
		products = append(products, testProduct(id))
	}
	env := newBatchEnv(products...)

	res, err := env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 8})
	require.NoError(t, err)

	assert.Equal(t, 20, res.Processed)
	// Каждый товар уходит в inference ровно один раз.
	assert.Equal(t, 20, env.embedder.calls)
}

func TestBatchRun_LimitCapsWorkSet(t *testing.T) {
	env := newBatchEnv(testProduct(1), testProduct(2), testProduct(3))

	res, err := env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 1, Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 2, env.embedder.calls)
}

func TestBatchRun_InvalidConcurrency(t *testing.T) {
	env := newBatchEnv(testProduct(1))

	_, err := env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 0})
	require.ErrorIs(t, err, e.ErrInvalidConcurrency)
}

func TestBatchRun_CancelledContextStopsDispatch(t *testing.T) {
	env := newBatchEnv(testProduct(1), testProduct(2), testProduct(3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := env.uc.Run(ctx, &RunBatchReq{Concurrency: 1})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 0, env.embedder.calls)

	// Повторный прогон с живым контекстом добирает всё множество.
	res, err = env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
}

func TestBatchRun_AnnUpsertAfterTransaction(t *testing.T) {
	env := newBatchEnvWithAnn(testProduct(1))

	res, err := env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 1})
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)

	vec, ok := env.annRepo.point(1)
	require.True(t, ok)
	assert.Equal(t, testVector(), vec)
}

func TestBatchRun_AnnUpsertFailureRetriedToIndex(t *testing.T) {
	env := newBatchEnvWithAnn(testProduct(1))
	env.annRepo.failWith(fmt.Errorf("qdrant unavailable"))

	// Первый прогон: транзакция с вектором прошла, апсерт в индекс упал —
	// товар остаётся в transient-сбойных.
	res, err := env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 1, res.FailedTransient)

	_, ok := env.annRepo.point(1)
	require.False(t, ok)

	// В БД вектор уже лежит: GetByID на повторе вернёт товар с эмбеддингом.
	env.productRepo.products[1].Embedding = testVector()
	env.annRepo.failWith(nil)

	// Повтор должен не только отметить товар обработанным,
	// но и довести точку до ANN-индекса.
	res, err = env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	vec, ok := env.annRepo.point(1)
	require.True(t, ok)
	assert.Equal(t, testVector(), vec)
	// Inference не дёргался повторно: вектор взят из БД.
	assert.Equal(t, 1, env.embedder.calls)
}

func TestBatchProgress(t *testing.T) {
	env := newBatchEnv(testProduct(1), testProduct(2))
	env.embedder.errByURL["2.jpg"] = &e.EmbeddingError{Permanent: true, Status: 422, Err: fmt.Errorf("corrupt image")}

	_, err := env.uc.Run(context.Background(), &RunBatchReq{Concurrency: 1})
	require.NoError(t, err)

	stats, err := env.uc.Progress(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.FailedPermanent)
}
