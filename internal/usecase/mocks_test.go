package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lookalike-tech/go-backend/internal/domain"
	"github.com/lookalike-tech/go-backend/pkg/e"
)

// --- Mocks ---

type mockProductRepo struct {
	mu       sync.Mutex
	products map[int64]*domain.Product
	getCalls int
}

func newMockProductRepo(products ...*domain.Product) *mockProductRepo {
	m := &mockProductRepo{products: make(map[int64]*domain.Product)}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *mockProductRepo) GetByID(_ context.Context, id int64) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	p, ok := m.products[id]
	if !ok {
		return nil, e.ErrProductNotFound
	}
	return p, nil
}

func (m *mockProductRepo) ListEmbeddableIDs(_ context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.products))
	for id, p := range m.products {
		if p.SourceImageURL != "" {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *mockProductRepo) GetCards(_ context.Context, ids []int64) ([]ProductCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cards := make([]ProductCard, 0, len(ids))
	for _, id := range ids {
		p, ok := m.products[id]
		if !ok {
			continue
		}
		cards = append(cards, ProductCard{
			ID:         p.ID,
			Title:      p.Title,
			Brand:      p.Brand,
			Category:   p.Category,
			Price:      p.Price,
			ImageURL:   p.SourceImageURL,
			ProductURL: p.ProductURL,
		})
	}
	return cards, nil
}

type mockVectorRepo struct {
	mu      sync.Mutex
	dim     int
	vectors map[int64][]float32
	putErr  error
	trace   *callTrace
}

func newMockVectorRepo(dim int, trace *callTrace) *mockVectorRepo {
	return &mockVectorRepo{
		dim:     dim,
		vectors: make(map[int64][]float32),
		trace:   trace,
	}
}

func (m *mockVectorRepo) Put(_ context.Context, productID int64, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	if len(vector) != m.dim {
		return &e.DimensionMismatchError{Got: len(vector), Want: m.dim}
	}
	m.vectors[productID] = vector
	if m.trace != nil {
		m.trace.add(fmt.Sprintf("put:%d", productID))
	}
	return nil
}

func (m *mockVectorRepo) Get(_ context.Context, productID int64) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vectors[productID], nil
}

type mockLedger struct {
	mu        sync.Mutex
	processed map[int64]bool
	failures  map[int64]domain.LedgerFailure
	flushes   int
	trace     *callTrace
}

func newMockLedger(trace *callTrace) *mockLedger {
	return &mockLedger{
		processed: make(map[int64]bool),
		failures:  make(map[int64]domain.LedgerFailure),
		trace:     trace,
	}
}

func (m *mockLedger) IsProcessed(_ context.Context, productID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[productID], nil
}

func (m *mockLedger) MarkProcessed(_ context.Context, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[productID] = true
	delete(m.failures, productID)
	if m.trace != nil {
		m.trace.add(fmt.Sprintf("mark:%d", productID))
	}
	return nil
}

func (m *mockLedger) MarkFailed(_ context.Context, productID int64, reason string, permanent bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	failure := m.failures[productID]
	failure.ProductID = productID
	failure.Reason = reason
	failure.Permanent = permanent
	failure.Attempts++
	m.failures[productID] = failure
	return nil
}

func (m *mockLedger) NextBatch(_ context.Context, allIDs []int64, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(allIDs))
	for _, id := range allIDs {
		if m.processed[id] {
			continue
		}
		if f, ok := m.failures[id]; ok && f.Permanent {
			continue
		}
		out = append(out, id)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockLedger) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

func (m *mockLedger) Stats(_ context.Context) (*domain.LedgerStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &domain.LedgerStats{Processed: len(m.processed)}
	for _, f := range m.failures {
		if f.Permanent {
			stats.FailedPermanent++
		} else {
			stats.FailedTransient++
		}
	}
	return stats, nil
}

type mockStaging struct {
	mu       sync.Mutex
	seq      int
	rehosted int
	released int
	errByURL map[string]error
	bytesErr error
}

func newMockStaging() *mockStaging {
	return &mockStaging{errByURL: make(map[string]error)}
}

func (m *mockStaging) RehostFromURL(_ context.Context, sourceURL string) (*StagedObject, ReleaseFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errByURL[sourceURL]; err != nil {
		return nil, nil, err
	}
	return m.stageLocked(sourceURL)
}

func (m *mockStaging) RehostBytes(_ context.Context, _ []byte, _ string) (*StagedObject, ReleaseFunc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bytesErr != nil {
		return nil, nil, m.bytesErr
	}
	return m.stageLocked("upload")
}

func (m *mockStaging) stageLocked(origin string) (*StagedObject, ReleaseFunc, error) {
	m.seq++
	m.rehosted++
	key := fmt.Sprintf("staging/%d", m.seq)
	release := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.released++
	}
	return NewStagedObject(key, "http://minio.local/"+key+"?origin="+origin), release, nil
}

type mockEmbedder struct {
	mu       sync.Mutex
	vector   []float32
	err      error
	calls    int
	perURL   map[string][]float32
	errByURL map[string]error
}

func newMockEmbedder(vector []float32) *mockEmbedder {
	return &mockEmbedder{
		vector:   vector,
		perURL:   make(map[string][]float32),
		errByURL: make(map[string]error),
	}
}

func (m *mockEmbedder) EmbedImageURL(_ context.Context, imageURL string) (*EmbedRes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	for origin, err := range m.errByURL {
		if containsOrigin(imageURL, origin) {
			return nil, err
		}
	}
	for origin, vec := range m.perURL {
		if containsOrigin(imageURL, origin) {
			return NewEmbedRes(vec, "clip-vit-b32-v1"), nil
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return NewEmbedRes(m.vector, "clip-vit-b32-v1"), nil
}

func containsOrigin(imageURL, origin string) bool {
	return len(origin) > 0 && len(imageURL) >= len(origin) &&
		imageURL[len(imageURL)-len(origin):] == origin
}

type mockVersionRepo struct {
	mu       sync.Mutex
	versions map[int64]int32
}

func newMockVersionRepo() *mockVersionRepo {
	return &mockVersionRepo{versions: make(map[int64]int32)}
}

func (m *mockVersionRepo) Upsert(_ context.Context, productID int64) (*domain.ProductEmbeddingVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[productID]++
	return &domain.ProductEmbeddingVersion{
		ProductID:        productID,
		EmbeddingVersion: m.versions[productID],
	}, nil
}

type mockOutboxRepo struct {
	mu     sync.Mutex
	events []*OutboxEvent
}

func (m *mockOutboxRepo) Create(_ context.Context, event *OutboxEvent) (*OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return event, nil
}

func (m *mockOutboxRepo) GetAndMarkAsProcessing(_ context.Context, _ int) ([]*OutboxEvent, error) {
	return nil, nil
}

func (m *mockOutboxRepo) MarkAsProcessed(_ context.Context, _ int64) error {
	return nil
}

type mockTransactor struct{}

func (mockTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockSearcher struct {
	mu      sync.Mutex
	matches []domain.SimilarityMatch
	err     error
	lastReq *VectorSearchReq
}

func (m *mockSearcher) SearchSimilar(_ context.Context, req *VectorSearchReq) ([]domain.SimilarityMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReq = req
	return m.matches, m.err
}

type mockAnnRepo struct {
	mu      sync.Mutex
	points  map[int64][]float32
	upserts int
	failErr error
}

func newMockAnnRepo() *mockAnnRepo {
	return &mockAnnRepo{points: make(map[int64][]float32)}
}

func (m *mockAnnRepo) SearchSimilar(_ context.Context, _ *VectorSearchReq) ([]domain.SimilarityMatch, error) {
	return nil, nil
}

func (m *mockAnnRepo) Upsert(_ context.Context, embedding *domain.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.failErr != nil {
		return m.failErr
	}
	m.points[embedding.ProductID] = embedding.Vector
	return nil
}

func (m *mockAnnRepo) failWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *mockAnnRepo) point(productID int64) ([]float32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.points[productID]
	return v, ok
}

type mockCache struct {
	mu    sync.Mutex
	cards map[int64]ProductCard
	sets  int
}

func newMockCache() *mockCache {
	return &mockCache{cards: make(map[int64]ProductCard)}
}

func (m *mockCache) GetCards(_ context.Context, ids []int64) (map[int64]ProductCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]ProductCard)
	for _, id := range ids {
		if card, ok := m.cards[id]; ok {
			out[id] = card
		}
	}
	return out, nil
}

func (m *mockCache) SetCards(_ context.Context, cards []ProductCard) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, card := range cards {
		m.cards[card.ID] = card
	}
	m.sets++
	return nil
}

func (m *mockCache) DeleteCards(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.cards, id)
	}
	return nil
}

// callTrace фиксирует порядок побочных эффектов конвейера.
type callTrace struct {
	mu    sync.Mutex
	calls []string
}

func (t *callTrace) add(call string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, call)
}

func (t *callTrace) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.calls))
	copy(out, t.calls)
	return out
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)        {}
func (nopLogger) Infof(string, ...any)         {}
func (nopLogger) Warnf(string, ...any)         {}
func (nopLogger) Errorf(error, string, ...any) {}
