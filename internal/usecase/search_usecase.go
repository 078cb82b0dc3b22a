package usecase

import (
	"context"

	"github.com/lookalike-tech/go-backend/internal/domain"
	"github.com/lookalike-tech/go-backend/pkg/e"
	"github.com/lookalike-tech/go-backend/pkg/logger"
)

// SearchUseCase отвечает на запрос "найди похожие товары": разрешает вектор
// запроса из одного из источников и выдаёт ранжированный список с карточками.
type SearchUseCase struct {
	productRepo ProductRepository
	vectorRepo  VectorRepository
	searcher    VectorSearcher
	cacheRepo   CacheRepository
	staging     StagingInfra
	embedder    EmbedderInfra
	logger      logger.Logger

	vectorSize       int
	defaultThreshold float64
	defaultLimit     int
}

func NewSearchUC(
	productRepo ProductRepository,
	vectorRepo VectorRepository,
	searcher VectorSearcher,
	cacheRepo CacheRepository,
	staging StagingInfra,
	embedder EmbedderInfra,
	logger logger.Logger,
	vectorSize int,
	defaultThreshold float64,
	defaultLimit int,
) *SearchUseCase {
	return &SearchUseCase{
		productRepo:      productRepo,
		vectorRepo:       vectorRepo,
		searcher:         searcher,
		cacheRepo:        cacheRepo,
		staging:          staging,
		embedder:         embedder,
		logger:           logger,
		vectorSize:       vectorSize,
		defaultThreshold: defaultThreshold,
		defaultLimit:     defaultLimit,
	}
}

// FindSimilar ищет ближайшие товары по одному из источников запроса.
// Пустой результат — штатный ответ.
func (s *SearchUseCase) FindSimilar(ctx context.Context, req *FindSimilarReq) (*FindSimilarRes, error) {
	const op = "SearchUseCase.FindSimilar"

	if err := validateQuerySource(req); err != nil {
		return nil, e.Wrap(op, err)
	}

	threshold := s.defaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	// Косинусная близость лежит в [-1, 1]; отрицательный порог валиден.
	if threshold < -1 || threshold > 1 {
		return nil, e.Wrap(op, e.ErrInvalidThreshold)
	}

	limit := s.defaultLimit
	if req.MaxResults != nil {
		limit = *req.MaxResults
	}
	if limit <= 0 {
		return nil, e.Wrap(op, e.ErrInvalidMaxResults)
	}

	vector, err := s.resolveQueryVector(ctx, req)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	excludeID := req.ExcludeID
	if excludeID == 0 && req.ProductID != 0 {
		// Поиск "похожие на товар X" не должен возвращать сам X.
		excludeID = req.ProductID
	}

	matches, err := s.searcher.SearchSimilar(ctx, NewVectorSearchReq(vector, threshold, limit, excludeID))
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	results := make([]SimilarProduct, 0, len(matches))
	if len(matches) == 0 {
		return &FindSimilarRes{Results: results}, nil
	}

	cards := s.collectCards(ctx, matches)
	for _, m := range matches {
		item := SimilarProduct{
			ProductID:  m.ProductID,
			Similarity: m.Similarity,
		}
		if card, ok := cards[m.ProductID]; ok {
			c := card
			item.Card = &c
		}
		results = append(results, item)
	}

	return &FindSimilarRes{Results: results}, nil
}

// validateQuerySource требует ровно один источник вектора запроса.
func validateQuerySource(req *FindSimilarReq) error {
	sources := 0
	if len(req.Vector) > 0 {
		sources++
	}
	if req.ProductID != 0 {
		sources++
	}
	if req.ImageURL != "" {
		sources++
	}
	if len(req.ImageBytes) > 0 {
		sources++
	}

	switch sources {
	case 0:
		return e.ErrNoQuerySource
	case 1:
		return nil
	default:
		return e.ErrAmbiguousQuerySource
	}
}

func (s *SearchUseCase) resolveQueryVector(ctx context.Context, req *FindSimilarReq) ([]float32, error) {
	switch {
	case len(req.Vector) > 0:
		if len(req.Vector) != s.vectorSize {
			return nil, &e.DimensionMismatchError{Got: len(req.Vector), Want: s.vectorSize}
		}
		return req.Vector, nil

	case req.ProductID != 0:
		return s.vectorForProduct(ctx, req.ProductID)

	case req.ImageURL != "":
		staged, release, err := s.staging.RehostFromURL(ctx, req.ImageURL)
		if err != nil {
			return nil, err
		}
		defer release()
		return s.embedStaged(ctx, staged)

	default:
		staged, release, err := s.staging.RehostBytes(ctx, req.ImageBytes, req.ImageMime)
		if err != nil {
			return nil, err
		}
		defer release()
		return s.embedStaged(ctx, staged)
	}
}

// vectorForProduct берёт сохранённый вектор товара, а при его отсутствии
// считает on-the-fly по исходному изображению, не записывая в каталог.
func (s *SearchUseCase) vectorForProduct(ctx context.Context, productID int64) ([]float32, error) {
	vector, err := s.vectorRepo.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if vector != nil {
		return vector, nil
	}

	product, err := s.productRepo.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.SourceImageURL == "" {
		return nil, e.ErrProductNoImage
	}

	staged, release, err := s.staging.RehostFromURL(ctx, product.SourceImageURL)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.embedStaged(ctx, staged)
}

func (s *SearchUseCase) embedStaged(ctx context.Context, staged *StagedObject) ([]float32, error) {
	res, err := s.embedder.EmbedImageURL(ctx, staged.PublicURL)
	if err != nil {
		return nil, err
	}
	return res.Vector, nil
}

// collectCards обогащает результаты карточками: сперва кэш, промахи добираются
// из БД и асинхронно прогреваются обратно. Сбой обогащения не валит поиск.
func (s *SearchUseCase) collectCards(ctx context.Context, matches []domain.SimilarityMatch) map[int64]ProductCard {
	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ProductID)
	}

	cards, err := s.cacheRepo.GetCards(ctx, ids)
	if err != nil {
		s.logger.Warnf("card cache lookup failed: %v", err)
		cards = make(map[int64]ProductCard, len(ids))
	}

	missed := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := cards[id]; !ok {
			missed = append(missed, id)
		}
	}
	if len(missed) == 0 {
		return cards
	}

	fetched, err := s.productRepo.GetCards(ctx, missed)
	if err != nil {
		s.logger.Warnf("card lookup failed for %d product(s): %v", len(missed), err)
		return cards
	}

	for _, card := range fetched {
		cards[card.ID] = card
	}

	// Прогрев кэша не задерживает ответ.
	go func(cards []ProductCard) {
		if err := s.cacheRepo.SetCards(context.WithoutCancel(ctx), cards); err != nil {
			s.logger.Warnf("card cache warmup failed: %v", err)
		}
	}(fetched)

	return cards
}
