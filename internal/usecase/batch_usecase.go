package usecase

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/lookalike-tech/go-backend/internal/domain"
	"github.com/lookalike-tech/go-backend/pkg/e"
	"github.com/lookalike-tech/go-backend/pkg/logger"
)

// BatchUseCase прогоняет каталог через конвейер
// скачивание → staging → inference → запись вектора, ведя журнал прогресса.
type BatchUseCase struct {
	productRepo ProductRepository
	vectorRepo  VectorRepository
	versionRepo EmbeddingVersionRepository
	outboxRepo  OutboxRepository
	annRepo     AnnIndexRepository // nil при бэкенде pgvector
	ledger      LedgerRepository
	staging     StagingInfra
	embedder    EmbedderInfra
	tx          Transactor
	logger      logger.Logger
	flushEvery  int
}

func NewBatchUC(
	productRepo ProductRepository,
	vectorRepo VectorRepository,
	versionRepo EmbeddingVersionRepository,
	outboxRepo OutboxRepository,
	annRepo AnnIndexRepository,
	ledger LedgerRepository,
	staging StagingInfra,
	embedder EmbedderInfra,
	tx Transactor,
	logger logger.Logger,
	flushEvery int,
) *BatchUseCase {
	if flushEvery <= 0 {
		flushEvery = 25
	}

	return &BatchUseCase{
		productRepo: productRepo,
		vectorRepo:  vectorRepo,
		versionRepo: versionRepo,
		outboxRepo:  outboxRepo,
		annRepo:     annRepo,
		ledger:      ledger,
		staging:     staging,
		embedder:    embedder,
		tx:          tx,
		logger:      logger,
		flushEvery:  flushEvery,
	}
}

// Run обрабатывает ещё не векторизованные товары пулом из req.Concurrency воркеров.
// Один id никогда не достаётся двум воркерам в рамках прогона; сбой элемента
// фиксируется в журнале и не прерывает остальных. Прерывание по ctx безопасно
// между элементами.
func (b *BatchUseCase) Run(ctx context.Context, req *RunBatchReq) (*RunBatchRes, error) {
	const op = "BatchUseCase.Run"

	if req.Concurrency <= 0 {
		return nil, e.Wrap(op, e.ErrInvalidConcurrency)
	}

	allIDs, err := b.productRepo.ListEmbeddableIDs(ctx)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	workSet, skipped, err := b.selectWorkSet(ctx, allIDs, req)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	b.logger.Infof("embedding batch: %d candidates, %d to process, %d already done", len(allIDs), len(workSet), skipped)

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		processed int
		transient int
		permanent int
		completed int
	)

	sem := make(chan struct{}, req.Concurrency)

	dispatched := 0
	for _, id := range workSet {
		// Прерывание строго между элементами: уже запущенные воркеры дорабатывают.
		if ctx.Err() != nil {
			b.logger.Warnf("batch interrupted, %d item(s) not started", len(workSet)-dispatched)
			break
		}
		dispatched++

		wg.Add(1)
		go func(productID int64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := b.embedOne(ctx, productID, req.Force)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				if lerr := b.ledger.MarkProcessed(ctx, productID); lerr != nil {
					b.logger.Warnf("mark processed failed, product_id=%d: %v", productID, lerr)
				}
				processed++
			case errors.Is(err, context.Canceled):
				// Элемент не начат либо брошен из-за остановки прогона: не фиксируем.
				return
			case e.IsPermanent(err):
				b.logger.Warnf("permanent failure, product_id=%d: %v", productID, err)
				if lerr := b.ledger.MarkFailed(ctx, productID, err.Error(), true); lerr != nil {
					b.logger.Warnf("mark failed failed, product_id=%d: %v", productID, lerr)
				}
				permanent++
			default:
				b.logger.Warnf("transient failure, product_id=%d: %v", productID, err)
				if lerr := b.ledger.MarkFailed(ctx, productID, err.Error(), false); lerr != nil {
					b.logger.Warnf("mark failed failed, product_id=%d: %v", productID, lerr)
				}
				transient++
			}

			completed++
			if completed%b.flushEvery == 0 {
				if ferr := b.ledger.Flush(ctx); ferr != nil {
					b.logger.Warnf("ledger flush failed: %v", ferr)
				}
			}
		}(id)
	}

	wg.Wait()

	// Финальный сброс переживает отмену ctx: успехи уже записаны в БД,
	// терять их отметки нельзя.
	if err := b.ledger.Flush(context.WithoutCancel(ctx)); err != nil {
		b.logger.Warnf("final ledger flush failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	return NewRunBatchRes(processed, skipped, transient, permanent), nil
}

// Progress возвращает агрегированное состояние журнала.
func (b *BatchUseCase) Progress(ctx context.Context) (*domain.LedgerStats, error) {
	return b.ledger.Stats(ctx)
}

// selectWorkSet отбирает рабочее множество прогона. При force журнал игнорируется.
func (b *BatchUseCase) selectWorkSet(ctx context.Context, allIDs []int64, req *RunBatchReq) ([]int64, int, error) {
	if req.Force {
		workSet := allIDs
		if req.Limit > 0 && len(workSet) > req.Limit {
			workSet = workSet[:req.Limit]
		}
		return workSet, 0, nil
	}

	workSet, err := b.ledger.NextBatch(ctx, allIDs, req.Limit)
	if err != nil {
		return nil, 0, err
	}

	stats, err := b.ledger.Stats(ctx)
	if err != nil {
		return nil, 0, err
	}

	return workSet, stats.Processed, nil
}

// embedOne выполняет конвейер одного товара. Staged-объект освобождается
// на любом пути выхода.
func (b *BatchUseCase) embedOne(ctx context.Context, productID int64, force bool) error {
	product, err := b.productRepo.GetByID(ctx, productID)
	if err != nil {
		return &e.PersistenceError{Err: err}
	}

	if product.HasEmbedding() && !force {
		// Вектор уже есть, но отметки в журнале не было (например, журнал
		// пересоздан или прошлый прогон упал после транзакции на апсерте
		// в ANN-индекс). Доводим индекс до согласованного состояния,
		// иначе товар останется невидимым для поиска.
		return b.upsertAnnPoint(ctx, productID, product.Embedding, "")
	}

	staged, release, err := b.staging.RehostFromURL(ctx, product.SourceImageURL)
	if err != nil {
		return err
	}
	defer release()

	res, err := b.embedder.EmbedImageURL(ctx, staged.PublicURL)
	if err != nil {
		return err
	}

	var version *domain.ProductEmbeddingVersion
	err = b.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := b.vectorRepo.Put(ctx, productID, res.Vector); err != nil {
			return err
		}

		version, err = b.versionRepo.Upsert(ctx, productID)
		if err != nil {
			return err
		}

		event, err := NewProductEmbeddedEvent(uuid.NewString(), productID, version.EmbeddingVersion, res.ModelVersion)
		if err != nil {
			return err
		}

		_, err = b.outboxRepo.Create(ctx, event)
		return err
	})
	if err != nil {
		return classifyPersistence(err)
	}

	return b.upsertAnnPoint(ctx, productID, res.Vector, res.ModelVersion)
}

// upsertAnnPoint обновляет точку во внешнем ANN-индексе, если он включён.
// Апсерт идемпотентен по id точки, поэтому повтор безопасен.
func (b *BatchUseCase) upsertAnnPoint(ctx context.Context, productID int64, vector []float32, modelVersion string) error {
	if b.annRepo == nil {
		return nil
	}

	if err := b.annRepo.Upsert(ctx, domain.NewEmbedding(productID, vector, modelVersion)); err != nil {
		return &e.PersistenceError{Err: err}
	}

	return nil
}

// classifyPersistence оставляет уже классифицированные ошибки конвейера как есть,
// остальное считает временным сбоем записи.
func classifyPersistence(err error) error {
	var dim *e.DimensionMismatchError
	if errors.As(err, &dim) {
		return err
	}

	var pers *e.PersistenceError
	if errors.As(err, &pers) {
		return err
	}

	return &e.PersistenceError{Err: err}
}
