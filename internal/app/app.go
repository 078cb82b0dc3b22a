package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jimlawless/whereami"

	config "github.com/lookalike-tech/go-backend/internal/cfg"
	v1Http "github.com/lookalike-tech/go-backend/internal/delivery/v1/http"
	"github.com/lookalike-tech/go-backend/internal/infrastructure/embedder"
	"github.com/lookalike-tech/go-backend/internal/infrastructure/kafka"
	"github.com/lookalike-tech/go-backend/internal/infrastructure/staging"
	"github.com/lookalike-tech/go-backend/internal/repository/fileledger"
	"github.com/lookalike-tech/go-backend/internal/repository/memledger"
	s3Repo "github.com/lookalike-tech/go-backend/internal/repository/minio"
	"github.com/lookalike-tech/go-backend/internal/repository/pgdb"
	qdrantRepo "github.com/lookalike-tech/go-backend/internal/repository/qdrant"
	"github.com/lookalike-tech/go-backend/internal/repository/redis"
	"github.com/lookalike-tech/go-backend/internal/usecase"
	"github.com/lookalike-tech/go-backend/pkg/clients"
	"github.com/lookalike-tech/go-backend/pkg/closer"
	"github.com/lookalike-tech/go-backend/pkg/e"
	"github.com/lookalike-tech/go-backend/pkg/logger"
	"github.com/lookalike-tech/go-backend/pkg/postgres"
)

// App собирает все зависимости сервиса и управляет их жизненным циклом.
type App struct {
	cfg    *config.Config
	logger logger.Logger
	closer *closer.Closer

	db           *postgres.PgDatabase
	outboxWorker *kafka.OutboxWorker
	stagingInfra *staging.StagingInfrastructure
	httpSrv      *v1Http.Server

	batchUC  usecase.BatchUC
	searchUC usecase.SearchUC

	shutdownCancel context.CancelFunc
}

func NewApp(cfg *config.Config, log logger.Logger) (*App, error) {
	a := &App{
		cfg:    cfg,
		logger: log,
		closer: closer.NewCloser(2 * time.Second),
	}

	// Контекст фоновой очистки staged-объектов живёт дольше запросов,
	// но отменяется на shutdown.
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	a.shutdownCancel = shutdownCancel

	db, err := initPGDB(log, cfg)
	if err != nil {
		shutdownCancel()
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	a.db = db
	a.closer.Add(func(_ context.Context) error {
		db.Close()
		return nil
	})

	minioClient, err := clients.NewMinIOClient(cfg.Minio)
	if err != nil {
		shutdownCancel()
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	minioCtx, minioCancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = clients.EnsureBucket(minioCtx, minioClient, cfg.Minio.BucketName)
	minioCancel()
	if err != nil {
		shutdownCancel()
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	stagingRepo := s3Repo.NewStagingRepo(minioClient, cfg.Minio, cfg.Staging)
	downloader := staging.NewDownloader(cfg.Staging)
	a.stagingInfra = staging.NewStagingInfrastructure(downloader, stagingRepo, cfg.Minio, log, shutdownCtx)
	a.closer.Add(a.stagingInfra.WaitForCleanup)

	embedderInfra := embedder.NewEmbedderInfrastructure(cfg.Embedder, log)

	redisClient := clients.NewRedisClient(cfg.Redis)
	redisCtx, redisCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = redisClient.Ping(redisCtx)
	redisCancel()
	if err != nil {
		shutdownCancel()
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	a.closer.Add(func(_ context.Context) error {
		return redisClient.Client.Close()
	})
	cardCache := redis.NewCardCacheRepo(redisClient, cfg.Redis, log)

	productRepo := pgdb.NewProductRepo(db.Pool)
	vectorRepo := pgdb.NewVectorRepo(db.Pool, cfg.Embedder.VectorSize)
	versionRepo := pgdb.NewProductEmbeddingVersionRepo(db.Pool)
	outboxRepo := pgdb.NewOutboxEventRepo(db.Pool)
	txManager := pgdb.NewTxManager(db.Pool)

	ledger, err := a.initLedger()
	if err != nil {
		shutdownCancel()
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	var searcher usecase.VectorSearcher = vectorRepo
	var annRepo usecase.AnnIndexRepository
	if cfg.Search.Backend == config.SearchBackendQdrant {
		qdrantClient, err := clients.NewQdrantClient(cfg.Qdrant)
		if err != nil {
			shutdownCancel()
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		qdrantCtx, qdrantCancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = clients.EnsureCollection(qdrantCtx, qdrantClient, uint64(cfg.Embedder.VectorSize))
		qdrantCancel()
		if err != nil {
			shutdownCancel()
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		a.closer.Add(func(_ context.Context) error {
			return qdrantClient.Client.Close()
		})

		ann := qdrantRepo.NewAnnRepo(qdrantClient.Client, cfg.Qdrant)
		searcher = ann
		annRepo = ann
	}

	producer, err := kafka.NewProducer(log, cfg.Kafka)
	if err != nil {
		shutdownCancel()
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	if err := producer.EnsureTopic(10 * time.Second); err != nil {
		shutdownCancel()
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	a.closer.Add(func(_ context.Context) error {
		return producer.Close()
	})

	a.outboxWorker = kafka.NewOutboxWorker(outboxRepo, log, producer, db.Dsn)
	a.closer.Add(func(_ context.Context) error {
		a.outboxWorker.Stop()
		return nil
	})

	a.batchUC = usecase.NewBatchUC(
		productRepo,
		vectorRepo,
		versionRepo,
		outboxRepo,
		annRepo,
		ledger,
		a.stagingInfra,
		embedderInfra,
		txManager,
		log,
		cfg.Batch.FlushEvery,
	)

	a.searchUC = usecase.NewSearchUC(
		productRepo,
		vectorRepo,
		searcher,
		cardCache,
		a.stagingInfra,
		embedderInfra,
		log,
		cfg.Embedder.VectorSize,
		cfg.Search.DefaultThreshold,
		cfg.Search.DefaultLimit,
	)

	r := chi.NewRouter()
	router := v1Http.NewRouter(r, log)
	router.Init(a.searchUC, a.batchUC, cfg.Batch)
	a.httpSrv = v1Http.NewServer(r, cfg.Http)

	return a, nil
}

// Run запускает HTTP-сервер и outbox-worker и блокируется до сигнала
// завершения или фатальной ошибки сервера.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.outboxWorker.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("HTTP server started on port %s", a.cfg.Http.Port)
		if err := a.httpSrv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Errorf(err, "HTTP server failed")
			errCh <- err
		}
	}()

	var appErr error
	select {
	case appErr = <-errCh:
	case <-ctx.Done():
		a.logger.Infof("Received shutdown signal, stopping gracefully...")
	}

	a.shutdown()
	return appErr
}

// RunBatch выполняет один batch-прогон без HTTP-сервера (режим CLI).
func (a *App) RunBatch(ctx context.Context, req *usecase.RunBatchReq) (*usecase.RunBatchRes, error) {
	a.outboxWorker.Start(ctx)
	defer a.shutdown()

	return a.batchUC.Run(ctx, req)
}

func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpSrv.Stop(shutdownCtx); err != nil {
		a.logger.Errorf(err, "HTTP server shutdown error")
	} else {
		a.logger.Infof("HTTP server stopped")
	}

	// Фоновая очистка staged-объектов должна успеть до отмены shutdownCtx.
	if err := a.closer.Close(shutdownCtx); err != nil {
		a.logger.Warnf("shutdown finished with errors: %v", err)
	}

	a.shutdownCancel()
	a.logger.Infof("Application shutdown complete")
}

func (a *App) initLedger() (usecase.LedgerRepository, error) {
	switch a.cfg.Ledger.Backend {
	case config.LedgerBackendFile:
		return fileledger.New(a.cfg.Ledger.FilePath)
	case config.LedgerBackendPgdb:
		return pgdb.NewLedgerRepo(a.db.Pool), nil
	default:
		// Неизвестный бэкенд журнала — одноразовый прогон без resume.
		a.logger.Warnf("unknown ledger backend %q, falling back to in-memory", a.cfg.Ledger.Backend)
		return memledger.New(), nil
	}
}

func initPGDB(logger logger.Logger, cfg *config.Config) (*postgres.PgDatabase, error) {
	db, err := postgres.Connect(cfg.Db)
	if err != nil {
		logger.Errorf(err, "failed to connect to database")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.RunMigrations(logger); err != nil {
		logger.Errorf(err, "failed to run migrations")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.Ping(); err != nil {
		logger.Errorf(err, "failed to ping database")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return db, nil
}
