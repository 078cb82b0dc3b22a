// CLI-прогон batch-векторизации каталога без HTTP-сервера.
// Прерванный прогон безопасно перезапускать: журнал прогресса
// доделает только необработанные товары.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lookalike-tech/go-backend/internal/app"
	config "github.com/lookalike-tech/go-backend/internal/cfg"
	"github.com/lookalike-tech/go-backend/internal/usecase"
	"github.com/lookalike-tech/go-backend/pkg/logger"
)

func main() {
	var (
		concurrency = flag.Int("concurrency", 0, "размер пула воркеров (0 — из конфигурации)")
		limit       = flag.Int("limit", 0, "максимум товаров за прогон (0 — из конфигурации)")
		force       = flag.Bool("force", false, "переэмбеддинг уже обработанных товаров")
	)
	flag.Parse()

	log := logger.NewSlogLogger()

	cfg, err := config.Load(log)
	if err != nil {
		log.Errorf(err, "failed to load config")
		os.Exit(1)
	}

	application, err := app.NewApp(cfg, log)
	if err != nil {
		log.Errorf(err, "failed to initialize app")
		os.Exit(1)
	}

	req := &usecase.RunBatchReq{
		Concurrency: *concurrency,
		Limit:       *limit,
		Force:       *force,
	}
	if req.Concurrency == 0 {
		req.Concurrency = cfg.Batch.Concurrency
	}
	if req.Limit == 0 {
		req.Limit = cfg.Batch.Limit
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := application.RunBatch(ctx, req)
	if err != nil {
		log.Errorf(err, "batch run failed")
		os.Exit(1)
	}

	fmt.Printf("processed=%d skipped=%d failed_transient=%d failed_permanent=%d\n",
		res.Processed, res.Skipped, res.FailedTransient, res.FailedPermanent)
}
