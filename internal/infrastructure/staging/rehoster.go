package staging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lookalike-tech/go-backend/internal/cfg"
	"github.com/lookalike-tech/go-backend/internal/domain"
	"github.com/lookalike-tech/go-backend/internal/infrastructure"
	"github.com/lookalike-tech/go-backend/internal/usecase"
	"github.com/lookalike-tech/go-backend/pkg/e"
	"github.com/lookalike-tech/go-backend/pkg/jitter"
	"github.com/lookalike-tech/go-backend/pkg/logger"
)

// StagingInfrastructure перекладывает исходные изображения во временный бакет
// и отвечает за их гарантированную очистку.
type StagingInfrastructure struct {
	downloader  *Downloader
	stagingRepo usecase.StagingRepository
	minioCfg    *cfg.MinIOCfg
	logger      logger.Logger
	shutdownCtx context.Context
	wg          sync.WaitGroup
}

func NewStagingInfrastructure(
	downloader *Downloader,
	stagingRepo usecase.StagingRepository,
	minioCfg *cfg.MinIOCfg,
	logger logger.Logger,
	shutdownCtx context.Context,
) *StagingInfrastructure {
	return &StagingInfrastructure{
		downloader:  downloader,
		stagingRepo: stagingRepo,
		minioCfg:    minioCfg,
		logger:      logger,
		shutdownCtx: shutdownCtx,
	}
}

// RehostFromURL скачивает изображение и кладёт его во временный бакет.
// Ключ уникален для каждой попытки, повторы не затирают друг друга.
func (s *StagingInfrastructure) RehostFromURL(ctx context.Context, sourceURL string) (*usecase.StagedObject, usecase.ReleaseFunc, error) {
	data, contentType, err := s.downloader.Fetch(ctx, sourceURL)
	if err != nil {
		return nil, nil, err
	}

	return s.stage(ctx, data, contentType)
}

// RehostBytes кладёт во временный бакет уже имеющиеся байты (фото из запроса).
func (s *StagingInfrastructure) RehostBytes(ctx context.Context, data []byte, contentType string) (*usecase.StagedObject, usecase.ReleaseFunc, error) {
	if len(data) == 0 {
		return nil, nil, e.ErrNoImage
	}

	return s.stage(ctx, data, contentType)
}

func (s *StagingInfrastructure) stage(ctx context.Context, data []byte, contentType string) (*usecase.StagedObject, usecase.ReleaseFunc, error) {
	ext, err := infrastructure.GetExtensionFromMIME(contentType)
	if err != nil {
		return nil, nil, fmt.Errorf("mime type %s: %w", contentType, err)
	}

	id := uuid.NewString()
	objKey := fmt.Sprintf("staging/%s.%s", id, ext)
	image := domain.NewStagedImage(id, s.minioCfg.BucketName, objKey, data, contentType)

	publicURL, err := s.stagingRepo.Upload(ctx, image)
	if err != nil {
		return nil, nil, &e.StagingError{Key: objKey, Err: err}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.wg.Add(1)
			go s.cleanupKey(objKey)
		})
	}

	return usecase.NewStagedObject(objKey, publicURL), release, nil
}

// cleanupKey удаляет staged-объект с экспоненциальной задержкой и jitter.
func (s *StagingInfrastructure) cleanupKey(key string) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.shutdownCtx, 30*time.Second)
	defer cancel()

	for attempt := 0; attempt < 3; attempt++ {
		if err := s.stagingRepo.Delete(ctx, key); err == nil {
			return
		}

		select {
		case <-ctx.Done():
			s.logger.Warnf("staging cleanup interrupted by shutdown, key=%v", key)
			return
		default:
		}

		if attempt < 2 {
			sleepTime := jitter.ExponentialBackoff(time.Second, 10*time.Second, attempt, jitter.DefaultJitter)
			select {
			case <-time.After(sleepTime):
			case <-ctx.Done():
				s.logger.Warnf("staging cleanup interrupted by shutdown during backoff, key=%v", key)
				return
			}
		}
	}

	s.logger.Warnf("staged object left behind after retries, key=%v", key)
}

// WaitForCleanup ожидает завершения фоновых задач очистки с учётом таймаута завершения приложения.
func (s *StagingInfrastructure) WaitForCleanup(shutdownTimeoutCtx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-shutdownTimeoutCtx.Done():
		return fmt.Errorf("staging cleanup timeout during shutdown: %w", shutdownTimeoutCtx.Err())
	}
}
