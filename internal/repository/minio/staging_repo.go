package minio

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"time"

	"github.com/jimlawless/whereami"
	"github.com/minio/minio-go/v7"

	"github.com/lookalike-tech/go-backend/internal/cfg"
	"github.com/lookalike-tech/go-backend/internal/domain"
	"github.com/lookalike-tech/go-backend/pkg/e"
)

// objectStore — операции MinIO, которыми пользуется staging-хранилище.
// *minio.Client удовлетворяет контракту.
type objectStore interface {
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, key string, expiry time.Duration, reqParams url.Values) (*url.URL, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
}

// StagingRepo хранит временные staged-изображения в MinIO.
type StagingRepo struct {
	mc      objectStore
	cfg     *cfg.MinIOCfg
	staging *cfg.StagingCfg
}

func NewStagingRepo(mc *minio.Client, cfg *cfg.MinIOCfg, staging *cfg.StagingCfg) *StagingRepo {
	return &StagingRepo{
		mc:      mc,
		cfg:     cfg,
		staging: staging,
	}
}

// Upload кладёт объект в бакет и возвращает подписанную ссылку,
// по которой inference-сервис заберёт изображение.
func (s *StagingRepo) Upload(ctx context.Context, image *domain.StagedImage) (string, error) {
	reader := bytes.NewReader(image.Bytes)

	_, err := s.mc.PutObject(ctx, image.Bucket, image.ObjectKey, reader, image.Size, minio.PutObjectOptions{
		ContentType: image.ContentType,
	})
	if err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	presigned, err := s.mc.PresignedGetObject(ctx, image.Bucket, image.ObjectKey, s.staging.PresignExpiry, url.Values{})
	if err != nil {
		// Ссылки не будет, хэндл на удаление тоже не создастся:
		// убираем объект сразу, чтобы он не осиротел в бакете.
		_ = s.mc.RemoveObject(ctx, image.Bucket, image.ObjectKey, minio.RemoveObjectOptions{})
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	return presigned.String(), nil
}

// Delete удаляет staged-объект по ключу.
func (s *StagingRepo) Delete(ctx context.Context, key string) error {
	if err := s.mc.RemoveObject(ctx, s.cfg.BucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}
