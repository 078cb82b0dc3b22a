package minio

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookalike-tech/go-backend/internal/cfg"
	"github.com/lookalike-tech/go-backend/internal/domain"
)

type fakeObjectStore struct {
	putErr      error
	presignErr  error
	putKeys     []string
	removedKeys []string
}

func (f *fakeObjectStore) PutObject(_ context.Context, _, key string, _ io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	f.putKeys = append(f.putKeys, key)
	return minio.UploadInfo{Key: key}, nil
}

func (f *fakeObjectStore) PresignedGetObject(_ context.Context, bucket, key string, _ time.Duration, _ url.Values) (*url.URL, error) {
	if f.presignErr != nil {
		return nil, f.presignErr
	}
	return url.Parse("http://minio.local/" + bucket + "/" + key + "?X-Amz-Signature=abc")
}

func (f *fakeObjectStore) RemoveObject(_ context.Context, _, key string, _ minio.RemoveObjectOptions) error {
	f.removedKeys = append(f.removedKeys, key)
	return nil
}

func newTestStagingRepo(store *fakeObjectStore) *StagingRepo {
	return &StagingRepo{
		mc:      store,
		cfg:     &cfg.MinIOCfg{BucketName: "staging"},
		staging: &cfg.StagingCfg{PresignExpiry: 15 * time.Minute},
	}
}

func testStagedImage() *domain.StagedImage {
	return domain.NewStagedImage("id-1", "staging", "staging/1.jpg", []byte("jpeg-bytes"), "image/jpeg")
}

func TestStagingRepoUpload(t *testing.T) {
	store := &fakeObjectStore{}
	repo := newTestStagingRepo(store)

	link, err := repo.Upload(context.Background(), testStagedImage())
	require.NoError(t, err)

	assert.Contains(t, link, "staging/1.jpg")
	assert.Equal(t, []string{"staging/1.jpg"}, store.putKeys)
	assert.Empty(t, store.removedKeys)
}

func TestStagingRepoUpload_RemovesObjectOnPresignFailure(t *testing.T) {
	store := &fakeObjectStore{presignErr: fmt.Errorf("presign: invalid credentials")}
	repo := newTestStagingRepo(store)

	_, err := repo.Upload(context.Background(), testStagedImage())
	require.Error(t, err)

	// Без ссылки объект никому не отдать: загруженный ключ должен быть убран,
	// иначе он останется в бакете без хэндла на удаление.
	assert.Equal(t, []string{"staging/1.jpg"}, store.putKeys)
	assert.Equal(t, []string{"staging/1.jpg"}, store.removedKeys)
}

func TestStagingRepoUpload_PutFailureLeavesNothing(t *testing.T) {
	store := &fakeObjectStore{putErr: fmt.Errorf("bucket does not exist")}
	repo := newTestStagingRepo(store)

	_, err := repo.Upload(context.Background(), testStagedImage())
	require.Error(t, err)
	assert.Empty(t, store.removedKeys)
}

func TestStagingRepoDelete(t *testing.T) {
	store := &fakeObjectStore{}
	repo := newTestStagingRepo(store)

	require.NoError(t, repo.Delete(context.Background(), "staging/1.jpg"))
	assert.Equal(t, []string{"staging/1.jpg"}, store.removedKeys)
}
