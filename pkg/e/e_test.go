package e

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{
			name:      "download error is transient",
			err:       &DownloadError{URL: "http://example.com/a.jpg", Err: errors.New("status 404")},
			permanent: false,
		},
		{
			name:      "staging error is transient",
			err:       &StagingError{Key: "staging/x.jpg", Err: errors.New("connection refused")},
			permanent: false,
		},
		{
			name:      "transient embedding error",
			err:       &EmbeddingError{Permanent: false, Status: 503, Err: errors.New("unavailable")},
			permanent: false,
		},
		{
			name:      "permanent embedding error",
			err:       &EmbeddingError{Permanent: true, Status: 422, Err: errors.New("unsupported input")},
			permanent: true,
		},
		{
			name:      "dimension mismatch is always permanent",
			err:       &DimensionMismatchError{Got: 512, Want: 768},
			permanent: true,
		},
		{
			name:      "unsupported url scheme is permanent",
			err:       &DownloadError{URL: "ftp://example.com/a.jpg", Err: ErrUnsupportedURLScheme},
			permanent: true,
		},
		{
			name:      "persistence error is transient",
			err:       &PersistenceError{Err: errors.New("deadlock detected")},
			permanent: false,
		},
		{
			name:      "wrapped permanent error keeps classification",
			err:       Wrap("worker 3", &DimensionMismatchError{Got: 384, Want: 768}),
			permanent: true,
		},
		{
			name:      "plain error is transient",
			err:       errors.New("boom"),
			permanent: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
		})
	}
}

func TestUnwrapChain(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := fmt.Errorf("attempt 2: %w", &EmbeddingError{Status: 0, Err: cause})

	var emb *EmbeddingError
	assert.True(t, errors.As(err, &emb))
	assert.ErrorIs(t, err, cause)
}
