package usecase

import (
	"context"

	"github.com/lookalike-tech/go-backend/internal/domain"
)

type BatchUC interface {
	Run(ctx context.Context, req *RunBatchReq) (*RunBatchRes, error)
	Progress(ctx context.Context) (*domain.LedgerStats, error)
}

type SearchUC interface {
	FindSimilar(ctx context.Context, req *FindSimilarReq) (*FindSimilarRes, error)
}
