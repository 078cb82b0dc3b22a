package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/lookalike-tech/go-backend/internal/cfg"
	"github.com/lookalike-tech/go-backend/internal/usecase"
	"github.com/lookalike-tech/go-backend/pkg/e"
	"github.com/lookalike-tech/go-backend/pkg/logger"
)

type BatchHandler struct {
	batchUsecase usecase.BatchUC
	cfg          *cfg.BatchCfg
	logger       logger.Logger
}

func NewBatchHandler(batchUsecase usecase.BatchUC, cfg *cfg.BatchCfg, logger logger.Logger) *BatchHandler {
	return &BatchHandler{batchUsecase: batchUsecase, cfg: cfg, logger: logger}
}

type runBatchRequest struct {
	Concurrency int  `json:"concurrency,omitempty"`
	Limit       int  `json:"limit,omitempty"`
	Force       bool `json:"force,omitempty"`
}

type runBatchResponse struct {
	Processed       int `json:"processed"`
	Skipped         int `json:"skipped"`
	FailedTransient int `json:"failed_transient"`
	FailedPermanent int `json:"failed_permanent"`
}

type progressResponse struct {
	Processed       int `json:"processed"`
	FailedTransient int `json:"failed_transient"`
	FailedPermanent int `json:"failed_permanent"`
}

// runBatch
//
//	@Summary		Batch-векторизация каталога
//	@Description	Прогоняет ещё не обработанные товары через конвейер эмбеддингов. Повторный вызов доделывает прерванный прогон
//	@Tags			embeddings
//	@Accept			json
//	@Produce		json
//	@Param			request	body		runBatchRequest		false	"Параметры прогона"
//	@Success		200		{object}	runBatchResponse	"Сводка прогона"
//	@Failure		400		{object}	ErrorResponse		"Ошибка валидации"
//	@Router			/embeddings/batch [post]
func (b *BatchHandler) runBatch(w http.ResponseWriter, r *http.Request) {
	var body runBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, e.ErrStatusBadRequest)
		return
	}

	req := &usecase.RunBatchReq{
		Concurrency: body.Concurrency,
		Limit:       body.Limit,
		Force:       body.Force,
	}
	if req.Concurrency == 0 {
		req.Concurrency = b.cfg.Concurrency
	}
	if req.Limit == 0 {
		req.Limit = b.cfg.Limit
	}

	res, err := b.batchUsecase.Run(r.Context(), req)
	if err != nil {
		b.logger.Warnf("batch run failed: %s", err.Error())
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, runBatchResponse{
		Processed:       res.Processed,
		Skipped:         res.Skipped,
		FailedTransient: res.FailedTransient,
		FailedPermanent: res.FailedPermanent,
	})
}

// progress
//
//	@Summary		Прогресс векторизации
//	@Description	Агрегированное состояние журнала прогресса
//	@Tags			embeddings
//	@Produce		json
//	@Success		200	{object}	progressResponse	"Состояние журнала"
//	@Router			/embeddings/progress [get]
func (b *BatchHandler) progress(w http.ResponseWriter, r *http.Request) {
	stats, err := b.batchUsecase.Progress(r.Context())
	if err != nil {
		b.logger.Warnf("progress lookup failed: %s", err.Error())
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, progressResponse{
		Processed:       stats.Processed,
		FailedTransient: stats.FailedTransient,
		FailedPermanent: stats.FailedPermanent,
	})
}
