// Package embedder — HTTP-клиент inference-сервиса эмбеддингов изображений.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/lookalike-tech/go-backend/internal/cfg"
	"github.com/lookalike-tech/go-backend/internal/usecase"
	"github.com/lookalike-tech/go-backend/pkg/e"
	"github.com/lookalike-tech/go-backend/pkg/jitter"
	"github.com/lookalike-tech/go-backend/pkg/logger"
)

type embedRequest struct {
	Model    string `json:"model"`
	ImageURL string `json:"image_url"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// EmbedderInfrastructure ходит в inference-сервис с rate-limit'ом и повторами.
// Ответы 5xx и сетевые сбои повторяются с экспоненциальной задержкой,
// 4xx считаются постоянными и не повторяются.
type EmbedderInfrastructure struct {
	client      *http.Client
	cfg         *cfg.EmbedderCfg
	limiter     *rate.Limiter
	logger      logger.Logger
	backoffBase time.Duration
}

func NewEmbedderInfrastructure(cfg *cfg.EmbedderCfg, logger logger.Logger) *EmbedderInfrastructure {
	return &EmbedderInfrastructure{
		client:      &http.Client{Timeout: cfg.Timeout},
		cfg:         cfg,
		limiter:     rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RateBurst),
		logger:      logger,
		backoffBase: time.Second,
	}
}

// EmbedImageURL считает вектор одного изображения, доступного по imageURL.
// Размерность ответа сверяется с конфигурацией до возврата.
func (em *EmbedderInfrastructure) EmbedImageURL(ctx context.Context, imageURL string) (*usecase.EmbedRes, error) {
	var lastErr error

	for attempt := 0; attempt <= em.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			sleepTime := jitter.ExponentialBackoff(em.backoffBase, 30*time.Second, attempt-1, jitter.DefaultJitter)
			em.logger.Debugf("embedder retry %d after %v: %v", attempt, sleepTime, lastErr)

			select {
			case <-time.After(sleepTime):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := em.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		res, err := em.doRequest(ctx, imageURL)
		if err == nil {
			return res, nil
		}
		if e.IsPermanent(err) {
			return nil, err
		}

		lastErr = err
	}

	return nil, lastErr
}

func (em *EmbedderInfrastructure) doRequest(ctx context.Context, imageURL string) (*usecase.EmbedRes, error) {
	body, err := json.Marshal(embedRequest{
		Model:    em.cfg.Model,
		ImageURL: imageURL,
	})
	if err != nil {
		return nil, &e.EmbeddingError{Permanent: true, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, em.cfg.Endpoint+"/v1/embeddings/image", bytes.NewReader(body))
	if err != nil {
		return nil, &e.EmbeddingError{Permanent: true, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if em.cfg.ApiKey != "" {
		req.Header.Set("Authorization", "Bearer "+em.cfg.ApiKey)
	}

	resp, err := em.client.Do(req)
	if err != nil {
		return nil, &e.EmbeddingError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Тело с описанием ошибки полезно в журнале, но не в err-цепочке целиком.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return nil, &e.EmbeddingError{
			Permanent: resp.StatusCode >= 400 && resp.StatusCode < 500,
			Status:    resp.StatusCode,
			Err:       fmt.Errorf("inference responded %d: %s", resp.StatusCode, detail),
		}
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &e.EmbeddingError{Err: fmt.Errorf("decode response: %w", err)}
	}

	if len(decoded.Embedding) != em.cfg.VectorSize {
		return nil, &e.DimensionMismatchError{Got: len(decoded.Embedding), Want: em.cfg.VectorSize}
	}

	modelVersion := decoded.Model
	if modelVersion == "" {
		modelVersion = em.cfg.Model
	}

	return usecase.NewEmbedRes(decoded.Embedding, modelVersion), nil
}
