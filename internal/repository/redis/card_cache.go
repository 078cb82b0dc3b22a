package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jimlawless/whereami"

	"github.com/lookalike-tech/go-backend/internal/cfg"
	"github.com/lookalike-tech/go-backend/internal/usecase"
	"github.com/lookalike-tech/go-backend/pkg/clients"
	"github.com/lookalike-tech/go-backend/pkg/e"
	"github.com/lookalike-tech/go-backend/pkg/logger"
)

// cardModel — сериализация карточки товара в кэше.
type cardModel struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Brand      string `json:"brand"`
	Category   string `json:"category"`
	Price      int64  `json:"price"`
	ImageURL   string `json:"image_url"`
	ProductURL string `json:"product_url"`
}

// CardCacheRepo кэширует витринные карточки товаров для обогащения
// результатов поиска.
type CardCacheRepo struct {
	client *clients.RedisClient
	cfg    *cfg.RedisCfg
	logger logger.Logger
}

func NewCardCacheRepo(client *clients.RedisClient, cfg *cfg.RedisCfg, logger logger.Logger) *CardCacheRepo {
	return &CardCacheRepo{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// GetCards возвращает закэшированные карточки по ID, игнорируя промахи и логируя их
func (r *CardCacheRepo) GetCards(ctx context.Context, ids []int64) (map[int64]usecase.ProductCard, error) {
	keys := r.buildCardCacheKeys(ids)

	values, err := r.client.Client.MGet(ctx, keys...).Result()
	if err != nil {
		r.logger.Warnf("Redis MGET failed: %v", e.Wrap(whereami.WhereAmI(), err))
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	result := make(map[int64]usecase.ProductCard, len(values))
	for i, val := range values {
		data, err := redisValueToBytes(val, keys[i])
		if err != nil {
			r.logger.Warnf("%v", e.Wrap(whereami.WhereAmI(), err))
		}

		if data == nil {
			continue // cache miss
		}

		var model cardModel
		if err := json.Unmarshal(data, &model); err != nil {
			r.logger.Warnf("Redis unmarshal failed: %v", e.Wrap(whereami.WhereAmI(), err))
			continue
		}

		if model.ID != ids[i] {
			r.logger.Warnf("Cache ID mismatch: key_id: %d, model_id: %d", ids[i], model.ID)
			if err := r.client.Client.Del(context.Background(), keys[i]).Err(); err != nil {
				r.logger.Warnf("Redis del failed: %v", e.Wrap(whereami.WhereAmI(), err))
			}
			continue // cache miss
		}

		result[ids[i]] = usecase.ProductCard{
			ID:         model.ID,
			Title:      model.Title,
			Brand:      model.Brand,
			Category:   model.Category,
			Price:      model.Price,
			ImageURL:   model.ImageURL,
			ProductURL: model.ProductURL,
		}
	}

	return result, nil
}

// SetCards атомарно кэширует несколько карточек с заданным TTL.
// Игнорирует ошибки сериализации/записи, логируя их.
func (r *CardCacheRepo) SetCards(ctx context.Context, cards []usecase.ProductCard) error {
	pipeline := r.client.Client.Pipeline()
	for _, card := range cards {
		data, err := json.Marshal(cardModel{
			ID:         card.ID,
			Title:      card.Title,
			Brand:      card.Brand,
			Category:   card.Category,
			Price:      card.Price,
			ImageURL:   card.ImageURL,
			ProductURL: card.ProductURL,
		})
		if err != nil {
			r.logger.Warnf("Failed to marshal card for caching (Product ID: %d): %v", card.ID, e.Wrap(whereami.WhereAmI(), err))
			continue
		}

		pipeline.Set(ctx, r.cardKey(card.ID), data, r.cfg.CardTTL)
	}

	if _, err := pipeline.Exec(ctx); err != nil {
		r.logger.Warnf("Cache pipeline failed: %v", e.Wrap(whereami.WhereAmI(), err))
	}

	return nil
}

// DeleteCards удаляет карточки из кэша по ID
func (r *CardCacheRepo) DeleteCards(ctx context.Context, ids []int64) error {
	keys := r.buildCardCacheKeys(ids)

	if err := r.client.Client.Del(ctx, keys...).Err(); err != nil {
		r.logger.Warnf("Redis DEL failed: %v", e.Wrap(whereami.WhereAmI(), err))
	}

	return nil
}

// buildCardCacheKeys формирует Redis-ключи из ID товаров
func (r *CardCacheRepo) buildCardCacheKeys(ids []int64) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.cardKey(id)
	}

	return keys
}

// cardKey возвращает Redis-ключ карточки одного товара
func (r *CardCacheRepo) cardKey(id int64) string {
	return fmt.Sprintf("card:%d", id)
}

// redisValueToBytes конвертирует значение из Redis в []byte.
// Поддерживает string и []byte, возвращает ошибку для неизвестных типов.
func redisValueToBytes(val interface{}, key string) ([]byte, error) {
	switch v := val.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case nil:
		return nil, nil // cache miss
	default:
		return nil, fmt.Errorf("unexpected Redis value type for key %s: %T", key, val)
	}
}
