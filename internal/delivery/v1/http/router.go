package http

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/lookalike-tech/go-backend/docs" // Импорт сгенерированных файлов
	"github.com/lookalike-tech/go-backend/internal/cfg"
	"github.com/lookalike-tech/go-backend/internal/usecase"
	"github.com/lookalike-tech/go-backend/pkg/logger"
)

type Router struct {
	router *chi.Mux
	logger logger.Logger
}

func NewRouter(router *chi.Mux, logger logger.Logger) *Router {
	return &Router{router: router, logger: logger}
}

func (r *Router) Init(searchUC usecase.SearchUC, batchUC usecase.BatchUC, batchCfg *cfg.BatchCfg) {
	r.router.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"), // ссылка на JSON
	))

	r.router.Route("/api/v1", func(v1 chi.Router) {
		searchHandler := NewSearchHandler(searchUC, r.logger)
		batchHandler := NewBatchHandler(batchUC, batchCfg, r.logger)
		registerSearchRoutes(v1, searchHandler)
		registerBatchRoutes(v1, batchHandler)
	})
}

func registerSearchRoutes(router chi.Router, h *SearchHandler) {
	router.Post("/search/similar", h.findSimilar)
	router.Route("/products", func(pr chi.Router) {
		pr.Get("/{id}/similar", h.similarByProduct)
	})
}

func registerBatchRoutes(router chi.Router, h *BatchHandler) {
	router.Route("/embeddings", func(em chi.Router) {
		em.Post("/batch", h.runBatch)
		em.Get("/progress", h.progress)
	})
}
