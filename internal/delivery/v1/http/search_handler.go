package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lookalike-tech/go-backend/internal/usecase"
	"github.com/lookalike-tech/go-backend/pkg/e"
	"github.com/lookalike-tech/go-backend/pkg/logger"
)

type SearchHandler struct {
	searchUsecase usecase.SearchUC
	logger        logger.Logger
}

func NewSearchHandler(searchUsecase usecase.SearchUC, logger logger.Logger) *SearchHandler {
	return &SearchHandler{searchUsecase: searchUsecase, logger: logger}
}

type searchRequest struct {
	Vector     []float32 `json:"vector,omitempty"`
	ProductID  int64     `json:"product_id,omitempty"`
	ImageURL   string    `json:"image_url,omitempty"`
	Threshold  *float64  `json:"threshold,omitempty"`
	MaxResults *int      `json:"max_results,omitempty"`
}

// findSimilar
//
//	@Summary		Поиск похожих товаров
//	@Description	Ищет визуально похожие товары. Источник запроса — ровно один из: vector, product_id, image_url (JSON) или файл image (multipart)
//	@Tags			search
//	@Accept			json
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			request	body		searchRequest	false	"Параметры поиска"
//	@Success		200		{object}	SearchResponse	"Ранжированный список похожих товаров"
//	@Failure		400		{object}	ErrorResponse	"Ошибка валидации"
//	@Router			/search/similar [post]
func (s *SearchHandler) findSimilar(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseSearchRequest(w, r)
	if err != nil {
		s.logger.Warnf("search request rejected: %s", err.Error())
		WriteError(w, err)
		return
	}

	res, err := s.searchUsecase.FindSimilar(r.Context(), req)
	if err != nil {
		s.logger.Warnf("search failed: %s", err.Error())
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, toSearchResponse(res))
}

// similarByProduct
//
//	@Summary		Похожие на товар
//	@Description	Возвращает товары, визуально похожие на указанный. Сам товар исключается из выдачи
//	@Tags			search
//	@Produce		json
//	@Param			id			path		int				true	"ID товара"
//	@Param			threshold	query		number			false	"Минимальное cosine-сходство [0..1]"
//	@Param			limit		query		int				false	"Максимум результатов"
//	@Success		200			{object}	SearchResponse	"Ранжированный список похожих товаров"
//	@Failure		404			{object}	ErrorResponse	"Товар не найден"
//	@Router			/products/{id}/similar [get]
func (s *SearchHandler) similarByProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || productID <= 0 {
		WriteError(w, e.ErrStatusBadRequest)
		return
	}

	threshold, err := parseThreshold(r.URL.Query().Get("threshold"))
	if err != nil {
		WriteError(w, err)
		return
	}

	maxResults, err := parseMaxResults(r.URL.Query().Get("limit"))
	if err != nil {
		WriteError(w, err)
		return
	}

	res, err := s.searchUsecase.FindSimilar(r.Context(), &usecase.FindSimilarReq{
		ProductID:  productID,
		Threshold:  threshold,
		MaxResults: maxResults,
	})
	if err != nil {
		s.logger.Warnf("similar by product %d failed: %s", productID, err.Error())
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, toSearchResponse(res))
}

// parseSearchRequest принимает либо JSON-тело, либо multipart с файлом image.
func (s *SearchHandler) parseSearchRequest(w http.ResponseWriter, r *http.Request) (*usecase.FindSimilarReq, error) {
	const (
		maxTotalRequestSize = 20 << 20
		maxMemory           = 16 << 20
		maxFileSize         = 15 << 20
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxTotalRequestSize)
		if err := ensureMultipartForm(r, maxMemory); err != nil {
			return nil, err
		}

		files := r.MultipartForm.File["image"]
		if len(files) == 0 {
			return nil, e.ErrNoImage
		}

		data, mimeType, err := readImageFile(files[0], maxFileSize)
		if err != nil {
			return nil, err
		}

		threshold, err := parseThreshold(r.FormValue("threshold"))
		if err != nil {
			return nil, err
		}

		maxResults, err := parseMaxResults(r.FormValue("max_results"))
		if err != nil {
			return nil, err
		}

		return &usecase.FindSimilarReq{
			ImageBytes: data,
			ImageMime:  mimeType,
			Threshold:  threshold,
			MaxResults: maxResults,
		}, nil
	}

	var body searchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, e.ErrStatusBadRequest
	}

	return &usecase.FindSimilarReq{
		Vector:     body.Vector,
		ProductID:  body.ProductID,
		ImageURL:   body.ImageURL,
		Threshold:  body.Threshold,
		MaxResults: body.MaxResults,
	}, nil
}
