package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/lookalike-tech/go-backend/internal/usecase"
	"github.com/lookalike-tech/go-backend/pkg/e"
)

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewErrorResponse(code int, message string) *ErrorResponse {
	return &ErrorResponse{
		Code:    code,
		Message: message,
	}
}

type CardResponse struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Brand      string `json:"brand"`
	Category   string `json:"category"`
	Price      string `json:"price"` // рубли с копейками, например "4999.00"
	ImageURL   string `json:"image_url"`
	ProductURL string `json:"product_url"`
}

type SimilarProductResponse struct {
	ProductID  int64         `json:"product_id"`
	Similarity float64       `json:"similarity"`
	Card       *CardResponse `json:"card,omitempty"`
}

type SearchResponse struct {
	Results []SimilarProductResponse `json:"results"`
}

func ToHTTPResponse(err error) (int, string) {
	var dim *e.DimensionMismatchError
	if errors.As(err, &dim) {
		return http.StatusBadRequest, dim.Error()
	}

	switch {
	case errors.Is(err, e.ErrNoQuerySource):
		return http.StatusBadRequest, e.ErrNoQuerySource.Error()
	case errors.Is(err, e.ErrAmbiguousQuerySource):
		return http.StatusBadRequest, e.ErrAmbiguousQuerySource.Error()
	case errors.Is(err, e.ErrInvalidThreshold):
		return http.StatusBadRequest, e.ErrInvalidThreshold.Error()
	case errors.Is(err, e.ErrInvalidMaxResults):
		return http.StatusBadRequest, e.ErrInvalidMaxResults.Error()
	case errors.Is(err, e.ErrInvalidConcurrency):
		return http.StatusBadRequest, e.ErrInvalidConcurrency.Error()
	case errors.Is(err, e.ErrExpectedMultipart):
		return http.StatusBadRequest, e.ErrExpectedMultipart.Error()
	case errors.Is(err, e.ErrNoImage):
		return http.StatusBadRequest, e.ErrNoImage.Error()
	case errors.Is(err, e.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, e.ErrFileTooLarge.Error()
	case errors.Is(err, e.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, e.ErrUnsupportedMediaType.Error()
	case errors.Is(err, e.ErrUnsupportedURLScheme):
		return http.StatusBadRequest, e.ErrUnsupportedURLScheme.Error()
	case errors.Is(err, e.ErrStatusBadRequest):
		return http.StatusBadRequest, e.ErrStatusBadRequest.Error()
	case errors.Is(err, e.ErrProductNotFound):
		return http.StatusNotFound, e.ErrProductNotFound.Error()
	case errors.Is(err, e.ErrProductNoImage):
		return http.StatusUnprocessableEntity, e.ErrProductNoImage.Error()
	default:
		return http.StatusInternalServerError, e.ErrInternalServerError.Error()
	}
}

func WriteError(w http.ResponseWriter, err error) {
	code, msg := ToHTTPResponse(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(NewErrorResponse(code, msg))
}

func WriteSuccess(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// priceToString переводит цену из копеек в строку рублей с копейками.
func priceToString(cents int64) string {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).StringFixed(2)
}

func toSearchResponse(res *usecase.FindSimilarRes) *SearchResponse {
	results := make([]SimilarProductResponse, 0, len(res.Results))
	for _, item := range res.Results {
		out := SimilarProductResponse{
			ProductID:  item.ProductID,
			Similarity: item.Similarity,
		}
		if item.Card != nil {
			out.Card = &CardResponse{
				ID:         item.Card.ID,
				Title:      item.Card.Title,
				Brand:      item.Card.Brand,
				Category:   item.Card.Category,
				Price:      priceToString(item.Card.Price),
				ImageURL:   item.Card.ImageURL,
				ProductURL: item.Card.ProductURL,
			}
		}
		results = append(results, out)
	}

	return &SearchResponse{Results: results}
}

// parseThreshold читает порог сходства из строки запроса или формы.
// Пустое значение — nil, порог по умолчанию выбирает usecase.
func parseThreshold(raw string) (*float64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, e.ErrInvalidThreshold
	}

	return &val, nil
}

func parseMaxResults(raw string) (*int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, e.ErrInvalidMaxResults
	}

	return &val, nil
}

func ensureMultipartForm(r *http.Request, maxMemory int64) error {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return e.ErrExpectedMultipart
	}
	return r.ParseMultipartForm(maxMemory)
}

// readImageFile читает одно изображение из multipart-формы.
func readImageFile(fh *multipart.FileHeader, maxSize int64) ([]byte, string, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, "", e.ErrInternalServerError
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, "", e.ErrInternalServerError
	}
	if int64(len(data)) > maxSize {
		return nil, "", e.Wrap(fh.Filename, e.ErrFileTooLarge)
	}
	if len(data) == 0 {
		return nil, "", e.ErrNoImage
	}

	mimeType := http.DetectContentType(data[:min(len(data), 512)])
	return data, mimeType, nil
}
