package domain

import "time"

// Product описывает товар каталога. Строки создаёт внешний ingestion;
// эта система мутирует только поле Embedding.
type Product struct {
	ID             int64
	Title          string
	Brand          string
	Category       string
	Price          int64 // Цена хранится в копейках
	SourceImageURL string
	ProductURL     string
	Embedding      []float32 // nil, пока товар не векторизован; иначе ровно D элементов
	CreatedAt      time.Time
	UpdatedAt      *time.Time
}

// HasEmbedding сообщает, есть ли у товара сохранённый вектор.
func (p *Product) HasEmbedding() bool {
	return len(p.Embedding) > 0
}
