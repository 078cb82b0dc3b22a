package domain

// Embedding представляет вектор одного изображения товара.
type Embedding struct {
	ProductID    int64
	Vector       []float32
	ModelVersion string
}

func NewEmbedding(productID int64, vector []float32, modelVersion string) *Embedding {
	return &Embedding{
		ProductID:    productID,
		Vector:       vector,
		ModelVersion: modelVersion,
	}
}
