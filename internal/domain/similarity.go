package domain

// SimilarityMatch — один результат векторного поиска.
// Similarity лежит в [-1, 1], списки всегда отсортированы по убыванию,
// при равенстве — по возрастанию ID.
type SimilarityMatch struct {
	ProductID  int64
	Similarity float64
}
