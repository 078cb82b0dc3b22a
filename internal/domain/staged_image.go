package domain

// StagedImage описывает временный объект в S3, который хранится ровно
// на время одного обращения к inference-сервису.
type StagedImage struct {
	ID          string // uuid, уникален для каждой попытки
	Bucket      string
	ObjectKey   string
	Bytes       []byte
	Size        int64
	ContentType string
}

func NewStagedImage(id string, bucket string, objectKey string, data []byte, contentType string) *StagedImage {
	return &StagedImage{
		ID:          id,
		Bucket:      bucket,
		ObjectKey:   objectKey,
		Bytes:       data,
		Size:        int64(len(data)),
		ContentType: contentType,
	}
}
