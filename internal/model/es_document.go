package model

// LibraryVectorDocument 定义了存储在 Elasticsearch 中的文档库向量结构。
// 每个文档库文档对应一条记录，向量为其全部分块向量的均值。
type LibraryVectorDocument struct {
	LibraryDocID string    `json:"library_doc_id"`
	LibraryID    string    `json:"library_id"`
	Status       string    `json:"status"`
	ContentHash  string    `json:"content_hash"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
}

// VectorHit 是一次近邻查询的命中结果。
// Distance 为余弦距离，即 1 - 余弦相似度，越小越相似。
type VectorHit struct {
	ID       string
	Distance float64
}
