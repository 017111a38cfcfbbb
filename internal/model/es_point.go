package model

// EsPoint 是写入 Elasticsearch 向量索引的文档结构。
// 一个 point 对应一个分块：id + 向量 + 载荷。
type EsPoint struct {
	PointID      string    `json:"point_id"`
	DocID        string    `json:"doc_id"`
	CollectionID string    `json:"collection_id"`
	ChunkIndex   int       `json:"chunk_index"`
	Title        string    `json:"title,omitempty"`
	TextContent  string    `json:"text_content"`
	ContentHash  string    `json:"content_hash,omitempty"`
	Vector       []float32 `json:"vector"`
}
