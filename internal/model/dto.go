package model

// SearchResultDTO 是语义检索返回给调用方的单条结果。
type SearchResultDTO struct {
	PointID     string  `json:"pointId"`
	DocID       string  `json:"docId"`
	DocName     string  `json:"docName"`
	ChunkIndex  int     `json:"chunkIndex"`
	Title       string  `json:"title,omitempty"`
	TextContent string  `json:"textContent"`
	Score       float64 `json:"score"`
}

// SyncJobStatsDTO 是同步任务的聚合统计。
type SyncJobStatsDTO struct {
	Total           int64            `json:"total"`
	ByStatus        map[string]int64 `json:"byStatus"`
	AvgDurationSecs float64          `json:"avgDurationSecs"`
	SuccessRate     float64          `json:"successRate"`
}

// ImportRequestDTO 是文档导入接口的请求体。
type ImportRequestDTO struct {
	CollectionID string `json:"collectionId" binding:"required"`
	DocKey       string `json:"docKey" binding:"required"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	Content      string `json:"content" binding:"required"`
}
