package handler

import (
	"net/http"
	"strconv"

	"docvec-go/internal/service"
	"docvec-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 结构体定义了语义检索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search 是处理语义检索请求的 Gin 处理函数。
func (h *SearchHandler) Search(c *gin.Context) {
	collectionID := c.Query("collectionId")
	query := c.Query("query")
	log.Infof("[SearchHandler] 收到语义检索请求, collection: %s, query: %s", collectionID, query)

	if collectionID == "" || query == "" {
		log.Warnf("[SearchHandler] 检索请求失败: collectionId 或 query 参数为空")
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的查询参数"})
		return
	}
	topKStr := c.DefaultQuery("topK", "10")
	topK, err := strconv.Atoi(topKStr)
	if err != nil || topK <= 0 {
		topK = 10
	}

	results, err := h.searchService.Search(c.Request.Context(), collectionID, query, topK)
	if err != nil {
		log.Errorf("[SearchHandler] 语义检索服务返回错误, error: %v", err)
		respondError(c, err)
		return
	}

	log.Infof("[SearchHandler] 语义检索成功, query: '%s', 返回 %d 条结果", query, len(results))
	respondOK(c, results)
}
