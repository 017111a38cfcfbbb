package handler

import (
	"net/http"

	"docvec-go/internal/model"
	"docvec-go/internal/service"
	"docvec-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 结构体定义了文档管理相关的处理器。
type DocumentHandler struct {
	documentService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(documentService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{documentService: documentService}
}

// Import 处理文档导入请求，导入成功后异步触发索引管道。
func (h *DocumentHandler) Import(c *gin.Context) {
	var req model.ImportRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}
	log.Infof("[DocumentHandler] 收到文档导入请求, collection: %s, docKey: %s, 内容长度: %d",
		req.CollectionID, req.DocKey, len(req.Content))

	result, err := h.documentService.ImportAndIndex(c.Request.Context(), req)
	if err != nil {
		log.Errorf("[DocumentHandler] 文档导入失败, docKey: %s, error: %v", req.DocKey, err)
		respondError(c, err)
		return
	}
	respondOK(c, result)
}

// Get 处理查询单个文档的请求。
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documentService.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, doc)
}

// ListByCollection 处理列出集合内文档的请求。
func (h *DocumentHandler) ListByCollection(c *gin.Context) {
	collectionID := c.Query("collectionId")
	if collectionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "collectionId 参数不能为空"})
		return
	}
	docs, err := h.documentService.ListByCollection(collectionID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, docs)
}

// Resync 处理文档重同步请求。
func (h *DocumentHandler) Resync(c *gin.Context) {
	id := c.Param("id")
	log.Infof("[DocumentHandler] 收到文档重同步请求, ID: %s", id)

	job, err := h.documentService.Resync(c.Request.Context(), id)
	if err != nil {
		log.Errorf("[DocumentHandler] 文档重同步失败, ID: %s, error: %v", id, err)
		respondError(c, err)
		return
	}
	respondOK(c, job)
}

// Delete 处理级联删除文档的请求。
func (h *DocumentHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	log.Infof("[DocumentHandler] 收到删除文档请求, ID: %s", id)

	result, err := h.documentService.Delete(c.Request.Context(), id)
	if err != nil {
		log.Errorf("[DocumentHandler] 删除文档失败, ID: %s, error: %v", id, err)
		respondError(c, err)
		return
	}
	respondOK(c, result)
}
