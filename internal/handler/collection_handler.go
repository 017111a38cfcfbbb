package handler

import (
	"net/http"

	"docvec-go/internal/service"
	"docvec-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// CollectionHandler 结构体定义了集合管理相关的处理器。
type CollectionHandler struct {
	collectionService service.CollectionService
}

// NewCollectionHandler 创建一个新的 CollectionHandler 实例。
func NewCollectionHandler(collectionService service.CollectionService) *CollectionHandler {
	return &CollectionHandler{collectionService: collectionService}
}

type createCollectionRequest struct {
	Name string `json:"name" binding:"required"`
}

// Create 处理创建集合的请求。
func (h *CollectionHandler) Create(c *gin.Context) {
	var req createCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	collection, err := h.collectionService.Create(req.Name)
	if err != nil {
		log.Errorf("[CollectionHandler] 创建集合失败, name: %s, error: %v", req.Name, err)
		respondError(c, err)
		return
	}
	respondOK(c, collection)
}

// List 处理列出全部集合的请求。
func (h *CollectionHandler) List(c *gin.Context) {
	collections, err := h.collectionService.List()
	if err != nil {
		log.Errorf("[CollectionHandler] 列出集合失败, error: %v", err)
		respondError(c, err)
		return
	}
	respondOK(c, collections)
}

// Get 处理查询单个集合的请求。
func (h *CollectionHandler) Get(c *gin.Context) {
	collection, err := h.collectionService.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, collection)
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus 处理更新集合状态的请求。
func (h *CollectionHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求参数"})
		return
	}

	collection, err := h.collectionService.UpdateStatus(c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, collection)
}

// Delete 处理级联删除集合的请求。
func (h *CollectionHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	log.Infof("[CollectionHandler] 收到删除集合请求, ID: %s", id)

	result, err := h.collectionService.Delete(c.Request.Context(), id)
	if err != nil {
		log.Errorf("[CollectionHandler] 删除集合失败, ID: %s, error: %v", id, err)
		respondError(c, err)
		return
	}
	respondOK(c, result)
}
