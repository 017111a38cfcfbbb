// Package handler 包含了所有 Gin 的 HTTP 处理函数。
package handler

import (
	"net/http"

	"docvec-go/internal/apperr"

	"github.com/gin-gonic/gin"
)

// respondError 按错误分类映射 HTTP 状态码并返回统一的错误结构。
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if apperr.KindOf(err) == apperr.KindValidation {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// respondOK 返回统一的成功结构。
func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": data, "message": "success"})
}
