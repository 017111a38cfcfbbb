package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"docvec-go/internal/service"
	"docvec-go/internal/syncjob"
	"docvec-go/pkg/log"
	"docvec-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// 任务进度推送的轮询间隔与连接上限时长。
const (
	streamPollInterval = time.Second
	streamMaxDuration  = 10 * time.Minute
)

// SyncJobHandler 结构体定义了同步任务查询相关的处理器。
type SyncJobHandler struct {
	jobService service.SyncJobService
	jwtManager *token.JWTManager
}

// NewSyncJobHandler 创建一个新的 SyncJobHandler 实例。
func NewSyncJobHandler(jobService service.SyncJobService, jwtManager *token.JWTManager) *SyncJobHandler {
	return &SyncJobHandler{jobService: jobService, jwtManager: jwtManager}
}

// Get 处理查询单个任务的请求。
func (h *SyncJobHandler) Get(c *gin.Context) {
	job, err := h.jobService.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, job)
}

// GetByDoc 处理查询文档最新任务的请求。
func (h *SyncJobHandler) GetByDoc(c *gin.Context) {
	docID := c.Query("docId")
	if docID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "docId 参数不能为空"})
		return
	}
	job, err := h.jobService.GetLatestByDoc(docID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, job)
}

// List 处理按状态分页列出任务的请求。
func (h *SyncJobHandler) List(c *gin.Context) {
	status := c.Query("status")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))

	jobs, total, err := h.jobService.List(status, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"total": total, "items": jobs})
}

// Stats 处理任务聚合统计的请求。
func (h *SyncJobHandler) Stats(c *gin.Context) {
	stats, err := h.jobService.Stats()
	if err != nil {
		log.Errorf("[SyncJobHandler] 查询任务统计失败, error: %v", err)
		respondError(c, err)
		return
	}
	respondOK(c, stats)
}

// StreamToken 为 WebSocket 进度推送签发一个短期 token。
// 浏览器端 WebSocket 无法携带 Authorization 头，调用方先在认证路由下
// 换取 token，再把它放进 /ws/jobs/:id/:token 的路径中。
func (h *SyncJobHandler) StreamToken(c *gin.Context) {
	value, exists := c.Get("claims")
	claims, ok := value.(*token.CallerClaims)
	if !exists || !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的调用方声明"})
		return
	}
	tokenString, err := h.jwtManager.GenerateToken(claims.CallerID, claims.Role)
	if err != nil {
		log.Errorf("[SyncJobHandler] 签发推送 token 失败: %v", err)
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"token": tokenString})
}

// Stream 通过 WebSocket 推送任务进度，直到任务进入终态或连接关闭。
// WebSocket 无法携带 Authorization 头，token 作为路径参数传入。
func (h *SyncJobHandler) Stream(c *gin.Context) {
	if _, err := h.jwtManager.VerifyToken(c.Param("token")); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
		return
	}
	jobID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("[SyncJobHandler] 升级 WebSocket 连接失败: %v", err)
		return
	}
	defer conn.Close()
	log.Infof("[SyncJobHandler] 任务进度推送连接建立, JobID: %s", jobID)

	deadline := time.Now().Add(streamMaxDuration)
	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	for range ticker.C {
		if time.Now().After(deadline) {
			log.Warnf("[SyncJobHandler] 任务进度推送超时关闭, JobID: %s", jobID)
			return
		}

		job, err := h.jobService.Get(jobID)
		if err != nil {
			errResp := map[string]string{"error": "任务不存在"}
			b, _ := json.Marshal(errResp)
			_ = conn.WriteMessage(websocket.TextMessage, b)
			return
		}

		b, err := json.Marshal(job)
		if err != nil {
			log.Errorf("[SyncJobHandler] 序列化任务进度失败: %v", err)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			// 客户端断开
			log.Infof("[SyncJobHandler] 任务进度推送连接断开, JobID: %s", jobID)
			return
		}

		if syncjob.IsTerminal(job.Status) {
			log.Infof("[SyncJobHandler] 任务进入终态(%s), 推送结束, JobID: %s", job.Status, jobID)
			return
		}
	}
}
