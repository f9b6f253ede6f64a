package handler

import (
	"github.com/gin-gonic/gin"
	"net/http"
	"plagcheck-go/internal/service"
)

// DetectionHandler 提供不经过批次的即时比对和 AI 检测。
type DetectionHandler struct {
	detectionService service.DetectionService
}

func NewDetectionHandler(detectionService service.DetectionService) *DetectionHandler {
	return &DetectionHandler{detectionService: detectionService}
}

type compareRequest struct {
	TextA string `json:"text_a"`
	TextB string `json:"text_b"`
}

type aiDetectionRequest struct {
	Text      string   `json:"text"`
	Threshold *float64 `json:"threshold"`
}

func (h *DetectionHandler) Compare(c *gin.Context) {
	var req compareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求参数")
		return
	}
	res, err := h.detectionService.Compare(c.Request.Context(), req.TextA, req.TextB)
	if err != nil {
		respondError(c, "Compare", err)
		return
	}
	ok(c, "比对完成", res)
}

func (h *DetectionHandler) DetectAI(c *gin.Context) {
	var req aiDetectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求参数")
		return
	}
	threshold := 0.5
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	res, err := h.detectionService.DetectAI(c.Request.Context(), req.Text, threshold)
	if err != nil {
		respondError(c, "DetectAI", err)
		return
	}
	ok(c, "AI 检测完成", res)
}

func (h *DetectionHandler) Health(c *gin.Context) {
	ok(c, "ok", gin.H{
		"service": "ai_detection",
		"health":  h.detectionService.AIHealth(),
	})
}
