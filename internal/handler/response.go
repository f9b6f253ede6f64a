// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"github.com/gin-gonic/gin"
	"net/http"
	"plagcheck-go/internal/middleware"
	"plagcheck-go/internal/repository"
	"plagcheck-go/internal/retrieval"
	"plagcheck-go/internal/service"
	"plagcheck-go/pkg/llm"
	"plagcheck-go/pkg/log"
)

func ok(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": message,
		"data":    data,
	})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
	})
}

// respondError 将业务错误映射为 HTTP 状态码。
func respondError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrNoContent),
		errors.Is(err, service.ErrInvalidAnalysisType),
		errors.Is(err, service.ErrInvalidThreshold),
		errors.Is(err, service.ErrEmptyText),
		errors.Is(err, service.ErrEmptyLibraryName),
		errors.Is(err, retrieval.ErrInvalidLibraryID):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		fail(c, http.StatusNotFound, "资源不存在")
	case errors.Is(err, llm.ErrUnavailable):
		fail(c, http.StatusServiceUnavailable, "AI 检测未启用或暂不可用")
	default:
		log.Errorf("%s: failed, err: %v", op, err)
		fail(c, http.StatusInternalServerError, "服务器内部错误")
	}
}

func userID(c *gin.Context) string {
	return c.GetString(middleware.UserIDKey)
}
