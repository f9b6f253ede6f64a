package handler

import (
	"github.com/gin-gonic/gin"
	"net/http"
	"plagcheck-go/internal/service"
)

// LibraryHandler 负责文档库管理相关的 API 请求。
type LibraryHandler struct {
	libraryService service.LibraryService
}

func NewLibraryHandler(libraryService service.LibraryService) *LibraryHandler {
	return &LibraryHandler{libraryService: libraryService}
}

type createLibraryRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (h *LibraryHandler) Create(c *gin.Context) {
	var req createLibraryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求参数")
		return
	}
	lib, err := h.libraryService.Create(c.Request.Context(), userID(c), req.Name, req.Description)
	if err != nil {
		respondError(c, "CreateLibrary", err)
		return
	}
	ok(c, "文档库创建成功", lib)
}

func (h *LibraryHandler) List(c *gin.Context) {
	libs, err := h.libraryService.List(c.Request.Context())
	if err != nil {
		respondError(c, "ListLibraries", err)
		return
	}
	ok(c, "获取文档库列表成功", libs)
}

func (h *LibraryHandler) Get(c *gin.Context) {
	detail, err := h.libraryService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "GetLibrary", err)
		return
	}
	ok(c, "获取文档库成功", detail)
}

// Deactivate 停用文档库，已有检测结果不受影响。
func (h *LibraryHandler) Deactivate(c *gin.Context) {
	if err := h.libraryService.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "DeactivateLibrary", err)
		return
	}
	ok(c, "文档库已停用", nil)
}

// AddDocuments 向文档库上传一个或多个文件（表单字段 files 或 file）。
func (h *LibraryHandler) AddDocuments(c *gin.Context) {
	files, err := readFiles(c, "files")
	if err == nil && len(files) == 0 {
		files, err = readFiles(c, "file")
	}
	if err != nil || len(files) == 0 {
		fail(c, http.StatusBadRequest, "必须上传至少一个文件")
		return
	}

	libraryID := c.Param("id")
	var docs []any
	for _, f := range files {
		doc, err := h.libraryService.AddDocument(c.Request.Context(), libraryID, userID(c), f)
		if err != nil {
			respondError(c, "AddLibraryDocument", err)
			return
		}
		docs = append(docs, doc)
	}
	ok(c, "文档上传成功", docs)
}

func (h *LibraryHandler) DeleteDocument(c *gin.Context) {
	if err := h.libraryService.DeleteDocument(c.Request.Context(), c.Param("id"), c.Param("docId")); err != nil {
		respondError(c, "DeleteLibraryDocument", err)
		return
	}
	ok(c, "文档删除成功", nil)
}
