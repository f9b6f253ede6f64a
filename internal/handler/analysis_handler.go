package handler

import (
	"encoding/json"
	"github.com/gin-gonic/gin"
	"io"
	"mime/multipart"
	"net/http"
	"plagcheck-go/internal/service"
	"strconv"
)

// AnalysisHandler 负责提交分析任务和查询批次结果。
type AnalysisHandler struct {
	batchService service.BatchService
}

func NewAnalysisHandler(batchService service.BatchService) *AnalysisHandler {
	return &AnalysisHandler{batchService: batchService}
}

// analysisOptions 对应表单中的 options JSON，未给出的开关默认开启。
type analysisOptions struct {
	AIThreshold     *float64 `json:"ai_threshold"`
	CheckPlagiarism *bool    `json:"check_plagiarism"`
	CheckAI         *bool    `json:"check_ai"`
	AnalysisType    string   `json:"analysis_type"`
}

// Analyze 处理 multipart 提交：text、files、options、library_ids、compare_mode。
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	var opts analysisOptions
	if raw := c.PostForm("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			fail(c, http.StatusBadRequest, "无效的选项JSON: "+err.Error())
			return
		}
	}

	// library_ids 解析失败时按空列表处理
	var libraryIDs []string
	if raw := c.PostForm("library_ids"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &libraryIDs)
	}

	files, err := readFiles(c, "files")
	if err != nil {
		fail(c, http.StatusBadRequest, "读取上传文件失败")
		return
	}

	batch, err := h.batchService.Submit(c.Request.Context(), service.SubmitRequest{
		UserID:          userID(c),
		Text:            c.PostForm("text"),
		Files:           files,
		AnalysisType:    opts.AnalysisType,
		CheckAI:         flag(opts.CheckAI),
		CheckPlagiarism: flag(opts.CheckPlagiarism),
		AIThreshold:     opts.AIThreshold,
		CompareMode:     c.PostForm("compare_mode"),
		LibraryIDs:      libraryIDs,
	})
	if err != nil {
		respondError(c, "Analyze", err)
		return
	}
	ok(c, "分析已成功启动", gin.H{
		"batch_id":      batch.ID,
		"status":        batch.Status,
		"analysis_type": batch.AnalysisType,
		"compare_mode":  batch.CompareMode,
		"total_docs":    batch.TotalDocs,
	})
}

// ListBatches 分页列出当前用户的批次。
func (h *AnalysisHandler) ListBatches(c *gin.Context) {
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || skip < 0 || limit <= 0 {
		fail(c, http.StatusBadRequest, "无效的分页参数")
		return
	}
	batches, err := h.batchService.List(c.Request.Context(), userID(c), skip, limit)
	if err != nil {
		respondError(c, "ListBatches", err)
		return
	}
	ok(c, "获取批次列表成功", batches)
}

func (h *AnalysisHandler) Results(c *gin.Context) {
	results, err := h.batchService.Results(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, "Results", err)
		return
	}
	ok(c, "获取批次结果成功", results)
}

func flag(v *bool) bool {
	return v == nil || *v
}

// readFiles 读取表单中指定字段的全部文件，非 multipart 请求返回空。
func readFiles(c *gin.Context, field string) ([]service.UploadedFile, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, nil
	}
	var files []service.UploadedFile
	for _, fh := range form.File[field] {
		data, err := readFile(fh)
		if err != nil {
			return nil, err
		}
		files = append(files, service.UploadedFile{Name: fh.Filename, Data: data})
	}
	return files, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
