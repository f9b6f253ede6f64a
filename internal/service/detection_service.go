package service

import (
	"context"
	"errors"
	"plagcheck-go/internal/model"
	"plagcheck-go/internal/similarity"
	"plagcheck-go/pkg/llm"
	"strings"
)

// ErrEmptyText 表示待检测文本为空。
var ErrEmptyText = errors.New("文本不能为空")

// Comparer 是文本比对引擎。
type Comparer interface {
	Compare(ctx context.Context, a, b string) similarity.Result
}

// AIDetector 是 AI 生成检测服务。
type AIDetector interface {
	Available() bool
	Health() llm.Health
	Detect(ctx context.Context, text string, threshold float64) (*llm.Detection, error)
}

// CompareResult 是两段文本的直接比对结果。
type CompareResult struct {
	Similarity float64            `json:"similarity"`
	Matches    []model.ChunkMatch `json:"matches"`
	Strategy   string             `json:"strategy"`
}

// DetectionService 提供不经过批次的即时检测。
type DetectionService interface {
	Compare(ctx context.Context, a, b string) (*CompareResult, error)
	DetectAI(ctx context.Context, text string, threshold float64) (*llm.Detection, error)
	AIHealth() llm.Health
}

type detectionService struct {
	engine   Comparer
	detector AIDetector
}

// NewDetectionService 创建一个新的 DetectionService 实例。
func NewDetectionService(engine Comparer, detector AIDetector) DetectionService {
	return &detectionService{engine: engine, detector: detector}
}

func (s *detectionService) Compare(ctx context.Context, a, b string) (*CompareResult, error) {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return nil, ErrEmptyText
	}
	res := s.engine.Compare(ctx, a, b)
	matches := res.Matches
	if matches == nil {
		matches = []model.ChunkMatch{}
	}
	return &CompareResult{
		Similarity: similarity.Round4(similarity.Clamp01(res.Score)),
		Matches:    matches,
		Strategy:   res.Strategy.String(),
	}, nil
}

// DetectAI 未配置检测服务时返回 llm.ErrUnavailable。
func (s *detectionService) DetectAI(ctx context.Context, text string, threshold float64) (*llm.Detection, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if threshold < 0 || threshold > 1 {
		return nil, ErrInvalidThreshold
	}
	if !s.detector.Available() {
		return nil, llm.ErrUnavailable
	}
	return s.detector.Detect(ctx, text, threshold)
}

func (s *detectionService) AIHealth() llm.Health {
	return s.detector.Health()
}
