package similarity

import (
	"context"

	"plagcheck-go/internal/model"
	"plagcheck-go/pkg/log"
)

// Strategy 标识一次比对实际使用的算法。
type Strategy int

const (
	StrategyText Strategy = iota
	StrategyVector
)

func (s Strategy) String() string {
	if s == StrategyVector {
		return "vector"
	}
	return "text"
}

// Result 是比对引擎统一的输出。
type Result struct {
	Score    float64
	Matches  []model.ChunkMatch
	Strategy Strategy
}

// Embedder 是向量服务的最小接口。
// Available 不发起网络请求，只反映是否已配置。
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Available() bool
}

// Options 是引擎的算法参数，零值字段使用默认值。
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	TextAccept   float64
	VectorAccept float64
}

// Engine 在向量服务可用时使用向量相似度，否则静默退化为文本相似度。
// 向量服务的失败永远不会以错误的形式返回给调用方。
type Engine struct {
	chunker      *Chunker
	embedder     Embedder
	textAccept   float64
	vectorAccept float64
}

// NewEngine 创建比对引擎，embedder 可以为 nil。
func NewEngine(opts Options, embedder Embedder) (*Engine, error) {
	if opts.ChunkSize == 0 {
		opts.ChunkSize, opts.ChunkOverlap = DefaultChunkSize, DefaultChunkOverlap
	}
	if opts.TextAccept == 0 {
		opts.TextAccept = DefaultTextAccept
	}
	if opts.VectorAccept == 0 {
		opts.VectorAccept = DefaultVectorAccept
	}
	chunker, err := NewChunker(opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	return &Engine{
		chunker:      chunker,
		embedder:     embedder,
		textAccept:   opts.TextAccept,
		vectorAccept: opts.VectorAccept,
	}, nil
}

// strategy 在每次比对开始时决定一次。
func (e *Engine) strategy() Strategy {
	if e.embedder != nil && e.embedder.Available() {
		return StrategyVector
	}
	return StrategyText
}

// Compare 分块比对两段文本。任一文本为空时得分为 0。
func (e *Engine) Compare(ctx context.Context, a, b string) Result {
	source, target := e.chunker.Split(a), e.chunker.Split(b)
	if len(source) == 0 || len(target) == 0 {
		return Result{Strategy: e.strategy()}
	}

	if e.strategy() == StrategyVector {
		sourceVecs, ok := e.embedChunks(ctx, source)
		if ok {
			targetVecs, ok := e.embedChunks(ctx, target)
			if ok {
				return CompareVectorChunks(source, target, sourceVecs, targetVecs, e.vectorAccept)
			}
		}
		log.Debugf("[Engine] 向量服务不可用，退化为文本相似度")
	}
	return CompareTextChunks(source, target, e.textAccept)
}

// embedChunks 每个文档一次批量请求；出错或数量不一致都视为不可用。
func (e *Engine) embedChunks(ctx context.Context, chunks []Chunk) ([][]float32, bool) {
	vecs, err := e.embedder.Embed(ctx, Texts(chunks))
	if err != nil {
		log.Warnf("[Engine] 获取分块向量失败: %v", err)
		return nil, false
	}
	if len(vecs) != len(chunks) {
		log.Warnf("[Engine] 向量数量不一致: 期望 %d, 实际 %d", len(chunks), len(vecs))
		return nil, false
	}
	return vecs, true
}

// DocumentEmbedding 返回整篇文档的向量（分块向量的均值），向量服务不可用时返回 nil。
func (e *Engine) DocumentEmbedding(ctx context.Context, text string) []float32 {
	if e.strategy() != StrategyVector {
		return nil
	}
	chunks := e.chunker.Split(text)
	if len(chunks) == 0 {
		return nil
	}
	vecs, ok := e.embedChunks(ctx, chunks)
	if !ok {
		return nil
	}
	return Mean(vecs)
}
