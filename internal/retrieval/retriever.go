// Package retrieval 负责为待检文档寻找相似的候选文档：批次内穷举比对，
// 以及文档库的两阶段检索（向量粗筛或词法粗筛 + 分块精排）。
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"plagcheck-go/internal/model"
	"plagcheck-go/internal/similarity"
	"plagcheck-go/pkg/log"
)

// ErrInvalidLibraryID 表示文档库 ID 不是合法的 UUID。
var ErrInvalidLibraryID = errors.New("invalid library id")

// DegradedReason 说明文档库检索的粗筛阶段为何没有使用向量索引。
type DegradedReason string

const (
	DegradedNone        DegradedReason = ""
	DegradedNoIndex     DegradedReason = "no_index"
	DegradedNoEmbedding DegradedReason = "no_embedding"
	DegradedIndexError  DegradedReason = "index_error"
)

// Comparer 是精排阶段使用的比对引擎。
type Comparer interface {
	Compare(ctx context.Context, a, b string) similarity.Result
}

// BatchDocuments 提供同一批次的文档。
type BatchDocuments interface {
	ListByBatch(ctx context.Context, batchID string) ([]model.Document, error)
}

// LibraryDocuments 提供文档库中的参考文档。
type LibraryDocuments interface {
	ListReady(ctx context.Context, libraryIDs []string) ([]model.LibraryDocument, error)
	ListUnindexed(ctx context.Context, libraryIDs []string) ([]model.LibraryDocument, error)
	GetByIDs(ctx context.Context, ids []string) ([]model.LibraryDocument, error)
}

// VectorIndex 是近似最近邻索引，返回按余弦距离升序排列的命中。
type VectorIndex interface {
	Query(ctx context.Context, vector []float32, libraryIDs []string, k int) ([]model.VectorHit, error)
}

// Candidate 是一个通过阈值的相似候选。
type Candidate struct {
	DocumentID string // 批次文档或文档库文档的 ID
	LibraryID  string // 批次内候选为空
	Score      float64
	Matches    []model.ChunkMatch
	Strategy   similarity.Strategy
}

// LibrarySearch 是文档库检索的结果，Degraded 非空表示粗筛使用了词法回退。
type LibrarySearch struct {
	Candidates []Candidate
	Degraded   DegradedReason
}

// Options 是检索阈值参数。
type Options struct {
	BatchMinScore   float64
	LibraryMinScore float64
	CandidatePool   int
	PrefixRunes     int
}

// DefaultOptions 返回默认的检索参数。
func DefaultOptions() Options {
	return Options{
		BatchMinScore:   0.1,
		LibraryMinScore: 0.05,
		CandidatePool:   20,
		PrefixRunes:     2000,
	}
}

// Retriever 实现候选检索。index 可以为 nil，表示未配置向量索引。
type Retriever struct {
	engine  Comparer
	batch   BatchDocuments
	library LibraryDocuments
	index   VectorIndex
	opts    Options
}

func NewRetriever(engine Comparer, batch BatchDocuments, library LibraryDocuments, index VectorIndex, opts Options) *Retriever {
	return &Retriever{engine: engine, batch: batch, library: library, index: index, opts: opts}
}

// ValidateLibraryIDs 检查每个 ID 都是合法的 UUID。
func ValidateLibraryIDs(ids []string) error {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidLibraryID, id)
		}
	}
	return nil
}

// FindInBatch 将文档与同批次其他所有非空文档逐一比对，保留得分高于 BatchMinScore 的候选。
func (r *Retriever) FindInBatch(ctx context.Context, doc *model.Document) ([]Candidate, error) {
	if doc.TextContent == "" {
		return nil, nil
	}
	others, err := r.batch.ListByBatch(ctx, doc.BatchID)
	if err != nil {
		return nil, fmt.Errorf("加载批次文档失败: %w", err)
	}

	var out []Candidate
	for _, other := range others {
		if other.ID == doc.ID || other.TextContent == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := r.engine.Compare(ctx, doc.TextContent, other.TextContent)
		score := normalize(res.Score)
		if score <= r.opts.BatchMinScore {
			continue
		}
		out = append(out, Candidate{DocumentID: other.ID, Score: score, Matches: res.Matches, Strategy: res.Strategy})
	}
	rank(out)
	return out, nil
}

// FindInLibraries 在指定文档库中两阶段检索相似文档，最多返回 topK 个候选。
// 非法的文档库 ID 在任何处理之前同步返回 ErrInvalidLibraryID。
func (r *Retriever) FindInLibraries(ctx context.Context, doc *model.Document, libraryIDs []string, topK int) (LibrarySearch, error) {
	if err := ValidateLibraryIDs(libraryIDs); err != nil {
		return LibrarySearch{}, err
	}
	if len(libraryIDs) == 0 || doc.TextContent == "" {
		return LibrarySearch{}, nil
	}

	coarse, degraded, err := r.coarse(ctx, doc, libraryIDs)
	if err != nil {
		return LibrarySearch{Degraded: degraded}, err
	}

	// 精排
	var out []Candidate
	for _, lib := range coarse {
		if err := ctx.Err(); err != nil {
			return LibrarySearch{Degraded: degraded}, err
		}
		res := r.engine.Compare(ctx, doc.TextContent, lib.TextContent)
		score := normalize(res.Score)
		if score <= r.opts.LibraryMinScore {
			continue
		}
		out = append(out, Candidate{
			DocumentID: lib.ID,
			LibraryID:  lib.LibraryID,
			Score:      score,
			Matches:    res.Matches,
			Strategy:   res.Strategy,
		})
	}
	rank(out)
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return LibrarySearch{Candidates: out, Degraded: degraded}, nil
}

// coarse 返回粗筛候选。向量索引不可用时退化为词法粗筛，并给出原因。
func (r *Retriever) coarse(ctx context.Context, doc *model.Document, libraryIDs []string) ([]model.LibraryDocument, DegradedReason, error) {
	var reason DegradedReason
	switch {
	case r.index == nil:
		reason = DegradedNoIndex
	case len(doc.Embedding) == 0:
		reason = DegradedNoEmbedding
	default:
		docs, err := r.vectorCoarse(ctx, doc.Embedding, libraryIDs)
		if err == nil {
			return r.withUnindexed(ctx, doc, libraryIDs, docs)
		}
		log.Warnw("[Retriever] 向量索引查询失败，使用词法粗筛", "document_id", doc.ID, "error", err)
		reason = DegradedIndexError
	}

	docs, err := r.lexicalCoarse(ctx, doc.TextContent, libraryIDs)
	return docs, reason, err
}

// withUnindexed 把未写入向量索引的 ready 文档按词法得分补充进向量粗筛结果。
func (r *Retriever) withUnindexed(ctx context.Context, doc *model.Document, libraryIDs []string, hits []model.LibraryDocument) ([]model.LibraryDocument, DegradedReason, error) {
	unindexed, err := r.library.ListUnindexed(ctx, libraryIDs)
	if err != nil {
		return nil, DegradedNone, fmt.Errorf("加载文档库文档失败: %w", err)
	}
	if len(unindexed) == 0 {
		return hits, DegradedNone, nil
	}
	seen := make(map[string]struct{}, len(hits))
	for _, d := range hits {
		seen[d.ID] = struct{}{}
	}
	rest := unindexed[:0]
	for _, d := range unindexed {
		if _, ok := seen[d.ID]; !ok {
			rest = append(rest, d)
		}
	}
	log.Debugf("[Retriever] 向量命中 %d 个, 补充未索引文档 %d 个, DocumentID: %s", len(hits), len(rest), doc.ID)
	return append(hits, r.rankLexically(doc.TextContent, rest)...), DegradedNone, nil
}

func (r *Retriever) vectorCoarse(ctx context.Context, vector []float32, libraryIDs []string) ([]model.LibraryDocument, error) {
	hits, err := r.index.Query(ctx, vector, libraryIDs, r.opts.CandidatePool)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	docs, err := r.library.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("加载文档库文档失败: %w", err)
	}

	// 按命中顺序（距离升序）排列，并再次确认状态与范围
	scope := make(map[string]struct{}, len(libraryIDs))
	for _, id := range libraryIDs {
		scope[id] = struct{}{}
	}
	byID := make(map[string]model.LibraryDocument, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	out := make([]model.LibraryDocument, 0, len(hits))
	for _, h := range hits {
		d, ok := byID[h.ID]
		if !ok || d.Status != model.LibraryDocReady {
			continue
		}
		if _, ok := scope[d.LibraryID]; !ok {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// lexicalCoarse 用文本前缀的相似度为范围内所有就绪文档排序，取前 CandidatePool 个。
func (r *Retriever) lexicalCoarse(ctx context.Context, text string, libraryIDs []string) ([]model.LibraryDocument, error) {
	docs, err := r.library.ListReady(ctx, libraryIDs)
	if err != nil {
		return nil, fmt.Errorf("加载文档库文档失败: %w", err)
	}
	return r.rankLexically(text, docs), nil
}

func (r *Retriever) rankLexically(text string, docs []model.LibraryDocument) []model.LibraryDocument {
	query := prefix(text, r.opts.PrefixRunes)

	type scored struct {
		doc   model.LibraryDocument
		score float64
	}
	ranked := make([]scored, 0, len(docs))
	for _, d := range docs {
		if d.TextContent == "" {
			continue
		}
		ranked = append(ranked, scored{doc: d, score: similarity.TextScore(query, prefix(d.TextContent, r.opts.PrefixRunes))})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if r.opts.CandidatePool > 0 && len(ranked) > r.opts.CandidatePool {
		ranked = ranked[:r.opts.CandidatePool]
	}

	out := make([]model.LibraryDocument, len(ranked))
	for i, s := range ranked {
		out[i] = s.doc
	}
	return out
}

func prefix(text string, n int) string {
	if n <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

func normalize(score float64) float64 {
	return similarity.Round4(similarity.Clamp01(score))
}

// rank 按得分降序稳定排序，同分保持发现顺序。
func rank(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool { return c[i].Score > c[j].Score })
}
