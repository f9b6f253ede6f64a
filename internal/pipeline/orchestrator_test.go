package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"plagcheck-go/internal/model"
	"plagcheck-go/internal/retrieval"
	"plagcheck-go/internal/similarity"
	"plagcheck-go/pkg/llm"
	"plagcheck-go/pkg/tasks"
)

// memStore 在内存中实现批次、文档与比对的持久化。
type memStore struct {
	mu          sync.Mutex
	batches     map[string]*model.Batch
	libraries   map[string][]string
	docs        []*model.Document
	comparisons []model.Comparison
	audits      []model.AIDetection
	statusLog   map[string][]string
}

func newMemStore() *memStore {
	return &memStore{batches: map[string]*model.Batch{}, libraries: map[string][]string{}, statusLog: map[string][]string{}}
}

func (s *memStore) addBatch(b *model.Batch, texts ...string) []*model.Document {
	b.ID = uuid.NewString()
	b.Status = model.BatchQueued
	b.TotalDocs = len(texts)
	s.batches[b.ID] = b
	var out []*model.Document
	for i, text := range texts {
		d := &model.Document{ID: fmt.Sprintf("doc-%d", i), BatchID: b.ID, FileName: fmt.Sprintf("doc-%d.txt", i), TextContent: text, Status: model.DocumentQueued}
		s.docs = append(s.docs, d)
		out = append(out, d)
	}
	return out
}

func (s *memStore) FindByID(_ context.Context, id string) (*model.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) LibraryIDs(_ context.Context, batchID string) ([]string, error) {
	return s.libraries[batchID], nil
}

func (s *memStore) UpdateStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batches[id]; ok {
		b.Status = status
		return nil
	}
	for _, d := range s.docs {
		if d.ID == id {
			d.Status = status
			s.statusLog[id] = append(s.statusLog[id], status)
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (s *memStore) Finalize(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	completed := 0
	for _, d := range s.docs {
		if d.BatchID == id && d.Status == model.DocumentCompleted {
			completed++
		}
	}
	s.batches[id].ProcessedDocs = completed
	s.batches[id].Status = model.BatchCompleted
	return nil
}

func (s *memStore) ListByBatch(_ context.Context, batchID string) ([]model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Document
	for _, d := range s.docs {
		if d.BatchID == batchID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *memStore) SaveEmbedding(context.Context, string, []float32) error { return nil }

func (s *memStore) SaveAIResult(_ context.Context, doc *model.Document, audit *model.AIDetection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.docs {
		if d.ID == doc.ID {
			d.AIScore, d.IsAIGenerated, d.AIConfidence, d.AIProvider = doc.AIScore, doc.IsAIGenerated, doc.AIConfidence, doc.AIProvider
		}
	}
	s.audits = append(s.audits, *audit)
	return nil
}

func (s *memStore) Create(_ context.Context, c *model.Comparison) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comparisons = append(s.comparisons, *c)
	return nil
}

func (s *memStore) doc(id string) model.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.docs {
		if d.ID == id {
			return *d
		}
	}
	return model.Document{}
}

// faultyRetriever 包装真实检索器，对指定文档抛出 panic 或返回错误。
type faultyRetriever struct {
	Retriever
	failID string
	panics bool
	onCall func(doc *model.Document)
}

func (f *faultyRetriever) FindInBatch(ctx context.Context, doc *model.Document) ([]retrieval.Candidate, error) {
	if f.onCall != nil {
		f.onCall(doc)
	}
	if doc.ID == f.failID {
		if f.panics {
			panic("scoring exploded")
		}
		return nil, errors.New("scoring failed")
	}
	return f.Retriever.FindInBatch(ctx, doc)
}

type fakeDetector struct {
	available bool
	err       error
	score     float64
}

func (f *fakeDetector) Available() bool { return f.available }
func (f *fakeDetector) Model() string   { return "fake" }
func (f *fakeDetector) Detect(_ context.Context, _ string, threshold float64) (*llm.Detection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Detection{Score: f.score, IsAI: f.score > threshold, Confidence: 0.8, Provider: "api"}, nil
}

type memLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLock) Acquire(_ context.Context, id string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[id] {
		return false, nil
	}
	l.held[id] = true
	return true, nil
}

func (l *memLock) Release(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
	return nil
}

func newTestOrchestrator(t *testing.T, store *memStore, wrap func(Retriever) Retriever, detector AIDetector, opts Options) *Orchestrator {
	t.Helper()
	engine, err := similarity.NewEngine(similarity.Options{}, nil)
	require.NoError(t, err)
	var r Retriever = retrieval.NewRetriever(engine, store, nil, nil, retrieval.DefaultOptions())
	if wrap != nil {
		r = wrap(r)
	}
	return NewOrchestrator(store, store, store, &memLock{held: map[string]bool{}}, r, engine, detector, opts)
}

var essays = []string{
	"Distributed systems trade consistency for availability under partitions.",
	"Photosynthesis converts light energy into chemical energy in plants.",
	"The French revolution reshaped European politics in the eighteenth century.",
	"Neural networks learn representations through gradient descent.",
}

func TestProcess_IsolatesFailingDocument(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		for _, panics := range []bool{false, true} {
			t.Run(fmt.Sprintf("concurrency=%d panics=%v", concurrency, panics), func(t *testing.T) {
				store := newMemStore()
				batch := &model.Batch{AnalysisType: model.AnalysisPlagiarism, CompareMode: model.CompareInternal}
				docs := store.addBatch(batch, essays...)
				failing := docs[2].ID

				o := newTestOrchestrator(t, store, func(r Retriever) Retriever {
					return &faultyRetriever{Retriever: r, failID: failing, panics: panics}
				}, nil, Options{DocumentConcurrency: concurrency})

				require.NoError(t, o.Process(context.Background(), tasks.BatchTask{BatchID: batch.ID}))

				for _, d := range docs {
					want := model.DocumentCompleted
					if d.ID == failing {
						want = model.DocumentFailed
					}
					assert.Equal(t, want, store.doc(d.ID).Status, d.ID)
					assert.Equal(t, []string{model.DocumentProcessing, want}, store.statusLog[d.ID])
				}
				got := store.batches[batch.ID]
				assert.Equal(t, model.BatchCompleted, got.Status)
				assert.Equal(t, len(essays)-1, got.ProcessedDocs)
				assert.LessOrEqual(t, got.ProcessedDocs, got.TotalDocs)
			})
		}
	}
}

func TestProcess_TwoFoxesEndToEnd(t *testing.T) {
	store := newMemStore()
	batch := &model.Batch{AnalysisType: model.AnalysisPlagiarism, CompareMode: model.CompareInternal}
	docs := store.addBatch(batch, "The quick brown fox jumps", "The quick brown fox leaps")

	o := newTestOrchestrator(t, store, nil, nil, Options{})
	require.NoError(t, o.Process(context.Background(), tasks.BatchTask{BatchID: batch.ID}))

	var fromFirst []model.Comparison
	for _, c := range store.comparisons {
		if c.DocA == docs[0].ID {
			fromFirst = append(fromFirst, c)
		}
	}
	require.Len(t, fromFirst, 1)
	assert.Greater(t, fromFirst[0].Similarity, 0.3)
	assert.Equal(t, model.SourceInternal, fromFirst[0].SourceType)
	require.NotNil(t, fromFirst[0].DocB)
	assert.Equal(t, docs[1].ID, *fromFirst[0].DocB)
	assert.Nil(t, fromFirst[0].LibraryID)
	assert.NotEmpty(t, fromFirst[0].Matches)

	assert.Equal(t, 2, store.batches[batch.ID].ProcessedDocs)
}

func TestProcess_AIStage(t *testing.T) {
	cases := []struct {
		name       string
		detector   AIDetector
		wantStatus string
		wantAudit  bool
	}{
		{"not configured", nil, model.DocumentCompleted, false},
		{"unavailable", &fakeDetector{available: true, err: fmt.Errorf("%w: connection refused", llm.ErrUnavailable)}, model.DocumentCompleted, false},
		{"detected", &fakeDetector{available: true, score: 0.9}, model.DocumentCompleted, true},
		{"bad verdict", &fakeDetector{available: true, err: errors.New("parse")}, model.DocumentFailed, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			batch := &model.Batch{AnalysisType: model.AnalysisMixed, CompareMode: model.CompareInternal, AIThreshold: 0.5}
			docs := store.addBatch(batch, "The quick brown fox jumps", "The quick brown fox leaps")

			o := newTestOrchestrator(t, store, nil, tc.detector, Options{})
			require.NoError(t, o.Process(context.Background(), tasks.BatchTask{BatchID: batch.ID}))

			for _, d := range docs {
				assert.Equal(t, tc.wantStatus, store.doc(d.ID).Status)
			}
			// 查重阶段独立于 AI 阶段
			assert.Len(t, store.comparisons, 2)
			if tc.wantAudit {
				require.Len(t, store.audits, 2)
				assert.Equal(t, "fake", store.audits[0].ModelVersion)
				got := store.doc(docs[0].ID)
				require.NotNil(t, got.IsAIGenerated)
				assert.True(t, *got.IsAIGenerated)
			} else {
				assert.Empty(t, store.audits)
			}
		})
	}
}

func TestProcess_AIOnlySkipsPlagiarism(t *testing.T) {
	store := newMemStore()
	batch := &model.Batch{AnalysisType: model.AnalysisAI, CompareMode: model.CompareInternal, AIThreshold: 0.5}
	store.addBatch(batch, "The quick brown fox jumps", "The quick brown fox jumps")

	o := newTestOrchestrator(t, store, nil, &fakeDetector{available: true, score: 0.1}, Options{})
	require.NoError(t, o.Process(context.Background(), tasks.BatchTask{BatchID: batch.ID}))

	assert.Empty(t, store.comparisons)
	assert.Len(t, store.audits, 2)
	assert.Equal(t, 2, store.batches[batch.ID].ProcessedDocs)
}

func TestProcess_CancellationLeavesBatchQueued(t *testing.T) {
	store := newMemStore()
	batch := &model.Batch{AnalysisType: model.AnalysisPlagiarism, CompareMode: model.CompareInternal}
	docs := store.addBatch(batch, essays...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := newTestOrchestrator(t, store, func(r Retriever) Retriever {
		return &faultyRetriever{Retriever: r, onCall: func(*model.Document) { cancel() }}
	}, nil, Options{})

	err := o.Process(ctx, tasks.BatchTask{BatchID: batch.ID})
	require.ErrorIs(t, err, context.Canceled)

	// 被中断的文档进入 failed，其余保持 queued
	assert.Equal(t, model.DocumentFailed, store.doc(docs[0].ID).Status)
	for _, d := range docs[1:] {
		assert.Equal(t, model.DocumentQueued, store.doc(d.ID).Status)
	}
	assert.Equal(t, model.BatchQueued, store.batches[batch.ID].Status)

	// 重试时跳过终态文档
	o = newTestOrchestrator(t, store, nil, nil, Options{})
	require.NoError(t, o.Process(context.Background(), tasks.BatchTask{BatchID: batch.ID}))
	assert.Equal(t, []string{model.DocumentProcessing, model.DocumentFailed}, store.statusLog[docs[0].ID])
	assert.Equal(t, model.BatchCompleted, store.batches[batch.ID].Status)
	assert.Equal(t, len(essays)-1, store.batches[batch.ID].ProcessedDocs)
}

func TestProcess_LockedBatchIsSkipped(t *testing.T) {
	store := newMemStore()
	batch := &model.Batch{AnalysisType: model.AnalysisPlagiarism, CompareMode: model.CompareInternal}
	docs := store.addBatch(batch, essays...)

	o := newTestOrchestrator(t, store, nil, nil, Options{})
	_, _ = o.lock.Acquire(context.Background(), batch.ID, time.Minute)

	require.NoError(t, o.Process(context.Background(), tasks.BatchTask{BatchID: batch.ID}))
	assert.Equal(t, model.DocumentQueued, store.doc(docs[0].ID).Status)
	assert.Equal(t, model.BatchQueued, store.batches[batch.ID].Status)
}

func TestProcess_MissingBatchIsDropped(t *testing.T) {
	o := newTestOrchestrator(t, newMemStore(), nil, nil, Options{})
	assert.NoError(t, o.Process(context.Background(), tasks.BatchTask{BatchID: uuid.NewString()}))
}

// stallingRetriever 对除 passID 以外的文档一直阻塞到 ctx 结束。
type stallingRetriever struct {
	Retriever
	passID string
}

func (s *stallingRetriever) FindInBatch(ctx context.Context, doc *model.Document) ([]retrieval.Candidate, error) {
	if doc.ID == s.passID {
		return s.Retriever.FindInBatch(ctx, doc)
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAbandon_FinalizesBatchAfterRepeatedTimeouts(t *testing.T) {
	store := newMemStore()
	batch := &model.Batch{AnalysisType: model.AnalysisPlagiarism, CompareMode: model.CompareInternal}
	texts := append(append([]string{}, essays...), "Plate tectonics explains the drift of continents over geological time.")
	docs := store.addBatch(batch, texts...)

	o := newTestOrchestrator(t, store, func(r Retriever) Retriever {
		return &stallingRetriever{Retriever: r, passID: docs[0].ID}
	}, nil, Options{BatchTimeout: 20 * time.Millisecond})

	// 每次尝试都超时，批次回到 queued，且始终有文档未处理
	for attempt := 1; attempt <= 3; attempt++ {
		err := o.Process(context.Background(), tasks.BatchTask{BatchID: batch.ID})
		require.ErrorIs(t, err, context.DeadlineExceeded, "attempt %d", attempt)
		assert.Equal(t, model.BatchQueued, store.batches[batch.ID].Status)
	}
	assert.Equal(t, model.DocumentQueued, store.doc(docs[4].ID).Status)

	require.NoError(t, o.Abandon(context.Background(), tasks.BatchTask{BatchID: batch.ID}))

	completed := 0
	for _, d := range docs {
		got := store.doc(d.ID)
		assert.True(t, got.IsTerminal(), "document %s status %s", d.ID, got.Status)
		if got.Status == model.DocumentCompleted {
			completed++
		}
	}
	assert.Equal(t, model.BatchCompleted, store.batches[batch.ID].Status)
	assert.Equal(t, 1, completed)
	assert.Equal(t, completed, store.batches[batch.ID].ProcessedDocs)
	assert.Equal(t, model.DocumentCompleted, store.doc(docs[0].ID).Status)
	assert.Equal(t, []string{model.DocumentFailed}, store.statusLog[docs[4].ID])

	// 已完成的批次不再变化
	require.NoError(t, o.Abandon(context.Background(), tasks.BatchTask{BatchID: batch.ID}))
	assert.Equal(t, completed, store.batches[batch.ID].ProcessedDocs)
}

func TestAbandon_SkipsLockedAndMissingBatches(t *testing.T) {
	store := newMemStore()
	batch := &model.Batch{AnalysisType: model.AnalysisPlagiarism, CompareMode: model.CompareInternal}
	docs := store.addBatch(batch, essays...)

	o := newTestOrchestrator(t, store, nil, nil, Options{})
	_, _ = o.lock.Acquire(context.Background(), batch.ID, time.Minute)

	require.NoError(t, o.Abandon(context.Background(), tasks.BatchTask{BatchID: batch.ID}))
	assert.Equal(t, model.DocumentQueued, store.doc(docs[0].ID).Status)
	assert.Equal(t, model.BatchQueued, store.batches[batch.ID].Status)

	assert.NoError(t, o.Abandon(context.Background(), tasks.BatchTask{BatchID: uuid.NewString()}))
}
