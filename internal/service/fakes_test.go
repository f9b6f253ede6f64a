package service

import (
	"context"
	"errors"
	"io"
	"sync"

	"plagcheck-go/internal/model"
	"plagcheck-go/internal/repository"
	"plagcheck-go/pkg/tasks"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newMemObjects() *memObjects { return &memObjects{objects: map[string][]byte{}} }

func (m *memObjects) Put(_ context.Context, name string, data []byte, _ string) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = data
	return nil
}

func (m *memObjects) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
	return nil
}

// echoExtractor 原样返回文件内容；名称以 .bin 结尾时模拟解析失败。
type echoExtractor struct{}

func (echoExtractor) ExtractText(_ context.Context, r io.Reader, fileName string) (string, error) {
	if len(fileName) > 4 && fileName[len(fileName)-4:] == ".bin" {
		return "", errors.New("unsupported")
	}
	b, err := io.ReadAll(r)
	return string(b), err
}

type recordingProducer struct {
	tasks []tasks.BatchTask
	err   error
}

func (p *recordingProducer) ProduceBatchTask(_ context.Context, t tasks.BatchTask) error {
	if p.err != nil {
		return p.err
	}
	p.tasks = append(p.tasks, t)
	return nil
}

type fakeBatchRepo struct {
	repository.BatchRepository
	batches    map[string]*model.Batch
	docs       []*model.Document
	libraryIDs map[string][]string
}

func newFakeBatchRepo() *fakeBatchRepo {
	return &fakeBatchRepo{batches: map[string]*model.Batch{}, libraryIDs: map[string][]string{}}
}

func (r *fakeBatchRepo) CreateWithDocuments(_ context.Context, b *model.Batch, docs []*model.Document, libraryIDs []string) error {
	r.batches[b.ID] = b
	for i, d := range docs {
		d.BatchID = b.ID
		if d.ID == "" {
			d.ID = b.ID + "-" + string(rune('a'+i))
		}
		r.docs = append(r.docs, d)
	}
	r.libraryIDs[b.ID] = libraryIDs
	return nil
}

func (r *fakeBatchRepo) FindByID(_ context.Context, id string) (*model.Batch, error) {
	b, ok := r.batches[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return b, nil
}

func (r *fakeBatchRepo) ListByUser(_ context.Context, userID string) ([]model.Batch, error) {
	var out []model.Batch
	for _, b := range r.batches {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	return out, nil
}

type fakeDocumentRepo struct {
	repository.DocumentRepository
	batches *fakeBatchRepo
}

func (r *fakeDocumentRepo) ListByBatch(_ context.Context, batchID string) ([]model.Document, error) {
	var out []model.Document
	for _, d := range r.batches.docs {
		if d.BatchID == batchID {
			out = append(out, *d)
		}
	}
	return out, nil
}

type fakeComparisonRepo struct {
	repository.ComparisonRepository
	items []model.Comparison
}

func (r *fakeComparisonRepo) ListBySources(_ context.Context, ids []string) ([]model.Comparison, error) {
	var out []model.Comparison
	for _, c := range r.items {
		for _, id := range ids {
			if c.DocA == id {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

type fakeLibraryRepo struct {
	repository.LibraryRepository
	libraries map[string]*model.DocumentLibrary
	docs      map[string]*model.LibraryDocument
	recounts  []string
	finishErr error
}

func newFakeLibraryRepo() *fakeLibraryRepo {
	return &fakeLibraryRepo{libraries: map[string]*model.DocumentLibrary{}, docs: map[string]*model.LibraryDocument{}}
}

func (r *fakeLibraryRepo) Create(_ context.Context, lib *model.DocumentLibrary) error {
	if lib.ID == "" {
		lib.ID = "lib-" + lib.Name
	}
	r.libraries[lib.ID] = lib
	return nil
}

func (r *fakeLibraryRepo) FindByID(_ context.Context, id string) (*model.DocumentLibrary, error) {
	lib, ok := r.libraries[id]
	if !ok || !lib.IsActive {
		return nil, repository.ErrNotFound
	}
	return lib, nil
}

func (r *fakeLibraryRepo) FindByIDs(_ context.Context, ids []string) ([]model.DocumentLibrary, error) {
	var out []model.DocumentLibrary
	for _, id := range ids {
		if lib, ok := r.libraries[id]; ok {
			out = append(out, *lib)
		}
	}
	return out, nil
}

func (r *fakeLibraryRepo) GetByIDs(_ context.Context, ids []string) ([]model.LibraryDocument, error) {
	var out []model.LibraryDocument
	for _, id := range ids {
		if d, ok := r.docs[id]; ok {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *fakeLibraryRepo) CreateDocument(_ context.Context, d *model.LibraryDocument) error {
	if d.ID == "" {
		d.ID = "libdoc-" + d.FileName
	}
	cp := *d
	r.docs[d.ID] = &cp
	return nil
}

func (r *fakeLibraryRepo) FinishDocument(_ context.Context, id, status string, embedding []float32, indexed bool) error {
	if r.finishErr != nil {
		return r.finishErr
	}
	r.docs[id].Status = status
	r.docs[id].Embedding = embedding
	r.docs[id].Indexed = indexed
	return nil
}

func (r *fakeLibraryRepo) FindDocument(_ context.Context, libraryID, docID string) (*model.LibraryDocument, error) {
	d, ok := r.docs[docID]
	if !ok || d.LibraryID != libraryID {
		return nil, repository.ErrNotFound
	}
	return d, nil
}

func (r *fakeLibraryRepo) DeleteDocument(_ context.Context, id string) error {
	delete(r.docs, id)
	return nil
}

func (r *fakeLibraryRepo) RecountDocuments(_ context.Context, libraryID string) error {
	r.recounts = append(r.recounts, libraryID)
	n := 0
	for _, d := range r.docs {
		if d.LibraryID == libraryID {
			n++
		}
	}
	r.libraries[libraryID].DocumentCount = n
	return nil
}
