package es

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plagcheck-go/internal/model"
)

func TestScoreToDistance(t *testing.T) {
	assert.InDelta(t, 0.0, scoreToDistance(1.0), 1e-12)  // cos = 1
	assert.InDelta(t, 1.0, scoreToDistance(0.5), 1e-12)  // cos = 0
	assert.InDelta(t, 2.0, scoreToDistance(0.0), 1e-12)  // cos = -1
	assert.InDelta(t, 0.2, scoreToDistance(0.9), 1e-12)
}

func TestQuery_FiltersAndDecodesHits(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/library_documents/_search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hits":{"hits":[{"_id":"d1","_score":0.99},{"_id":"d2","_score":0.75}]}}`))
	}))
	defer srv.Close()

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	idx := &VectorIndex{client: client, indexName: "library_documents"}

	hits, err := idx.Query(context.Background(), []float32{0.1, 0.2}, []string{"lib-1"}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "d1", hits[0].ID)
	assert.InDelta(t, 0.02, hits[0].Distance, 1e-9)
	assert.InDelta(t, 0.5, hits[1].Distance, 1e-9)

	knn := body["knn"].(map[string]any)
	assert.Equal(t, float64(5), knn["k"])
	assert.Equal(t, float64(100), knn["num_candidates"])
	filters := knn["filter"].(map[string]any)["bool"].(map[string]any)["filter"].([]any)
	assert.Equal(t, []any{"lib-1"}, filters[0].(map[string]any)["terms"].(map[string]any)["library_id"])
	assert.Equal(t, model.LibraryDocReady, filters[1].(map[string]any)["term"].(map[string]any)["status"])
}

func TestQuery_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	}))
	defer srv.Close()

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	idx := &VectorIndex{client: client, indexName: "library_documents"}

	_, err = idx.Query(context.Background(), []float32{1}, []string{"lib-1"}, 5)
	assert.Error(t, err)
}

func TestQuery_EmptyScope(t *testing.T) {
	idx := &VectorIndex{}
	hits, err := idx.Query(context.Background(), []float32{1}, nil, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
