package similarity_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plagcheck-go/internal/similarity"
	"plagcheck-go/internal/similarity/similaritytest"
)

var essays = [][2]string{
	{"The quick brown fox jumps", "The quick brown fox leaps"},
	{strings.Repeat("机器学习是人工智能的一个分支。", 60), strings.Repeat("深度学习是机器学习的一个分支。", 55)},
	{strings.Repeat("lorem ipsum dolor sit amet ", 40), "completely unrelated sentence"},
}

func TestEngine_FallbackEqualsTextComparison(t *testing.T) {
	ctx := context.Background()
	for _, emb := range []similarity.Embedder{nil, similaritytest.UnavailableEmbedder{}, similaritytest.FailingEmbedder{}, similaritytest.ShortEmbedder{}} {
		engine, err := similarity.NewEngine(similarity.Options{}, emb)
		require.NoError(t, err)

		for _, pair := range essays {
			got := engine.Compare(ctx, pair[0], pair[1])
			c := similarity.DefaultChunker()
			want := similarity.CompareTextChunks(c.Split(pair[0]), c.Split(pair[1]), similarity.DefaultTextAccept)
			assert.Equal(t, want, got)
			assert.Equal(t, similarity.StrategyText, got.Strategy)
		}
	}
}

func TestEngine_UsesVectorsWhenAvailable(t *testing.T) {
	emb := &similaritytest.LetterEmbedder{}
	engine, err := similarity.NewEngine(similarity.Options{}, emb)
	require.NoError(t, err)

	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 30)
	res := engine.Compare(context.Background(), text, text)
	assert.Equal(t, similarity.StrategyVector, res.Strategy)
	assert.InDelta(t, 1.0, res.Score, 1e-6)
	// 每个文档一次批量请求
	assert.Equal(t, int64(2), emb.Calls.Load())
}

func TestEngine_EmptyTextScoresZero(t *testing.T) {
	engine, err := similarity.NewEngine(similarity.Options{}, &similaritytest.LetterEmbedder{})
	require.NoError(t, err)

	res := engine.Compare(context.Background(), "", "some text")
	assert.Zero(t, res.Score)
	assert.Empty(t, res.Matches)
}

func TestEngine_DocumentEmbedding(t *testing.T) {
	ctx := context.Background()
	engine, err := similarity.NewEngine(similarity.Options{ChunkSize: 4, ChunkOverlap: 0}, &similaritytest.LetterEmbedder{})
	require.NoError(t, err)

	vec := engine.DocumentEmbedding(ctx, "aaaabbbb")
	require.Len(t, vec, 27)
	assert.Equal(t, float32(2), vec[0])
	assert.Equal(t, float32(2), vec[1])

	fallback, err := similarity.NewEngine(similarity.Options{}, similaritytest.FailingEmbedder{})
	require.NoError(t, err)
	assert.Nil(t, fallback.DocumentEmbedding(ctx, "aaaabbbb"))
}

func TestNewEngine_InvalidWindow(t *testing.T) {
	_, err := similarity.NewEngine(similarity.Options{ChunkSize: 10, ChunkOverlap: 10}, nil)
	assert.ErrorIs(t, err, similarity.ErrInvalidWindow)
}
