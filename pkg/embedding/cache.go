package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"github.com/go-redis/redis/v8"
	"plagcheck-go/pkg/log"
	"strconv"
	"time"
)

// Embedder 是被缓存包装的向量服务。
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Available() bool
}

// CachedClient 以 Redis 缓存分块向量。同一批次内文档两两比对时，分块向量会被反复请求。
type CachedClient struct {
	next        Embedder
	redisClient *redis.Client
	model       string
	dimensions  int
	ttl         time.Duration
}

// NewCachedClient 包装 next；redisClient 为 nil 时直接透传。
// 缓存键包含 model 与 dimensions，两者任一变化都不会读到旧向量。
func NewCachedClient(next Embedder, redisClient *redis.Client, model string, dimensions int, ttl time.Duration) *CachedClient {
	return &CachedClient{next: next, redisClient: redisClient, model: model, dimensions: dimensions, ttl: ttl}
}

func (c *CachedClient) Available() bool {
	return c.next.Available()
}

func (c *CachedClient) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embedding:" + c.model + ":" + strconv.Itoa(c.dimensions) + ":" + hex.EncodeToString(sum[:])
}

// Embed 先批量读缓存，只为未命中的文本请求向量服务，再回写缓存。
// 缓存读写失败只记录日志。
func (c *CachedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.redisClient == nil || len(texts) == 0 {
		return c.next.Embed(ctx, texts)
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}
	out := make([][]float32, len(texts))

	cached, err := c.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		log.Warnf("[EmbeddingCache] 读取缓存失败: %v", err)
		cached = nil
	}
	var missing []int
	for i := range texts {
		if i < len(cached) {
			if s, ok := cached[i].(string); ok {
				var vec []float32
				if json.Unmarshal([]byte(s), &vec) == nil && len(vec) > 0 {
					out[i] = vec
					continue
				}
			}
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}
	vecs, err := c.next.Embed(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(pending) {
		return vecs, nil
	}

	pipe := c.redisClient.Pipeline()
	for j, i := range missing {
		out[i] = vecs[j]
		if b, err := json.Marshal(vecs[j]); err == nil {
			pipe.Set(ctx, keys[i], b, c.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("[EmbeddingCache] 写入缓存失败: %v", err)
	}
	return out, nil
}
