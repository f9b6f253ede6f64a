// Package similaritytest 提供测试用的向量服务替身。
package similaritytest

import (
	"context"
	"errors"
	"sync/atomic"
	"unicode"
)

// ErrDown 是 FailingEmbedder 返回的错误。
var ErrDown = errors.New("embedding provider down")

// LetterEmbedder 以字母频次作为向量：相同文本得到相同向量，无需网络。
type LetterEmbedder struct {
	Calls atomic.Int64
}

func (e *LetterEmbedder) Available() bool { return true }

func (e *LetterEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.Calls.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 27)
		for _, r := range t {
			r = unicode.ToLower(r)
			if r >= 'a' && r <= 'z' {
				v[r-'a']++
			} else if !unicode.IsSpace(r) {
				v[26]++
			}
		}
		out[i] = v
	}
	return out, nil
}

// FailingEmbedder 声称可用但每次调用都失败。
type FailingEmbedder struct{}

func (FailingEmbedder) Available() bool { return true }

func (FailingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, ErrDown
}

// UnavailableEmbedder 模拟未配置的向量服务。
type UnavailableEmbedder struct{}

func (UnavailableEmbedder) Available() bool { return false }

func (UnavailableEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, ErrDown
}

// ShortEmbedder 返回的向量数量少于输入。
type ShortEmbedder struct{}

func (ShortEmbedder) Available() bool { return true }

func (ShortEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return [][]float32{{1}}, nil
}
