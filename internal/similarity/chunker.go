// Package similarity 实现文档查重的核心算法：分块、文本 n-gram 相似度、向量相似度，
// 以及按向量服务可用性选择策略的比对引擎。
package similarity

import (
	"errors"
	"fmt"
	"iter"
)

// 默认分块参数，单位为字符（rune）。
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// ErrInvalidWindow 表示分块窗口参数不合法。
var ErrInvalidWindow = errors.New("invalid chunk window")

// Chunk 是文本中的一个窗口片段。Offset 为起始字符下标。
type Chunk struct {
	Index  int
	Offset int
	Text   string
}

// Chunker 以固定窗口切分文本，相邻窗口重叠 overlap 个字符。
// 对相同的 (text, size, overlap) 总是产生相同的分块序列。
type Chunker struct {
	size    int
	overlap int
}

// NewChunker 要求 size > 0 且 0 <= overlap < size。
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidWindow, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// DefaultChunker 返回 500/50 的分块器。
func DefaultChunker() *Chunker {
	return &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunks 返回一个惰性的分块序列，可重复遍历。空文本不产生任何分块。
func (c *Chunker) Chunks(text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		runes := []rune(text)
		n := len(runes)
		step := c.size - c.overlap
		for i, start := 0, 0; start < n; i, start = i+1, start+step {
			end := min(start+c.size, n)
			if !yield(Chunk{Index: i, Offset: start, Text: string(runes[start:end])}) {
				return
			}
			// 窗口已到达文本末尾
			if end == n {
				return
			}
		}
	}
}

// Split 将全部分块收集为切片。
func (c *Chunker) Split(text string) []Chunk {
	var chunks []Chunk
	for ch := range c.Chunks(text) {
		chunks = append(chunks, ch)
	}
	return chunks
}

// Texts 只返回分块文本，便于批量请求 embedding。
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Text
	}
	return out
}
