package similarity

import (
	"math"
	"strings"
	"unicode"

	"plagcheck-go/internal/model"
)

// DefaultTextAccept 是文本分块匹配的接受阈值（严格大于）。
const DefaultTextAccept = 0.3

const (
	jaccardWeight = 0.4
	cosineWeight  = 0.6
)

// Tokenize 将文本切分为小写 token：每个汉字单独成词，连续的字母数字成词，其余字符作为分隔。
func Tokenize(text string) []string {
	var tokens []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(unicode.ToLower(r))
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// ngrams 把相邻的 n 个 token 拼接成一个 gram。
// token 数不足 n 时整段作为唯一的 gram，保证短文本与自身比较仍得 1。
func ngrams(tokens []string, n int) []string {
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) < n {
		return []string{strings.Join(tokens, " ")}
	}
	grams := make([]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		grams = append(grams, strings.Join(tokens[i:i+n], " "))
	}
	return grams
}

func counts(grams []string) map[string]int {
	m := make(map[string]int, len(grams))
	for _, g := range grams {
		m[g]++
	}
	return m
}

func jaccard(a, b map[string]int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for g := range a {
		if _, ok := b[g]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// countCosine 在整数频次上计算余弦相似度，任一侧范数为 0 时返回 0。
func countCosine(a, b map[string]int) float64 {
	var dot, na, nb int
	for g, ca := range a {
		na += ca * ca
		dot += ca * b[g]
	}
	for _, cb := range b {
		nb += cb * cb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float64(dot) / math.Sqrt(float64(na)*float64(nb))
}

// TextScore 计算两段文本的 n-gram 混合相似度：0.4·Jaccard(2-gram) + 0.6·cosine(3-gram)。
func TextScore(a, b string) float64 {
	ta, tb := Tokenize(a), Tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	j := jaccard(counts(ngrams(ta, 2)), counts(ngrams(tb, 2)))
	c := countCosine(counts(ngrams(ta, 3)), counts(ngrams(tb, 3)))
	return Clamp01(jaccardWeight*j + cosineWeight*c)
}

// CompareTextChunks 对源文档的每个分块贪心地选出得分最高的目标分块。
// 得分超过 accept 的配对计入总分，总分除以源分块数。
func CompareTextChunks(source, target []Chunk, accept float64) Result {
	score, matches := align(source, target, accept, func(i, j int) float64 {
		return TextScore(source[i].Text, target[j].Text)
	})
	return Result{Score: score, Matches: matches, Strategy: StrategyText}
}

// align 是文本与向量两种策略共用的贪心对齐。目标分块可以被多个源分块重复匹配。
func align(source, target []Chunk, accept float64, score func(i, j int) float64) (float64, []model.ChunkMatch) {
	if len(source) == 0 || len(target) == 0 {
		return 0, nil
	}
	var total float64
	var matches []model.ChunkMatch
	for i := range source {
		best, bestJ := math.Inf(-1), -1
		for j := range target {
			if s := score(i, j); s > best {
				best, bestJ = s, j
			}
		}
		if best > accept {
			total += best
			matches = append(matches, model.ChunkMatch{
				SourceChunk: source[i].Text,
				TargetChunk: target[bestJ].Text,
				Score:       Round4(best),
				SourceIndex: source[i].Index,
				TargetIndex: target[bestJ].Index,
			})
		}
	}
	return total / float64(len(source)), matches
}

// Clamp01 把分数限制在 [0,1]。
func Clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// Round4 保留 4 位小数，使存储的结果在多次运行间可复现。
func Round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}
