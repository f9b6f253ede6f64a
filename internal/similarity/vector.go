package similarity

import "math"

// DefaultVectorAccept 是向量分块匹配的接受阈值（严格大于）。
const DefaultVectorAccept = 0.75

// Cosine 计算两个向量的余弦相似度，取值 [-1,1]。
// 空向量、长度不一致或零范数时返回 0。
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := dot / math.Sqrt(na*nb)
	return math.Max(-1, math.Min(1, c))
}

// CompareVectorChunks 与 CompareTextChunks 使用相同的贪心对齐，vectors 与分块一一对应。
func CompareVectorChunks(source, target []Chunk, sourceVecs, targetVecs [][]float32, accept float64) Result {
	score, matches := align(source, target, accept, func(i, j int) float64 {
		return Cosine(sourceVecs[i], targetVecs[j])
	})
	return Result{Score: score, Matches: matches, Strategy: StrategyVector}
}

// Mean 返回一组等长向量的均值，作为整篇文档的向量表示。
func Mean(vectors [][]float32) []float32 {
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / float64(len(vectors)))
	}
	return out
}
