package model

import (
	"math/rand/v2"

	"github.com/rushteam/reviewrank/pkg/nn"
)

// EmbeddingTable 持有词向量与段类型向量，被查询编码器、评论编码器与融合层共享。
//
// 约定：
//   - 词表最后一个 id（VocabSize-1）是 padding，对应行恒为零
//   - 段类型共 4 种，SegPad 行恒为零
type EmbeddingTable struct {
	Words    *nn.Embedding
	Segments *nn.Embedding
	WordPad  int
}

func NewEmbeddingTable(vocabSize, dim int) *EmbeddingTable {
	return &EmbeddingTable{
		Words:    nn.NewEmbedding("word_embeddings", vocabSize, dim, vocabSize-1),
		Segments: nn.NewEmbedding("seg_embeddings", segCount, dim, SegPad),
		WordPad:  vocabSize - 1,
	}
}

func (t *EmbeddingTable) Dim() int { return t.Words.Dim() }

// Reset 初始化段向量；resetWords 为 false 时保留（预训练的）词向量。
func (t *EmbeddingTable) Reset(rng *rand.Rand, resetWords bool) {
	if resetWords {
		t.Words.Reset(rng)
	}
	t.Segments.Reset(rng)
}

// Freeze 冻结词向量。
func (t *EmbeddingTable) Freeze() {
	t.Words.Weight.Frozen = true
}

// LookupWords 查找 N × W 个词向量节点。
func (t *EmbeddingTable) LookupWords(ids [][]int) [][]nn.Vec {
	out := make([][]nn.Vec, len(ids))
	for i, row := range ids {
		out[i] = t.Words.ForwardSeq(row)
	}
	return out
}

// WordMask 返回 id != padding 的 mask。
func (t *EmbeddingTable) WordMask(ids [][]int) [][]bool {
	out := make([][]bool, len(ids))
	for i, row := range ids {
		out[i] = make([]bool, len(row))
		for j, id := range row {
			out[i][j] = id != t.WordPad
		}
	}
	return out
}

// Segment 返回段类型向量的拷贝。
func (t *EmbeddingTable) Segment(id int) []float64 {
	return t.Segments.Lookup(id)
}

// ZeroPads 把词向量与段向量的 padding 行重新置零（参数更新后调用）。
func (t *EmbeddingTable) ZeroPads() {
	t.Words.ZeroPad()
	t.Segments.ZeroPad()
}

func (t *EmbeddingTable) Parameters() []*nn.Param {
	return nn.Collect(t.Words, t.Segments)
}
