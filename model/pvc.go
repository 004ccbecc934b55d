package model

import (
	"math/rand/v2"

	"github.com/rushteam/reviewrank/config"
	"github.com/rushteam/reviewrank/pkg/nn"
)

// ParagraphVectorCorruption 是基于 corruption 的段落向量（Doc2VecC）。
//
// 核心思想：
//   - 评论向量 = 随机保留的词向量之和 × scale / 有效词数
//   - 每次调用独立重新采样保留 mask，训练时起正则作用
//   - 没有评论级参数，新评论无需训练即可编码
//
// 推理模式不丢词，scale 为 1，等价于截断后的平均词向量。
type ParagraphVectorCorruption struct {
	table        *EmbeddingTable
	noise        *NoiseDistribution
	corruptRate  float64
	scale        float64
	maxWordCount int
}

func NewParagraphVectorCorruption(table *EmbeddingTable, noise *NoiseDistribution,
	corruptRate, scale float64, maxWordCount int) *ParagraphVectorCorruption {
	if scale <= 0 {
		scale = 1 / (1 - corruptRate)
	}
	return &ParagraphVectorCorruption{
		table:        table,
		noise:        noise,
		corruptRate:  corruptRate,
		scale:        scale,
		maxWordCount: maxWordCount,
	}
}

func (p *ParagraphVectorCorruption) Name() string { return config.EncoderPVC }

// ParaVector 计算 N 条评论的 corruption 段落向量。
// 每条评论最多使用前 maxWordCount 个位置，padding 词不参与计数。
func (p *ParagraphVectorCorruption) ParaVector(rt *nn.Runtime, wordIDs [][]int) []nn.Vec {
	train := rt.Training() && p.corruptRate > 0
	keep := 1 - p.corruptRate
	scale := 1.0
	if train {
		scale = p.scale
	}
	var rng *rand.Rand
	if train {
		rng = rt.RNG()
	}

	dim := p.table.Dim()
	out := make([]nn.Vec, len(wordIDs))
	for i, row := range wordIDs {
		if p.maxWordCount > 0 && len(row) > p.maxWordCount {
			row = row[:p.maxWordCount]
		}
		var kept []nn.Vec
		valid := 0
		for _, w := range row {
			if w == p.table.WordPad {
				continue
			}
			valid++
			if train && rng.Float64() >= keep {
				continue
			}
			kept = append(kept, p.table.Words.Forward(w))
		}
		out[i] = nn.ScaleVec(nn.SumVecs(kept, dim), scale/float64(max(valid, 1)))
	}
	return out
}

func (p *ParagraphVectorCorruption) EncodeReviews(rt *nn.Runtime, in ReviewInput) []nn.Vec {
	return p.ParaVector(rt, in.WordIDs)
}

// TrainStep 用 corrupted 视图构建评论向量，并以上下文词计算负采样损失。
// corrupted 为 nil 时使用上下文词本身。
func (p *ParagraphVectorCorruption) TrainStep(rt *nn.Runtime, in ReviewInput, corrupted [][]int, negPerPos int) ([]nn.Vec, []nn.Vec) {
	if corrupted == nil {
		corrupted = in.WordIDs
	}
	reviews := p.ParaVector(rt, corrupted)
	return reviews, negativeSamplingLoss(rt, p.table, p.noise, reviews, in, negPerPos)
}

// ResetParameters 没有自有参数（词向量由 EmbeddingTable 初始化）。
func (p *ParagraphVectorCorruption) ResetParameters(*rand.Rand) {}

func (p *ParagraphVectorCorruption) Parameters() []*nn.Param { return nil }
