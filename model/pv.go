package model

import (
	"math/rand/v2"

	"github.com/rushteam/reviewrank/config"
	"github.com/rushteam/reviewrank/pkg/nn"
)

// ParagraphVector 是无 corruption 的段落向量：每条评论一行可学习向量。
//
// 核心思想：
//   - 评论向量与其包含的词做负采样对比学习（类似 doc2vec PV-DBOW）
//   - 推理时只是查表，不依赖评论文本
//
// 冻结模式（fix_emb）下向量来自预训练文件，只作为查找表使用。
type ParagraphVector struct {
	Reviews *nn.Embedding
	table   *EmbeddingTable
	noise   *NoiseDistribution
	frozen  bool
}

// NewParagraphVector 创建 reviewCount × d 的评论向量表（最后一行为 padding）。
func NewParagraphVector(table *EmbeddingTable, noise *NoiseDistribution, reviewCount int, frozen bool) *ParagraphVector {
	pv := &ParagraphVector{
		Reviews: nn.NewEmbedding("review_encoder.review_embeddings", reviewCount, table.Dim(), reviewCount-1),
		table:   table,
		noise:   noise,
		frozen:  frozen,
	}
	pv.Reviews.Weight.Frozen = frozen
	return pv
}

func (pv *ParagraphVector) Name() string { return config.EncoderPV }

// Frozen 表示评论向量不再被训练。
func (pv *ParagraphVector) Frozen() bool { return pv.frozen }

// Embed 查找评论向量节点；冻结时是常量，不回传梯度。
func (pv *ParagraphVector) Embed(ids []int) []nn.Vec {
	if pv.frozen {
		out := make([]nn.Vec, len(ids))
		for i, id := range ids {
			out[i] = nn.Const(pv.Reviews.Lookup(id))
		}
		return out
	}
	return pv.Reviews.ForwardSeq(ids)
}

func (pv *ParagraphVector) EncodeReviews(_ *nn.Runtime, in ReviewInput) []nn.Vec {
	return pv.Embed(in.IDs)
}

// TrainStep 返回查表得到的评论向量及其负采样损失；冻结时损失为 nil。
func (pv *ParagraphVector) TrainStep(rt *nn.Runtime, in ReviewInput, _ [][]int, negPerPos int) ([]nn.Vec, []nn.Vec) {
	reviews := pv.Embed(in.IDs)
	if pv.frozen {
		return reviews, nil
	}
	return reviews, negativeSamplingLoss(rt, pv.table, pv.noise, reviews, in, negPerPos)
}

// ResetParameters 随机初始化评论向量；预训练已加载时不要调用。
func (pv *ParagraphVector) ResetParameters(rng *rand.Rand) {
	pv.Reviews.Reset(rng)
}

// LoadPretrained 载入预训练评论向量（doc_emb），行数为 reviewCount 或 reviewCount-1。
func (pv *ParagraphVector) LoadPretrained(rows [][]float64) error {
	return pv.Reviews.LoadPretrained(rows)
}

func (pv *ParagraphVector) Parameters() []*nn.Param {
	return pv.Reviews.Parameters()
}
