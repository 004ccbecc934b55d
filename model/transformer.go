package model

import (
	"fmt"
	"math/rand/v2"

	"github.com/rushteam/reviewrank/pkg/nn"
)

// TransformerScorer 对融合序列打分。
//
// 计算流程：
//
//	x = seq ⊙ mask
//	x = Layer_l(x, mask)，l = 0..L-1（第 0 层不对输入做 LayerNorm）
//	score = wo · LayerNorm(x[0]) + b
//
// 每条序列独立计算，因此把 (样本 × 候选) 展平成一批与逐条打分结果一致。
type TransformerScorer struct {
	Layers []*nn.EncoderLayer
	Norm   *nn.LayerNorm
	Wo     *nn.Linear
	dim    int
}

func NewTransformerScorer(dim, ffSize, heads, layers int, dropout float64) (*TransformerScorer, error) {
	s := &TransformerScorer{
		Norm: nn.NewLayerNorm("transformer_encoder.layer_norm", dim),
		Wo:   nn.NewLinear("transformer_encoder.wo", dim, 1, true),
		dim:  dim,
	}
	for i := 0; i < layers; i++ {
		layer, err := nn.NewEncoderLayer(fmt.Sprintf("transformer_encoder.transformer_inter.%d", i), dim, heads, ffSize, dropout)
		if err != nil {
			return nil, err
		}
		s.Layers = append(s.Layers, layer)
	}
	return s, nil
}

// Score 对一条序列打分，返回长度为 1 的 logit 节点；mask[0] 必须为 true（查询位置）。
func (s *TransformerScorer) Score(rt *nn.Runtime, seq []nn.Vec, mask []bool) nn.Vec {
	x := make([]nn.Vec, len(seq))
	for i, v := range seq {
		if mask[i] {
			x[i] = v
		} else {
			x[i] = nn.ZeroVec(s.dim)
		}
	}
	joined := nn.Concat(x...)
	for i, layer := range s.Layers {
		joined = layer.ForwardJoined(rt, joined, len(x), mask, i != 0)
	}
	return s.Wo.Forward(s.Norm.Forward(nn.Slice(joined, 0, s.dim)))
}

// ScoreBatch 对一批序列打分。
func (s *TransformerScorer) ScoreBatch(rt *nn.Runtime, seqs [][]nn.Vec, masks [][]bool) []nn.Vec {
	out := make([]nn.Vec, len(seqs))
	for i := range seqs {
		out[i] = s.Score(rt, seqs[i], masks[i])
	}
	return out
}

func (s *TransformerScorer) Reset(rng *rand.Rand) {
	for _, layer := range s.Layers {
		layer.Reset(rng)
	}
	s.Norm.Reset()
	s.Wo.Reset(rng)
}

func (s *TransformerScorer) Parameters() []*nn.Param {
	var out []*nn.Param
	for _, layer := range s.Layers {
		out = append(out, layer.Parameters()...)
	}
	return append(out, nn.Collect(s.Norm, s.Wo)...)
}
