package model

import (
	"math/rand/v2"

	"github.com/rushteam/reviewrank/pkg/nn"
)

// AVGEncoder 对有效词向量取平均。全 padding 时返回零向量。
type AVGEncoder struct {
	Dim     int
	Dropout float64
}

func NewAVGEncoder(dim int, dropout float64) *AVGEncoder {
	return &AVGEncoder{Dim: dim, Dropout: dropout}
}

func (e *AVGEncoder) Encode(rt *nn.Runtime, wordEmb [][]nn.Vec, mask [][]bool) []nn.Vec {
	out := make([]nn.Vec, len(wordEmb))
	for i, words := range wordEmb {
		out[i] = nn.Dropout(rt, nn.MaskedMean(words, mask[i], e.Dim), e.Dropout)
	}
	return out
}

func (e *AVGEncoder) Reset(*rand.Rand) {}

func (e *AVGEncoder) Parameters() []*nn.Param { return nil }

// FSEncoder 是单层 Transformer 加 attention pooling 的序列编码器。
//
//	h = EncoderLayer(x, mask)
//	a = softmax_mask(v · tanh(W h_j))
//	out = dropout(Σ a_j h_j)
//
// 全 padding 的序列直接返回零向量。
type FSEncoder struct {
	Layer   *nn.EncoderLayer
	Proj    *nn.Linear
	Context *nn.Param
	Dropout float64
	dim     int
}

func NewFSEncoder(prefix string, dim, ffSize, heads int, dropout float64) (*FSEncoder, error) {
	layer, err := nn.NewEncoderLayer(prefix+".transformer", dim, heads, ffSize, dropout)
	if err != nil {
		return nil, err
	}
	return &FSEncoder{
		Layer:   layer,
		Proj:    nn.NewLinear(prefix+".attn_proj", dim, dim, true),
		Context: nn.NewParam(prefix+".attn_context", dim),
		Dropout: dropout,
		dim:     dim,
	}, nil
}

func (e *FSEncoder) Encode(rt *nn.Runtime, wordEmb [][]nn.Vec, mask [][]bool) []nn.Vec {
	out := make([]nn.Vec, len(wordEmb))
	for i, words := range wordEmb {
		if !anyTrue(mask[i]) {
			out[i] = nn.ZeroVec(e.dim)
			continue
		}
		n := len(words)
		joined := e.Layer.ForwardJoined(rt, nn.Concat(words...), n, mask[i], false)
		pooled := nn.Pool(joined, func(joined nn.Vec) nn.Vec {
			hidden := nn.SplitRows(joined, n, e.dim)
			proj := e.Proj.ForwardSeq(hidden)
			scores := make([]nn.Vec, n)
			for j := range hidden {
				scores[j] = nn.DotVec(e.Context.Var, nn.Tanh(proj[j]))
			}
			weights := nn.MaskedSoftmax(nn.Concat(scores...), mask[i])
			return nn.WeightedSum(weights, hidden)
		})
		out[i] = nn.Dropout(rt, pooled, e.Dropout)
	}
	return out
}

func (e *FSEncoder) Reset(rng *rand.Rand) {
	e.Layer.Reset(rng)
	e.Proj.Reset(rng)
	e.Context.Normal(rng, 0, 0.1)
}

func (e *FSEncoder) Parameters() []*nn.Param {
	return append(nn.Collect(e.Layer, e.Proj), e.Context)
}

func anyTrue(mask []bool) bool {
	for _, m := range mask {
		if m {
			return true
		}
	}
	return false
}
