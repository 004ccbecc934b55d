package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/unixpickle/anydiff"
)

// MultiHeadAttention 是缩放点积多头自注意力。
// mask[j] 为 false 的位置不会被任何位置关注。
type MultiHeadAttention struct {
	Heads   int
	Dim     int
	HeadDim int
	Dropout float64

	Query *Linear
	Key   *Linear
	Value *Linear
	Out   *Linear
}

func NewMultiHeadAttention(name string, heads, dim int, dropout float64) (*MultiHeadAttention, error) {
	if heads <= 0 || dim%heads != 0 {
		return nil, fmt.Errorf("attention %s: dim %d not divisible by heads %d", name, dim, heads)
	}
	return &MultiHeadAttention{
		Heads:   heads,
		Dim:     dim,
		HeadDim: dim / heads,
		Dropout: dropout,
		Query:   NewLinear(name+".linear_query", dim, dim, true),
		Key:     NewLinear(name+".linear_keys", dim, dim, true),
		Value:   NewLinear(name+".linear_values", dim, dim, true),
		Out:     NewLinear(name+".final_linear", dim, dim, true),
	}, nil
}

func (a *MultiHeadAttention) Forward(rt *Runtime, x []Vec, mask []bool) []Vec {
	return SplitRows(a.ForwardJoined(rt, anydiff.Concat(x...), len(x), mask), len(x), a.Dim)
}

// ForwardJoined 的输入输出都是行主序的 n × dim 矩阵。
// q、k、v 与每个头的中间结果都经过 Pool，反向传播时每个节点只回传一次。
func (a *MultiHeadAttention) ForwardJoined(rt *Runtime, x Vec, n int, mask []bool) Vec {
	return anydiff.Pool(x, func(x Vec) Vec {
		qkv := []Vec{
			a.Query.ForwardMatrix(x, n),
			a.Key.ForwardMatrix(x, n),
			a.Value.ForwardMatrix(x, n),
		}
		context := poolAll(qkv, func(qkv []Vec) Vec {
			return a.attend(rt, qkv[0], qkv[1], qkv[2], n, mask)
		})
		return a.Out.ForwardMatrix(context, n)
	})
}

func (a *MultiHeadAttention) attend(rt *Runtime, q, k, v Vec, n int, mask []bool) Vec {
	qRows, kRows, vRows := SplitRows(q, n, a.Dim), SplitRows(k, n, a.Dim), SplitRows(v, n, a.Dim)
	scale := 1 / math.Sqrt(float64(a.HeadDim))

	heads := make([]Vec, a.Heads)
	for h := 0; h < a.Heads; h++ {
		lo, hi := h*a.HeadDim, (h+1)*a.HeadDim
		qh := headMatrix(qRows, lo, hi)
		kh := headMatrix(kRows, lo, hi)
		vh := headMatrix(vRows, lo, hi)

		scores := ScaleVec(anydiff.MatMul(false, true, qh, kh).Data, scale)
		probs := anydiff.Pool(scores, func(scores Vec) Vec {
			weights := make([]Vec, n)
			for i, row := range SplitRows(scores, n, n) {
				weights[i] = Dropout(rt, MaskedSoftmax(row, mask), a.Dropout)
			}
			return anydiff.Concat(weights...)
		})
		wm := &anydiff.Matrix{Data: probs, Rows: n, Cols: n}
		heads[h] = anydiff.MatMul(false, false, wm, vh).Data
	}

	return poolAll(heads, func(heads []Vec) Vec {
		rows := make([]Vec, 0, n*a.Heads)
		for i := 0; i < n; i++ {
			for _, head := range heads {
				rows = append(rows, anydiff.Slice(head, i*a.HeadDim, (i+1)*a.HeadDim))
			}
		}
		return anydiff.Concat(rows...)
	})
}

// headMatrix 取每行 [lo, hi) 列拼成 n × headDim 矩阵。
func headMatrix(rows []Vec, lo, hi int) *anydiff.Matrix {
	parts := make([]Vec, len(rows))
	for i, r := range rows {
		parts[i] = anydiff.Slice(r, lo, hi)
	}
	return &anydiff.Matrix{Data: anydiff.Concat(parts...), Rows: len(rows), Cols: hi - lo}
}

func (a *MultiHeadAttention) Reset(rng *rand.Rand) {
	a.Query.Reset(rng)
	a.Key.Reset(rng)
	a.Value.Reset(rng)
	a.Out.Reset(rng)
}

func (a *MultiHeadAttention) Parameters() []*Param {
	return Collect(a.Query, a.Key, a.Value, a.Out)
}

// FeedForward 是带残差的两层前馈：x + W2(dropout(gelu(W1(LN(x)))))。
type FeedForward struct {
	Norm    *LayerNorm
	W1      *Linear
	W2      *Linear
	Dropout float64
}

func NewFeedForward(name string, dim, ffSize int, dropout float64) *FeedForward {
	return &FeedForward{
		Norm:    NewLayerNorm(name+".layer_norm", dim),
		W1:      NewLinear(name+".w_1", dim, ffSize, true),
		W2:      NewLinear(name+".w_2", ffSize, dim, true),
		Dropout: dropout,
	}
}

func (f *FeedForward) Forward(rt *Runtime, x Vec) Vec {
	inter := Dropout(rt, GELU(f.W1.Forward(f.Norm.Forward(x))), f.Dropout)
	out := Dropout(rt, f.W2.Forward(inter), f.Dropout)
	return anydiff.Add(out, x)
}

func (f *FeedForward) Reset(rng *rand.Rand) {
	f.Norm.Reset()
	f.W1.Reset(rng)
	f.W2.Reset(rng)
}

func (f *FeedForward) Parameters() []*Param {
	return Collect(f.Norm, f.W1, f.W2)
}

// EncoderLayer 是 pre-norm Transformer 编码层。
// 第一层的输入不做 LayerNorm（输入已经是嵌入之和）。
type EncoderLayer struct {
	Attn    *MultiHeadAttention
	FF      *FeedForward
	Norm    *LayerNorm
	Dropout float64
}

func NewEncoderLayer(name string, dim, heads, ffSize int, dropout float64) (*EncoderLayer, error) {
	attn, err := NewMultiHeadAttention(name+".self_attn", heads, dim, dropout)
	if err != nil {
		return nil, err
	}
	return &EncoderLayer{
		Attn:    attn,
		FF:      NewFeedForward(name+".feed_forward", dim, ffSize, dropout),
		Norm:    NewLayerNorm(name+".layer_norm", dim),
		Dropout: dropout,
	}, nil
}

// Forward 计算一层编码，normInput 为 false 时跳过输入 LayerNorm。
func (l *EncoderLayer) Forward(rt *Runtime, x []Vec, mask []bool, normInput bool) []Vec {
	dim := l.Attn.Dim
	return SplitRows(l.ForwardJoined(rt, anydiff.Concat(x...), len(x), mask, normInput), len(x), dim)
}

// ForwardJoined 与 Forward 相同，但输入输出是 n × dim 矩阵；多层堆叠时用它串联，
// 层与层之间只有一个节点，反向传播的代价随层数线性增长。
func (l *EncoderLayer) ForwardJoined(rt *Runtime, x Vec, n int, mask []bool, normInput bool) Vec {
	dim := l.Attn.Dim
	return anydiff.Pool(x, func(x Vec) Vec {
		rows := SplitRows(x, n, dim)
		in := x
		if normInput {
			in = anydiff.Concat(l.Norm.ForwardSeq(rows)...)
		}
		context := l.Attn.ForwardJoined(rt, in, n, mask)
		return anydiff.Pool(context, func(context Vec) Vec {
			ctxRows := SplitRows(context, n, dim)
			out := make([]Vec, n)
			for i := range out {
				out[i] = l.FF.Forward(rt, anydiff.Add(Dropout(rt, ctxRows[i], l.Dropout), rows[i]))
			}
			return anydiff.Concat(out...)
		})
	})
}

func (l *EncoderLayer) Reset(rng *rand.Rand) {
	l.Attn.Reset(rng)
	l.FF.Reset(rng)
	l.Norm.Reset()
}

func (l *EncoderLayer) Parameters() []*Param {
	return Collect(l.Attn, l.FF, l.Norm)
}
