package nn

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anynet"
)

// Vec 是计算图中的向量节点。
type Vec = anydiff.Res

// maskOffset 是 softmax 中被屏蔽位置在 exp 前的分数，exp 后为 0。
const maskOffset = -1e3

// Const 把 xs 包装为常量节点（不传播梯度）。
func Const(xs []float64) Vec {
	return anydiff.NewConst(vector(xs))
}

// ZeroVec 返回长度为 n 的零常量。
func ZeroVec(n int) Vec {
	return anydiff.NewConst(Creator.MakeVector(n))
}

func ConstSeq(xs [][]float64) []Vec {
	out := make([]Vec, len(xs))
	for i, x := range xs {
		out[i] = Const(x)
	}
	return out
}

// Values 读出节点当前输出的拷贝。
func Values(v Vec) []float64 {
	return floats(v.Output())
}

func ValuesSeq(vs []Vec) [][]float64 {
	out := make([][]float64, len(vs))
	for i, v := range vs {
		out[i] = Values(v)
	}
	return out
}

// Scalar 读出长度为 1 的节点。
func Scalar(v Vec) float64 {
	return Values(v)[0]
}

// DotVec 返回 a·b（长度 1）。
func DotVec(a, b Vec) Vec {
	return anydiff.Sum(anydiff.Mul(a, b))
}

// ScaleVec 返回 s·v。
func ScaleVec(v Vec, s float64) Vec {
	return anydiff.Scale(v, Creator.MakeNumeric(s))
}

// Repeat 把长度为 1 的 s 扩展为长度 n。
func Repeat(s Vec, n int) Vec {
	return anydiff.AddRepeated(ZeroVec(n), s)
}

// SumVecs 逐元素求和；xs 为空时返回 dim 维零向量。
func SumVecs(xs []Vec, dim int) Vec {
	if len(xs) == 0 {
		return ZeroVec(dim)
	}
	out := xs[0]
	for _, x := range xs[1:] {
		out = anydiff.Add(out, x)
	}
	return out
}

// Tanh 逐元素 tanh。
func Tanh(x Vec) Vec { return anydiff.Tanh(x) }

// GELU 使用 tanh 近似：0.5·x·(1 + tanh(sqrt(2/π)·(x + 0.044715·x³)))。
func GELU(x Vec) Vec {
	n := x.Output().Len()
	cube := anydiff.Mul(x, anydiff.Mul(x, x))
	inner := ScaleVec(anydiff.Add(x, ScaleVec(cube, 0.044715)), math.Sqrt(2/math.Pi))
	onePlus := anydiff.Add(anydiff.Tanh(inner), Const(filled(n, 1)))
	return ScaleVec(anydiff.Mul(x, onePlus), 0.5)
}

// BCE 返回 Σ_i BCEWithLogits(logits_i, targets_i)（长度 1）。
func BCE(logits Vec, targets []float64) Vec {
	return anynet.SigmoidCE{}.Cost(Const(targets), logits, 1)
}

// MaskedSoftmax 对 mask 为 true 的位置做 softmax，其余位置权重为 0 且不回传梯度。
// 全部屏蔽时退化为均匀分布，不会产生 NaN。mask 为 nil 表示全部有效。
func MaskedSoftmax(scores Vec, mask []bool) Vec {
	raw := Values(scores)
	n := len(raw)
	if n == 0 {
		return scores
	}
	keep := make([]float64, n)
	best := math.Inf(-1)
	for i, s := range raw {
		if mask == nil || mask[i] {
			keep[i] = 1
			best = math.Max(best, s)
		}
	}
	if math.IsInf(best, -1) {
		return Const(filled(n, 1/float64(n)))
	}
	offset := make([]float64, n)
	for i := range offset {
		offset[i] = maskOffset
		if keep[i] == 1 {
			offset[i] = -best
		}
	}
	keepVec := Const(keep)
	shifted := anydiff.Add(anydiff.Mul(scores, keepVec), Const(offset))
	exps := anydiff.Mul(anydiff.Exp(shifted), keepVec)
	inv := anydiff.Pow(anydiff.Sum(exps), Creator.MakeNumeric(-1))
	return anydiff.Mul(exps, Repeat(inv, n))
}

// WeightedSum 返回 Σ_j w_j·xs_j；w 的长度等于 len(xs)。
func WeightedSum(w Vec, xs []Vec) Vec {
	dim := xs[0].Output().Len()
	wm := &anydiff.Matrix{Data: w, Rows: 1, Cols: len(xs)}
	xm := &anydiff.Matrix{Data: anydiff.Concat(xs...), Rows: len(xs), Cols: dim}
	return anydiff.MatMul(false, false, wm, xm).Data
}

// Dropout 在训练模式下以概率 p 置零并按 1/(1-p) 放大保留值；
// 推理模式或 p == 0 时原样返回 x。
func Dropout(rt *Runtime, x Vec, p float64) Vec {
	if !rt.Training() || p <= 0 {
		return x
	}
	rng := rt.RNG()
	n := x.Output().Len()
	mask := make([]float64, n)
	keep := 1 - p
	for i := range mask {
		if rng.Float64() < keep {
			mask[i] = 1 / keep
		}
	}
	return anydiff.Mul(x, Const(mask))
}

// DropoutSeq 对序列的每一行做 Dropout。
func DropoutSeq(rt *Runtime, xs []Vec, p float64) []Vec {
	if !rt.Training() || p <= 0 {
		return xs
	}
	out := make([]Vec, len(xs))
	for i, x := range xs {
		out[i] = Dropout(rt, x, p)
	}
	return out
}

// MaskedMean 返回 mask 为 true 的行的均值；没有有效行时返回零向量。
func MaskedMean(xs []Vec, mask []bool, dim int) Vec {
	var kept []Vec
	for i, x := range xs {
		if mask[i] {
			kept = append(kept, x)
		}
	}
	if len(kept) == 0 {
		return ZeroVec(dim)
	}
	return ScaleVec(SumVecs(kept, dim), 1/float64(len(kept)))
}

// Pool 让 f 多次使用 x 时，反向传播只经过 x 一次。
func Pool(x Vec, f func(Vec) Vec) Vec { return anydiff.Pool(x, f) }

// poolAll 依次 Pool 每个节点后调用 f。
func poolAll(xs []Vec, f func([]Vec) Vec) Vec {
	pooled := make([]Vec, len(xs))
	var next func(i int) Vec
	next = func(i int) Vec {
		if i == len(xs) {
			return f(pooled)
		}
		return anydiff.Pool(xs[i], func(p Vec) Vec {
			pooled[i] = p
			return next(i + 1)
		})
	}
	return next(0)
}

// Concat 拼接为一个向量。
func Concat(xs ...Vec) Vec { return anydiff.Concat(xs...) }

// Slice 取 v[start:end]。
func Slice(v Vec, start, end int) Vec { return anydiff.Slice(v, start, end) }

// Add 与 Sub 是逐元素加减。
func Add(a, b Vec) Vec { return anydiff.Add(a, b) }
func Sub(a, b Vec) Vec { return anydiff.Sub(a, b) }

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
