package nn

import (
	"fmt"
	"math/rand/v2"

	"github.com/unixpickle/anydiff"
)

// Embedding 是 id -> 向量的查找表；PadIdx >= 0 时该行恒为零向量。
type Embedding struct {
	Weight *Param
	PadIdx int
}

// NewEmbedding 创建 num × dim 的嵌入表，padIdx < 0 表示没有 padding 行。
func NewEmbedding(name string, num, dim, padIdx int) *Embedding {
	return &Embedding{
		Weight: NewParam(name+".weight", num, dim),
		PadIdx: padIdx,
	}
}

func (e *Embedding) Num() int { return e.Weight.Shape[0] }
func (e *Embedding) Dim() int { return e.Weight.Shape[1] }

// Lookup 返回 id 对应行的拷贝。
func (e *Embedding) Lookup(id int) []float64 {
	return e.Weight.RowValues(id)
}

// Forward 返回 id 对应行的图节点。padding 行是零常量，梯度不会流入该行。
func (e *Embedding) Forward(id int) Vec {
	if id == e.PadIdx {
		return ZeroVec(e.Dim())
	}
	d := e.Dim()
	return anydiff.Slice(e.Weight.Var, id*d, (id+1)*d)
}

// ForwardSeq 返回一组 id 的图节点。
func (e *Embedding) ForwardSeq(ids []int) []Vec {
	out := make([]Vec, len(ids))
	for i, id := range ids {
		out[i] = e.Forward(id)
	}
	return out
}

// Reset 用 N(0,1) 初始化并清零 padding 行。
func (e *Embedding) Reset(rng *rand.Rand) {
	e.Weight.Normal(rng, 0, 1)
	e.ZeroPad()
}

func (e *Embedding) ZeroPad() {
	if e.PadIdx >= 0 && e.PadIdx < e.Num() {
		e.Weight.ZeroRow(e.PadIdx)
	}
}

// LoadPretrained 用外部表覆盖权重。
// 外部表行数可以比嵌入表少一行（缺少 padding 行），此时 padding 行保持为零。
func (e *Embedding) LoadPretrained(rows [][]float64) error {
	if len(rows) != e.Num() && len(rows) != e.Num()-1 {
		return fmt.Errorf("embedding %s: pretrained rows %d, want %d", e.Weight.Name, len(rows), e.Num())
	}
	for i, row := range rows {
		if len(row) != e.Dim() {
			return fmt.Errorf("embedding %s: pretrained row %d has dim %d, want %d", e.Weight.Name, i, len(row), e.Dim())
		}
	}
	for i, row := range rows {
		e.Weight.SetRow(i, row)
	}
	if len(rows) == e.Num()-1 {
		e.Weight.ZeroRow(e.Num() - 1)
	}
	return nil
}

func (e *Embedding) Parameters() []*Param { return []*Param{e.Weight} }

// Linear 是全连接层 y = Wx + b，W 形状为 out × in。
type Linear struct {
	Weight *Param
	Bias   *Param
	In     int
	Out    int
}

func NewLinear(name string, in, out int, bias bool) *Linear {
	l := &Linear{
		Weight: NewParam(name+".weight", out, in),
		In:     in,
		Out:    out,
	}
	if bias {
		l.Bias = NewParam(name+".bias", out)
	}
	return l
}

func (l *Linear) weights() *anydiff.Matrix {
	return &anydiff.Matrix{Data: l.Weight.Var, Rows: l.Out, Cols: l.In}
}

func (l *Linear) Forward(x Vec) Vec {
	in := &anydiff.Matrix{Data: x, Rows: 1, Cols: l.In}
	out := anydiff.MatMul(false, true, in, l.weights()).Data
	if l.Bias != nil {
		out = anydiff.Add(out, l.Bias.Var)
	}
	return out
}

// ForwardSeq 把整个序列作为一个 n × in 矩阵计算，再按行拆开。
func (l *Linear) ForwardSeq(xs []Vec) []Vec {
	if len(xs) == 0 {
		return nil
	}
	return SplitRows(l.ForwardMatrix(anydiff.Concat(xs...), len(xs)), len(xs), l.Out)
}

// ForwardMatrix 对行主序的 rows × in 矩阵计算，返回 rows × out 矩阵。
func (l *Linear) ForwardMatrix(x Vec, rows int) Vec {
	in := &anydiff.Matrix{Data: x, Rows: rows, Cols: l.In}
	out := anydiff.MatMul(false, true, in, l.weights()).Data
	if l.Bias != nil {
		out = anydiff.AddRepeated(out, l.Bias.Var)
	}
	return out
}

// Reset 使用 Xavier 初始化权重，偏置置零。
func (l *Linear) Reset(rng *rand.Rand) {
	l.Weight.XavierUniform(rng)
	if l.Bias != nil {
		l.Bias.Fill(0)
	}
}

func (l *Linear) Parameters() []*Param {
	if l.Bias == nil {
		return []*Param{l.Weight}
	}
	return []*Param{l.Weight, l.Bias}
}

// LayerNorm 按最后一维做归一化。
type LayerNorm struct {
	Gamma *Param
	Beta  *Param
	Eps   float64
}

func NewLayerNorm(name string, dim int) *LayerNorm {
	ln := &LayerNorm{
		Gamma: NewParam(name+".weight", dim),
		Beta:  NewParam(name+".bias", dim),
		Eps:   1e-6,
	}
	ln.Reset()
	return ln
}

func (ln *LayerNorm) Reset() {
	ln.Gamma.Fill(1)
	ln.Beta.Fill(0)
}

func (ln *LayerNorm) Forward(x Vec) Vec {
	n := x.Output().Len()
	mean := ScaleVec(anydiff.Sum(x), 1/float64(n))
	centered := anydiff.Sub(x, Repeat(mean, n))
	variance := ScaleVec(anydiff.Sum(anydiff.Mul(centered, centered)), 1/float64(n))
	inv := anydiff.Pow(anydiff.Add(variance, Const([]float64{ln.Eps})), Creator.MakeNumeric(-0.5))
	normed := anydiff.Mul(centered, Repeat(inv, n))
	return anydiff.Add(anydiff.Mul(normed, ln.Gamma.Var), ln.Beta.Var)
}

func (ln *LayerNorm) ForwardSeq(xs []Vec) []Vec {
	out := make([]Vec, len(xs))
	for i, x := range xs {
		out[i] = ln.Forward(x)
	}
	return out
}

func (ln *LayerNorm) Parameters() []*Param { return []*Param{ln.Gamma, ln.Beta} }

// SplitRows 把 rows × cols 的行主序向量拆成 rows 个节点。
func SplitRows(v Vec, rows, cols int) []Vec {
	out := make([]Vec, rows)
	for i := range out {
		out[i] = anydiff.Slice(v, i*cols, (i+1)*cols)
	}
	return out
}
