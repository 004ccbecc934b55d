// Package nn 提供排序模型所需的可微计算单元：参数、嵌入、线性层、LayerNorm、
// 多头注意力与 Transformer 编码层。
//
// 计算图基于 anydiff：前向返回 Vec 节点，损失节点调用 Backward 后，
// 每个可训练参数的梯度写入 Param.Grad，再由优化器（SGD、Adam）更新。
package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

// Creator 是全部向量使用的 float64 后端。
var Creator anyvec.Creator = anyvec64.DefaultCreator{}

// Tensor 是参数的可序列化快照（checkpoint 使用）。
type Tensor struct {
	Shape []int
	Data  []float64
}

// Param 是一个具名、行主序存储的可微参数。
// Frozen 为 true 时不参与求导，优化器也不会更新它。
type Param struct {
	Name   string
	Shape  []int
	Var    *anydiff.Var
	Grad   []float64
	Frozen bool
}

// Module 是持有参数的组件。
type Module interface {
	Parameters() []*Param
}

// NewParam 创建一个全零参数。
func NewParam(name string, shape ...int) *Param {
	size := 1
	for _, s := range shape {
		size *= s
	}
	return &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Var:   anydiff.NewVar(Creator.MakeVector(size)),
	}
}

func (p *Param) Size() int { return p.Var.Vector.Len() }

// Cols 返回最后一维大小。
func (p *Param) Cols() int {
	if len(p.Shape) == 0 {
		return 1
	}
	return p.Shape[len(p.Shape)-1]
}

// Rows 返回除最后一维外的元素数。
func (p *Param) Rows() int {
	cols := p.Cols()
	if cols == 0 {
		return 0
	}
	return p.Size() / cols
}

// Values 返回参数值的拷贝。
func (p *Param) Values() []float64 {
	return floats(p.Var.Vector)
}

// SetValues 覆盖参数值，长度必须与参数一致。
func (p *Param) SetValues(xs []float64) {
	if len(xs) != p.Size() {
		panic(fmt.Sprintf("param %s: set %d values, want %d", p.Name, len(xs), p.Size()))
	}
	p.Var.Vector.SetData(Creator.MakeNumericList(xs))
}

// RowValues 返回第 i 行的拷贝。
func (p *Param) RowValues(i int) []float64 {
	cols := p.Cols()
	return floats(p.Var.Vector.Slice(i*cols, (i+1)*cols))
}

// SetRow 覆盖第 i 行。
func (p *Param) SetRow(i int, row []float64) {
	cols := p.Cols()
	p.Var.Vector.Slice(i*cols, (i+1)*cols).Set(vector(row))
}

// ZeroRow 把第 i 行清零，用于 padding 行。
func (p *Param) ZeroRow(i int) {
	cols := p.Cols()
	p.Var.Vector.Slice(i*cols, (i+1)*cols).Scale(Creator.MakeNumeric(0))
}

func (p *Param) Fill(v float64) {
	xs := make([]float64, p.Size())
	for i := range xs {
		xs[i] = v
	}
	p.SetValues(xs)
}

// Normal 用 N(mean, std^2) 初始化。
func (p *Param) Normal(rng *rand.Rand, mean, std float64) {
	xs := make([]float64, p.Size())
	for i := range xs {
		xs[i] = mean + std*rng.NormFloat64()
	}
	p.SetValues(xs)
}

// XavierUniform 用 U(-a, a), a = sqrt(6/(fanIn+fanOut)) 初始化二维参数。
func (p *Param) XavierUniform(rng *rand.Rand) {
	fanOut, fanIn := p.Rows(), p.Cols()
	if fanIn+fanOut == 0 {
		return
	}
	a := math.Sqrt(6.0 / float64(fanIn+fanOut))
	xs := make([]float64, p.Size())
	for i := range xs {
		xs[i] = (rng.Float64()*2 - 1) * a
	}
	p.SetValues(xs)
}

// Tensor 返回参数的深拷贝快照。
func (p *Param) Tensor() Tensor {
	return Tensor{
		Shape: append([]int(nil), p.Shape...),
		Data:  p.Values(),
	}
}

// Check 校验快照形状，不修改参数。
func (p *Param) Check(t Tensor) error {
	if !sameShape(p.Shape, t.Shape) || len(t.Data) != p.Size() {
		return fmt.Errorf("param %s: shape %v, got %v", p.Name, p.Shape, t.Shape)
	}
	return nil
}

// Load 从快照恢复数据，形状必须一致。
func (p *Param) Load(t Tensor) error {
	if err := p.Check(t); err != nil {
		return err
	}
	p.SetValues(t.Data)
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Collect 依次收集多个 Module 的参数，nil 会被跳过。
func Collect(mods ...Module) []*Param {
	var out []*Param
	for _, m := range mods {
		if m == nil {
			continue
		}
		out = append(out, m.Parameters()...)
	}
	return out
}

// ZeroGrad 清空梯度。
func ZeroGrad(params []*Param) {
	for _, p := range params {
		p.Grad = nil
	}
}

// Backward 从标量损失节点反向传播，把梯度写入未冻结参数的 Grad。
// 没有出现在计算图中的参数梯度为全零。
func Backward(loss Vec, params []*Param) {
	var vars []*anydiff.Var
	for _, p := range params {
		p.Grad = nil
		if !p.Frozen {
			vars = append(vars, p.Var)
		}
	}
	if len(vars) == 0 {
		return
	}
	grad := anydiff.NewGrad(vars...)
	upstream := Creator.MakeVector(loss.Output().Len())
	upstream.AddScalar(Creator.MakeNumeric(1))
	loss.Propagate(upstream, grad)
	for _, p := range params {
		if g, ok := grad[p.Var]; ok {
			p.Grad = floats(g)
		}
	}
}

// ClipGradNorm 把全部梯度的 L2 范数裁剪到 maxNorm 以内，返回裁剪前的范数。
func ClipGradNorm(params []*Param, maxNorm float64) float64 {
	total := 0.0
	for _, p := range params {
		total += Dot(p.Grad, p.Grad)
	}
	norm := math.Sqrt(total)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}
	scale := maxNorm / norm
	for _, p := range params {
		ScaleInPlace(p.Grad, scale)
	}
	return norm
}

func floats(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float64:
		return append([]float64(nil), data...)
	case []float32:
		out := make([]float64, len(data))
		for i, x := range data {
			out[i] = float64(x)
		}
		return out
	default:
		panic(fmt.Sprintf("nn: unsupported vector data %T", data))
	}
}

func vector(xs []float64) anyvec.Vector {
	return Creator.MakeVectorData(Creator.MakeNumericList(xs))
}
