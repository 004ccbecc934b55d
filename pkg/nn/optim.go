package nn

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math"
)

// SGD 是朴素随机梯度下降：θ -= lr·g。
type SGD struct {
	LR float64
}

func NewSGD(lr float64) *SGD { return &SGD{LR: lr} }

func (o *SGD) Method() string { return "sgd" }
func (o *SGD) StateSize() int { return 0 }

// Step 用 Param.Grad 更新参数；冻结或没有梯度的参数被跳过。
func (o *SGD) Step(ctx context.Context, params []*Param, _ float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, p := range params {
		if p.Frozen || p.Grad == nil {
			continue
		}
		vals := p.Values()
		for i, g := range p.Grad {
			vals[i] -= o.LR * g
		}
		p.SetValues(vals)
	}
	return nil
}

// Adam 带偏差修正的 Adam。状态按参数名保存，可以随 checkpoint 序列化。
type Adam struct {
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64

	state adamState
}

type adamState struct {
	T int
	M map[string][]float64
	V map[string][]float64
}

func NewAdam(lr, beta1, beta2 float64) *Adam {
	return &Adam{
		LR:    lr,
		Beta1: beta1,
		Beta2: beta2,
		Eps:   1e-8,
		state: adamState{M: map[string][]float64{}, V: map[string][]float64{}},
	}
}

func (o *Adam) Method() string { return "adam" }

// StateSize 返回持有矩估计的参数个数。
func (o *Adam) StateSize() int { return len(o.state.M) }

// Steps 返回已执行的更新次数。
func (o *Adam) Steps() int { return o.state.T }

func (o *Adam) Step(ctx context.Context, params []*Param, _ float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.state.T++
	c1 := 1 - math.Pow(o.Beta1, float64(o.state.T))
	c2 := 1 - math.Pow(o.Beta2, float64(o.state.T))
	for _, p := range params {
		if p.Frozen || p.Grad == nil {
			continue
		}
		m, v := o.state.M[p.Name], o.state.V[p.Name]
		if m == nil {
			m, v = make([]float64, p.Size()), make([]float64, p.Size())
		}
		if len(m) != p.Size() {
			return fmt.Errorf("adam: state of %s has %d entries, param has %d", p.Name, len(m), p.Size())
		}
		vals := p.Values()
		for i, g := range p.Grad {
			m[i] = o.Beta1*m[i] + (1-o.Beta1)*g
			v[i] = o.Beta2*v[i] + (1-o.Beta2)*g*g
			vals[i] -= o.LR * (m[i] / c1) / (math.Sqrt(v[i]/c2) + o.Eps)
		}
		p.SetValues(vals)
		o.state.M[p.Name], o.state.V[p.Name] = m, v
	}
	return nil
}

// MarshalBinary 以 gob 编码优化器状态。
func (o *Adam) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(o.state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary 恢复 MarshalBinary 的输出。
func (o *Adam) UnmarshalBinary(data []byte) error {
	var st adamState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return fmt.Errorf("adam: decode state: %w", err)
	}
	if st.M == nil {
		st.M = map[string][]float64{}
	}
	if st.V == nil {
		st.V = map[string][]float64{}
	}
	o.state = st
	return nil
}
