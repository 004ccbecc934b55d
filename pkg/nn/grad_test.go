package nn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// numericGrad 用中心差分估计 loss 对 p 的梯度。
func numericGrad(p *Param, loss func() float64) []float64 {
	const h = 1e-5
	vals := p.Values()
	out := make([]float64, len(vals))
	for i := range vals {
		orig := vals[i]
		vals[i] = orig + h
		p.SetValues(vals)
		up := loss()
		vals[i] = orig - h
		p.SetValues(vals)
		down := loss()
		vals[i] = orig
		p.SetValues(vals)
		out[i] = (up - down) / (2 * h)
	}
	return out
}

func TestBackwardMatchesFiniteDifference(t *testing.T) {
	layer, err := NewEncoderLayer("layer", 4, 2, 6, 0)
	require.NoError(t, err)
	layer.Reset(NewRand(8))
	wo := NewLinear("wo", 4, 1, true)
	wo.Reset(NewRand(9))
	params := Collect(layer, wo)

	inputs := [][]float64{{0.5, -1, 0.25, 2}, {1, 0, -0.5, 0.3}, {3, 3, 3, 3}}
	mask := []bool{true, true, false}
	build := func() Vec {
		out := layer.Forward(NewRuntime(false, 0), ConstSeq(inputs), mask, true)
		return BCE(wo.Forward(out[0]), []float64{1})
	}

	Backward(build(), params)
	for _, p := range params {
		require.NotNil(t, p.Grad, p.Name)
		want := numericGrad(p, func() float64 { return Scalar(build()) })
		assert.InDeltaSlice(t, want, p.Grad, 1e-5, p.Name)
	}
}

func TestBackwardSkipsFrozen(t *testing.T) {
	l := NewLinear("fc", 2, 1, true)
	l.Reset(NewRand(1))
	l.Weight.Frozen = true
	Backward(BCE(l.Forward(Const([]float64{1, 2})), []float64{0}), l.Parameters())
	assert.Nil(t, l.Weight.Grad)
	assert.Len(t, l.Bias.Grad, 1)
}

func TestClipGradNorm(t *testing.T) {
	p := NewParam("p", 2)
	p.Grad = []float64{3, 4}
	assert.InDelta(t, 5, ClipGradNorm([]*Param{p}, 1), 1e-12)
	assert.InDeltaSlice(t, []float64{0.6, 0.8}, p.Grad, 1e-12)
	assert.InDelta(t, 1, ClipGradNorm([]*Param{p}, 0), 1e-12)
}

type stepper interface {
	Step(context.Context, []*Param, float64) error
}

func TestOptimizersLowerLoss(t *testing.T) {
	optimizers := map[string]func() stepper{
		"sgd":  func() stepper { return NewSGD(0.1) },
		"adam": func() stepper { return NewAdam(0.05, 0.9, 0.999) },
	}
	for name, newOpt := range optimizers {
		t.Run(name, func(t *testing.T) {
			l := NewLinear("fc", 3, 1, true)
			l.Reset(NewRand(2))
			x := Const([]float64{1, -2, 0.5})
			loss := func() Vec { return BCE(l.Forward(x), []float64{1}) }

			before := loss()
			Backward(before, l.Parameters())
			require.NoError(t, newOpt().Step(context.Background(), l.Parameters(), Scalar(before)))
			assert.Less(t, Scalar(loss()), Scalar(before))
		})
	}
}

func TestAdamStateRoundTrip(t *testing.T) {
	p := NewParam("p", 2)
	p.Grad = []float64{0.5, -1}
	opt := NewAdam(0.01, 0.9, 0.999)
	assert.Zero(t, opt.StateSize())
	require.NoError(t, opt.Step(context.Background(), []*Param{p}, 0))
	assert.Equal(t, 1, opt.StateSize())

	data, err := opt.MarshalBinary()
	require.NoError(t, err)
	restored := NewAdam(0.01, 0.9, 0.999)
	require.NoError(t, restored.UnmarshalBinary(data))
	assert.Equal(t, 1, restored.StateSize())
	assert.Equal(t, 1, restored.Steps())

	assert.Error(t, restored.UnmarshalBinary([]byte("nope")))
}

func TestOptimizerStepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewParam("p", 1)
	p.Grad = []float64{1}
	assert.ErrorIs(t, NewSGD(1).Step(ctx, []*Param{p}, 0), context.Canceled)
	assert.Equal(t, []float64{0}, p.Values())
}
