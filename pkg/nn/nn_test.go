package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBCEWithLogits(t *testing.T) {
	for _, x := range []float64{-30, -2, 0, 0.5, 3, 40} {
		p := 1 / (1 + math.Exp(-x))
		if p > 1e-12 && p < 1-1e-12 {
			assert.InDelta(t, -math.Log(p), BCEWithLogits(x, 1), 1e-9)
			assert.InDelta(t, -math.Log(1-p), BCEWithLogits(x, 0), 1e-9)
		}
		assert.False(t, math.IsInf(BCEWithLogits(x, 1), 0))
	}
	assert.InDelta(t, 1000, BCEWithLogits(-1000, 1), 1e-6)
}

func TestBCEMatchesScalarForm(t *testing.T) {
	logits := []float64{-3, 0.25, 2}
	targets := []float64{1, 0, 1}
	want := 0.0
	for i := range logits {
		want += BCEWithLogits(logits[i], targets[i])
	}
	assert.InDelta(t, want, Scalar(BCE(Const(logits), targets)), 1e-9)
}

func TestMaskedSoftmax(t *testing.T) {
	out := Values(MaskedSoftmax(Const([]float64{1, 2, 100}), []bool{true, true, false}))
	assert.Equal(t, 0.0, out[2])
	assert.InDelta(t, 1, out[0]+out[1], 1e-12)
	assert.Greater(t, out[1], out[0])

	uniform := Values(MaskedSoftmax(Const([]float64{3, -1}), []bool{false, false}))
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, uniform, 1e-12)

	all := Values(MaskedSoftmax(Const([]float64{0, 0}), nil))
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, all, 1e-12)
}

func TestDropout(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	x := Const(xs)
	assert.Equal(t, xs, Values(Dropout(nil, x, 0.5)))
	assert.Equal(t, xs, Values(Dropout(NewRuntime(false, 1), x, 0.5)))
	assert.Equal(t, xs, Values(Dropout(NewRuntime(true, 1), x, 0)))

	out := Values(Dropout(NewRuntime(true, 1), x, 0.5))
	for i, v := range out {
		assert.True(t, v == 0 || v == 2*xs[i])
	}
}

func TestMaskedMean(t *testing.T) {
	xs := ConstSeq([][]float64{{1, 1}, {3, 5}, {9, 9}})
	assert.Equal(t, []float64{2, 3}, Values(MaskedMean(xs, []bool{true, true, false}, 2)))
	assert.Equal(t, []float64{0, 0}, Values(MaskedMean(xs, []bool{false, false, false}, 2)))
}

func TestEmbedding(t *testing.T) {
	e := NewEmbedding("emb", 4, 3, 3)
	e.Reset(NewRand(1))
	assert.Equal(t, []float64{0, 0, 0}, e.Lookup(3))
	assert.NotEqual(t, []float64{0, 0, 0}, e.Lookup(0))
	assert.Equal(t, e.Lookup(1), Values(e.Forward(1)))

	row := e.Lookup(0)
	row[0] = 99
	assert.NotEqual(t, 99.0, e.Lookup(0)[0])

	require.NoError(t, e.LoadPretrained([][]float64{{1, 1, 1}, {2, 2, 2}, {3, 3, 3}}))
	assert.Equal(t, []float64{2, 2, 2}, e.Lookup(1))
	assert.Equal(t, []float64{0, 0, 0}, e.Lookup(3))
	assert.Error(t, e.LoadPretrained([][]float64{{1, 1, 1}}))
	assert.Error(t, e.LoadPretrained([][]float64{{1}, {1}, {1}}))
	assert.Equal(t, []float64{2, 2, 2}, e.Lookup(1))
}

func TestEmbeddingPadRowGetsNoGradient(t *testing.T) {
	e := NewEmbedding("emb", 3, 2, 2)
	e.Reset(NewRand(5))
	loss := Add(DotVec(e.Forward(0), Const([]float64{1, 2})), DotVec(e.Forward(2), Const([]float64{3, 4})))
	Backward(loss, e.Parameters())
	assert.Equal(t, []float64{1, 2, 0, 0, 0, 0}, e.Weight.Grad)
}

func TestLinear(t *testing.T) {
	l := NewLinear("fc", 2, 1, true)
	l.Weight.SetValues([]float64{2, -1})
	l.Bias.SetValues([]float64{0.5})
	assert.Equal(t, []float64{0.5 + 2*3 - 4}, Values(l.Forward(Const([]float64{3, 4}))))
	assert.Len(t, l.Parameters(), 2)

	seq := ValuesSeq(l.ForwardSeq(ConstSeq([][]float64{{3, 4}, {1, 0}})))
	assert.Equal(t, [][]float64{{2.5}, {2.5}}, seq)
}

func TestLayerNorm(t *testing.T) {
	ln := NewLayerNorm("ln", 4)
	out := Values(ln.Forward(Const([]float64{1, 2, 3, 4})))
	mean, variance := 0.0, 0.0
	for _, v := range out {
		mean += v
	}
	mean /= 4
	for _, v := range out {
		variance += (v - mean) * (v - mean)
	}
	assert.InDelta(t, 0, mean, 1e-9)
	assert.InDelta(t, 1, variance/4, 1e-4)
}

func TestMultiHeadAttentionRejectsBadHeads(t *testing.T) {
	_, err := NewMultiHeadAttention("attn", 3, 8, 0)
	assert.Error(t, err)
	_, err = NewEncoderLayer("layer", 8, 3, 16, 0)
	assert.Error(t, err)
}

func TestEncoderLayerMasksKeys(t *testing.T) {
	layer, err := NewEncoderLayer("layer", 4, 2, 8, 0)
	require.NoError(t, err)
	layer.Reset(NewRand(3))

	mask := []bool{true, true, false}
	a := ValuesSeq(layer.Forward(NewRuntime(false, 0), ConstSeq([][]float64{{1, 0, 0, 1}, {0, 1, 0, 0}, {7, 7, 7, 7}}), mask, true))
	b := ValuesSeq(layer.Forward(NewRuntime(false, 0), ConstSeq([][]float64{{1, 0, 0, 1}, {0, 1, 0, 0}, {-3, 2, 0, 1}}), mask, true))
	assert.InDeltaSlice(t, a[0], b[0], 1e-12)
	assert.InDeltaSlice(t, a[1], b[1], 1e-12)
	for _, row := range a {
		assert.True(t, IsFinite(row))
	}
}

func TestParamLoad(t *testing.T) {
	p := NewParam("p", 2, 3)
	assert.Equal(t, 2, p.Rows())
	assert.Equal(t, 3, p.Cols())

	snap := p.Tensor()
	snap.Data[0] = 5
	assert.Equal(t, 0.0, p.Values()[0])
	require.NoError(t, p.Load(snap))
	assert.Equal(t, 5.0, p.Values()[0])

	bad := Tensor{Shape: []int{3, 2}, Data: make([]float64, 6)}
	assert.Error(t, p.Check(bad))
	assert.Error(t, p.Load(bad))
	assert.Equal(t, 5.0, p.Values()[0])

	p.SetRow(1, []float64{7, 8, 9})
	assert.Equal(t, []float64{7, 8, 9}, p.RowValues(1))
	p.ZeroRow(1)
	assert.Equal(t, []float64{0, 0, 0}, p.RowValues(1))
}

func TestRuntime(t *testing.T) {
	var rt *Runtime
	assert.False(t, rt.Training())
	assert.NotNil(t, rt.RNG())

	train := NewRuntime(true, 9)
	eval := train.Eval()
	assert.False(t, eval.Training())
	assert.Same(t, train.Rand, eval.Rand)

	a, b := NewRand(4), NewRand(4)
	assert.Equal(t, a.Uint64(), b.Uint64())
}

func TestCollectSkipsNil(t *testing.T) {
	l := NewLinear("fc", 2, 2, false)
	assert.Len(t, Collect(nil, l), 1)
}
