package model

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/reviewrank/pkg/nn"
)

func paddedInput(n, w, dim int) ([][]nn.Vec, [][]bool) {
	emb := make([][]nn.Vec, n)
	mask := make([][]bool, n)
	for i := range emb {
		emb[i] = nn.ConstSeq(nn.ZerosMatrix(w, dim))
		mask[i] = make([]bool, w)
	}
	return emb, mask
}

func TestTextEncodersAllPadding(t *testing.T) {
	fs, err := NewFSEncoder("review_encoder", 8, 16, 2, 0.1)
	require.NoError(t, err)
	fs.Reset(rand.New(rand.NewPCG(1, 2)))

	encoders := map[string]TextEncoder{
		"avg": NewAVGEncoder(8, 0.1),
		"fs":  fs,
	}
	for name, enc := range encoders {
		t.Run(name, func(t *testing.T) {
			emb, mask := paddedInput(3, 4, 8)
			for _, rt := range []*nn.Runtime{evalRuntime(), trainRuntime(7)} {
				out := nn.ValuesSeq(enc.Encode(rt, emb, mask))
				require.Len(t, out, 3)
				for _, v := range out {
					require.Len(t, v, 8)
					assert.True(t, nn.IsFinite(v))
					assert.InDelta(t, 0, nn.Norm(v), 1e-12)
				}
			}
		})
	}
}

func TestAVGEncoderMaskedMean(t *testing.T) {
	enc := NewAVGEncoder(2, 0)
	emb := [][]nn.Vec{nn.ConstSeq([][]float64{{1, 2}, {3, 4}, {100, 100}})}
	mask := [][]bool{{true, true, false}}

	out := enc.Encode(evalRuntime(), emb, mask)
	assert.Equal(t, []float64{2, 3}, nn.Values(out[0]))
}

func TestFSEncoderIgnoresPaddedWords(t *testing.T) {
	fs, err := NewFSEncoder("query_encoder", 4, 8, 2, 0)
	require.NoError(t, err)
	fs.Reset(rand.New(rand.NewPCG(3, 4)))

	base := [][]float64{{1, 0, 0, 1}, {0, 1, 1, 0}}
	a := append(append([][]float64{}, base...), []float64{5, 5, 5, 5})
	b := append(append([][]float64{}, base...), []float64{-9, 3, 0, 2})
	mask := []bool{true, true, false}

	outA := nn.ValuesSeq(fs.Encode(evalRuntime(), [][]nn.Vec{nn.ConstSeq(a)}, [][]bool{mask}))
	outB := nn.ValuesSeq(fs.Encode(evalRuntime(), [][]nn.Vec{nn.ConstSeq(b)}, [][]bool{mask}))
	assert.InDeltaSlice(t, outA[0], outB[0], 1e-9)
	assert.True(t, nn.IsFinite(outA[0]))
}
