package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rushteam/reviewrank/config"
	"github.com/rushteam/reviewrank/pkg/nn"
)

const (
	testVocab   = 10 // 9 = 词 padding
	testReviews = 5  // 4 = 评论 padding
	testWordPad = testVocab - 1
	testRevPad  = testReviews - 1
)

var testReviewWords = [][]int{
	{0, 1, 2},
	{3, 4, 9},
	{5, 6, 7},
	{8, 2, 9},
}

func smallConfig(reviewEncoder, queryEncoder string) *config.Config {
	cfg := config.Default()
	cfg.ReviewEncoderName = reviewEncoder
	cfg.QueryEncoderName = queryEncoder
	cfg.EmbeddingSize = 8
	cfg.FFSize = 16
	cfg.Heads = 2
	cfg.InterLayers = 2
	cfg.CorruptRate = 0.5
	cfg.NegPerPos = 2
	cfg.CacheSliceSize = 2
	cfg.CacheWorkers = 2
	return cfg
}

func newTestRanker(t *testing.T, cfg *config.Config) *ProductRanker {
	t.Helper()
	r, err := NewProductRanker(cfg, Options{
		VocabSize:   testVocab,
		ReviewCount: testReviews,
		ReviewWords: testReviewWords,
	})
	require.NoError(t, err)
	return r
}

func wordsOf(ids ...int) [][]int {
	out := make([][]int, len(ids))
	for i, id := range ids {
		if id == testRevPad {
			out[i] = []int{testWordPad, testWordPad, testWordPad}
			continue
		}
		out[i] = testReviewWords[id]
	}
	return out
}

// scenarioBatch 是一个查询、两条正样本评论、两个负样本（第二个全 padding）的 batch。
func scenarioBatch() *Batch {
	return &Batch{
		QueryWordIdxs: [][]int{{1, 2, 3}},
		PosProdRidxs:  [][]int{{0, 1}},
		PosSegIdxs:    [][]int{{SegQuery, SegUser, SegProduct}},
		PosProdRwordIdxs: [][][]int{
			wordsOf(0, 1),
		},
		NegProdRidxs: [][][]int{{{2}, {testRevPad}}},
		NegSegIdxs:   [][][]int{{{SegQuery, SegProduct}, {SegQuery, SegPad}}},
		NegProdRwordIdxs: [][][][]int{
			{wordsOf(2), wordsOf(testRevPad)},
		},
	}
}

func evalRuntime() *nn.Runtime { return nn.NewRuntime(false, 1) }

func trainRuntime(seed uint64) *nn.Runtime { return nn.NewRuntime(true, seed) }

// shiftOptimizer 把每个可训练参数加上常数，模拟一次参数更新。
type shiftOptimizer struct {
	method string
	state  int
	delta  float64
	steps  int
	losses []float64
}

func (o *shiftOptimizer) Method() string { return o.method }
func (o *shiftOptimizer) StateSize() int { return o.state }

func (o *shiftOptimizer) Step(_ context.Context, params []*nn.Param, loss float64) error {
	o.steps++
	o.losses = append(o.losses, loss)
	for _, p := range params {
		vals := p.Values()
		for i := range vals {
			vals[i] += o.delta
		}
		p.SetValues(vals)
	}
	return nil
}
