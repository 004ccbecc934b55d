package model

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/reviewrank/config"
	"github.com/rushteam/reviewrank/pkg/nn"
)

func TestEndToEndScenario(t *testing.T) {
	r := newTestRanker(t, smallConfig(config.EncoderPVC, config.EncoderFS))
	b := scenarioBatch()

	scores, err := r.Scores(context.Background(), trainRuntime(3), b, true)
	require.NoError(t, err)
	require.Len(t, scores.Pos, 1)
	require.Len(t, scores.Neg, 1)
	require.Len(t, scores.Neg[0], 2)
	assert.Equal(t, [][]bool{{true, false}}, scores.Valid)
	assert.True(t, scores.HasPVLoss)
	assert.False(t, math.IsNaN(scores.PVLoss))

	want := nn.BCEWithLogits(scores.Pos[0], 1) + nn.BCEWithLogits(scores.Neg[0][0], 0)
	got := RankingLoss(scores.Pos, scores.Neg, scores.Valid)
	assert.InDelta(t, want, got, 1e-9)

	// 第二个负样本的分数不影响损失
	shifted := [][]float64{{scores.Neg[0][0], scores.Neg[0][1] + 1000}}
	assert.Equal(t, got, RankingLoss(scores.Pos, shifted, scores.Valid))
	assert.InDelta(t, got+scores.PVLoss, scores.Loss(), 1e-12)
}

func TestScoresPerEncoder(t *testing.T) {
	encoders := []string{config.EncoderPV, config.EncoderPVC, config.EncoderFS, config.EncoderAVG}
	for _, enc := range encoders {
		t.Run(enc, func(t *testing.T) {
			r := newTestRanker(t, smallConfig(enc, config.EncoderAVG))
			for _, trainPV := range []bool{true, false} {
				scores, err := r.Scores(context.Background(), trainRuntime(5), scenarioBatch(), trainPV)
				require.NoError(t, err)
				assert.True(t, nn.IsFinite(scores.Pos))
				assert.True(t, nn.IsFinite(scores.Neg[0]))

				paragraph := enc == config.EncoderPV || enc == config.EncoderPVC
				assert.Equal(t, paragraph && trainPV, scores.HasPVLoss)
			}
		})
	}
}

func TestFixedEmbeddingsProduceNoPVLoss(t *testing.T) {
	cfg := smallConfig(config.EncoderPV, config.EncoderAVG)
	cfg.FixEmb = true
	r := newTestRanker(t, cfg)

	scores, err := r.Scores(context.Background(), trainRuntime(1), scenarioBatch(), true)
	require.NoError(t, err)
	assert.False(t, scores.HasPVLoss)
	assert.True(t, r.Cache().IsValid())
	for _, p := range r.TrainableParameters() {
		assert.NotEqual(t, "word_embeddings.weight", p.Name)
		assert.NotEqual(t, "review_encoder.review_embeddings.weight", p.Name)
	}
}

func TestFlattenInvariance(t *testing.T) {
	r := newTestRanker(t, smallConfig(config.EncoderAVG, config.EncoderFS))
	ctx := context.Background()
	b := &Batch{
		QueryWordIdxs:    [][]int{{1, 2, 9}, {4, 5, 6}},
		PosProdRidxs:     [][]int{{0}, {1}},
		PosSegIdxs:       [][]int{{SegQuery, SegUser}, {SegQuery, SegUser}},
		PosProdRwordIdxs: [][][]int{wordsOf(0), wordsOf(1)},
		NegProdRidxs: [][][]int{
			{{1, 2}, {3, testRevPad}, {testRevPad, testRevPad}},
			{{0, 3}, {2, 1}, {3, 0}},
		},
		NegSegIdxs: [][][]int{
			{{0, 2, 2}, {0, 2, 3}, {0, 3, 3}},
			{{0, 1, 2}, {0, 2, 2}, {0, 2, 2}},
		},
	}
	b.NegProdRwordIdxs = make([][][][]int, len(b.NegProdRidxs))
	for i, cands := range b.NegProdRidxs {
		for _, ridxs := range cands {
			b.NegProdRwordIdxs[i] = append(b.NegProdRwordIdxs[i], wordsOf(ridxs...))
		}
	}

	joint, err := r.Scores(ctx, evalRuntime(), b, false)
	require.NoError(t, err)

	for i := range b.NegProdRidxs {
		for k := range b.NegProdRidxs[i] {
			single := &Batch{
				QueryWordIdxs:    [][]int{b.QueryWordIdxs[i]},
				PosProdRidxs:     [][]int{b.PosProdRidxs[i]},
				PosSegIdxs:       [][]int{b.PosSegIdxs[i]},
				PosProdRwordIdxs: [][][]int{b.PosProdRwordIdxs[i]},
				NegProdRidxs:     [][][]int{{b.NegProdRidxs[i][k]}},
				NegSegIdxs:       [][][]int{{b.NegSegIdxs[i][k]}},
				NegProdRwordIdxs: [][][][]int{{b.NegProdRwordIdxs[i][k]}},
			}
			one, err := r.Scores(ctx, evalRuntime(), single, false)
			require.NoError(t, err)
			assert.InDelta(t, joint.Neg[i][k], one.Neg[0][0], 1e-9)
			assert.InDelta(t, joint.Pos[i], one.Pos[0], 1e-9)
		}
	}
	assert.Equal(t, []bool{true, true, false}, joint.Valid[0])
}

func TestTestScoresMatchTrainingPath(t *testing.T) {
	cfg := smallConfig(config.EncoderAVG, config.EncoderAVG)
	r := newTestRanker(t, cfg)
	ctx := context.Background()

	tb := &TestBatch{
		QueryWordIdxs:  [][]int{{1, 2, 3}},
		CandiProdRidxs: [][][]int{{{2}, {testRevPad}}},
		CandiSegIdxs:   [][][]int{{{SegQuery, SegProduct}, {SegQuery, SegPad}}},
	}
	got, err := r.Test(ctx, tb)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0], 2)

	scores, err := r.Scores(ctx, evalRuntime(), scenarioBatch(), false)
	require.NoError(t, err)
	assert.InDeltaSlice(t, scores.Neg[0], got[0], 1e-9)
}

func TestForwardAveragesBatches(t *testing.T) {
	r := newTestRanker(t, smallConfig(config.EncoderAVG, config.EncoderAVG))
	ctx := context.Background()

	one, err := r.Forward(ctx, evalRuntime(), []*Batch{scenarioBatch()}, false)
	require.NoError(t, err)
	two, err := r.Forward(ctx, evalRuntime(), []*Batch{scenarioBatch(), scenarioBatch()}, false)
	require.NoError(t, err)
	assert.InDelta(t, one, two, 1e-12)

	_, err = r.Forward(ctx, evalRuntime(), nil, false)
	assert.ErrorIs(t, err, ErrInvalidBatch)
}

func TestScoresRejectsMalformedBatch(t *testing.T) {
	r := newTestRanker(t, smallConfig(config.EncoderAVG, config.EncoderAVG))
	b := scenarioBatch()
	b.PosSegIdxs = [][]int{{0, 1}}

	_, err := r.Scores(context.Background(), evalRuntime(), b, false)
	assert.ErrorIs(t, err, ErrInvalidBatch)

	b = scenarioBatch()
	b.NegProdRwordIdxs = nil
	_, err = r.Scores(context.Background(), evalRuntime(), b, false)
	assert.ErrorIs(t, err, ErrInvalidBatch)
}

func TestNewProductRankerOptions(t *testing.T) {
	_, err := NewProductRanker(smallConfig(config.EncoderAVG, config.EncoderAVG), Options{
		VocabSize:   testVocab,
		ReviewCount: testReviews,
		ReviewWords: testReviewWords[:2],
	})
	assert.ErrorIs(t, err, ErrInvalidBatch)

	cfg := smallConfig(config.EncoderAVG, config.EncoderAVG)
	cfg.Heads = 3
	_, err = NewProductRanker(cfg, Options{VocabSize: testVocab, ReviewCount: testReviews, ReviewWords: testReviewWords})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestPaddingRowsStartZero(t *testing.T) {
	r := newTestRanker(t, smallConfig(config.EncoderPV, config.EncoderAVG))
	assert.Equal(t, nn.Zeros(8), r.Embeddings.Words.Lookup(testWordPad))
	assert.Equal(t, nn.Zeros(8), r.Embeddings.Segment(SegPad))
	pv := r.ReviewEncoder.(*ParagraphVector)
	assert.Equal(t, nn.Zeros(8), pv.Reviews.Lookup(testRevPad))
}
