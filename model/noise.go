package model

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// DistortPower 是 word2vec 负采样常用的词频指数。
const DistortPower = 0.75

// NoiseDistribution 是负采样的噪声分布：p(w) ∝ freq(w)^power，padding 词概率为 0。
type NoiseDistribution struct {
	cdf   []float64
	probs []float64
}

// NewNoiseDistribution 由词频构建噪声分布。freqs 为 nil 时使用除 padding 外的均匀分布。
func NewNoiseDistribution(freqs []float64, vocabSize int, power float64, padIdx int) (*NoiseDistribution, error) {
	if freqs == nil {
		freqs = make([]float64, vocabSize)
		for i := range freqs {
			freqs[i] = 1
		}
	}
	if len(freqs) != vocabSize {
		return nil, fmt.Errorf("noise distribution: %d frequencies for vocab size %d", len(freqs), vocabSize)
	}

	probs := make([]float64, len(freqs))
	total := 0.0
	for i, f := range freqs {
		if i == padIdx || f <= 0 {
			continue
		}
		probs[i] = math.Pow(f, power)
		total += probs[i]
	}
	if total == 0 {
		return nil, fmt.Errorf("noise distribution: no word with positive frequency")
	}

	cdf := make([]float64, len(probs))
	acc := 0.0
	last := 0
	for i := range probs {
		probs[i] /= total
		acc += probs[i]
		cdf[i] = acc
		if probs[i] > 0 {
			last = i
		}
	}
	// 浮点累加误差不能让采样落到最后一个有效词之后
	for i := last; i < len(cdf); i++ {
		cdf[i] = math.Inf(1)
	}
	return &NoiseDistribution{cdf: cdf, probs: probs}, nil
}

// Sample 按分布采样一个词 id。
func (d *NoiseDistribution) Sample(rng *rand.Rand) int {
	u := rng.Float64()
	i := sort.SearchFloat64s(d.cdf, u)
	// u == 0 时可能落在开头的零概率词上
	for i < len(d.probs)-1 && d.probs[i] == 0 {
		i++
	}
	return i
}

// Prob 返回词 id 的采样概率。
func (d *NoiseDistribution) Prob(id int) float64 {
	return d.probs[id]
}
