package model

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rushteam/reviewrank/config"
	"github.com/rushteam/reviewrank/pkg/logger"
	"github.com/rushteam/reviewrank/pkg/metrics"
	"github.com/rushteam/reviewrank/pkg/nn"
)

// 预训练文件名（位于 config.PretrainEmbDir 下）
const (
	PretrainWordFile    = "word_emb.txt.gz"    // pv 使用的词向量
	PretrainContextFile = "context_emb.txt.gz" // 其它编码器使用的词向量
	PretrainReviewFile  = "doc_emb.txt.gz"     // pv 的评论向量
)

// PretrainedEmbeddings 是外部提供的初始化表。为 nil 的字段不加载。
type PretrainedEmbeddings struct {
	Words   [][]float64
	Reviews [][]float64
}

// Options 是构建 ProductRanker 的数据依赖。
type Options struct {
	VocabSize   int
	ReviewCount int
	// ReviewWords 按评论 id 给出 padding 后的词 id，长度为 ReviewCount-1（可带上 padding 行）
	ReviewWords [][]int
	// WordFreqs 是负采样的词频，为 nil 时使用均匀分布
	WordFreqs []float64
	// Pretrained 优先于 config.PretrainEmbDir
	Pretrained *PretrainedEmbeddings
	Logger     *logger.Logger
	Registerer prometheus.Registerer
}

// ProductRanker 是基于评论的商品排序模型。
//
// 核心思想：
//   - 查询向量 + 用户历史评论向量 + 商品评论向量拼成一条序列
//   - 段向量区分查询、用户、商品三类位置
//   - 共享的 Transformer 把序列压缩为一个相关性分数
//   - 训练目标：正样本 vs k 个负样本的二分类损失，可叠加段落向量的负采样损失
//
// 推理时评论向量只从 ReviewCache 读取。
type ProductRanker struct {
	Embeddings    *EmbeddingTable
	ReviewEncoder ReviewEncoder
	QueryEncoder  TextEncoder
	Scorer        *TransformerScorer

	cfg         *config.Config
	paragraph   ParagraphEncoder
	cache       *ReviewCache
	reviewWords [][]int
	reviewPad   int
	embDropout  float64
	log         *logger.Logger
}

// NewProductRanker 构建并初始化模型。评论编码器的变体在这里一次性确定。
func NewProductRanker(cfg *config.Config, opts Options) (*ProductRanker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.VocabSize < 2 || opts.ReviewCount < 1 {
		return nil, fmt.Errorf("%w: vocab size %d and review count %d too small", ErrInvalidBatch, opts.VocabSize, opts.ReviewCount)
	}
	log := logger.OrNoop(opts.Logger).WithComponent("product_ranker")
	cfg = cfg.Clone()

	r := &ProductRanker{
		Embeddings: NewEmbeddingTable(opts.VocabSize, cfg.EmbeddingSize),
		cfg:        cfg,
		reviewPad:  opts.ReviewCount - 1,
		embDropout: cfg.Dropout,
		log:        log,
	}
	words, err := r.padReviewWords(opts.ReviewWords, opts.ReviewCount)
	if err != nil {
		return nil, err
	}
	r.reviewWords = words

	name := cfg.EffectiveReviewEncoder()
	if name != cfg.ReviewEncoderName {
		log.Info("review embeddings are fixed, falling back to paragraph vector encoder",
			"requested", cfg.ReviewEncoderName, "using", name)
		cfg.ReviewEncoderName = name
	}

	power := 1.0
	if cfg.WeightDistort {
		power = DistortPower
	}
	noise, err := NewNoiseDistribution(opts.WordFreqs, opts.VocabSize, power, r.Embeddings.WordPad)
	if err != nil {
		return nil, err
	}
	r.ReviewEncoder, err = newReviewEncoder(cfg, name, encoderDeps{
		table:       r.Embeddings,
		noise:       noise,
		reviewCount: opts.ReviewCount,
	})
	if err != nil {
		return nil, err
	}
	r.paragraph, _ = r.ReviewEncoder.(ParagraphEncoder)

	r.QueryEncoder, err = newTextEncoder(cfg.QueryEncoderName, "query_encoder", cfg.EmbeddingSize, cfg.FFSize, cfg.Heads, cfg.Dropout)
	if err != nil {
		return nil, err
	}
	r.Scorer, err = NewTransformerScorer(cfg.EmbeddingSize, cfg.FFSize, cfg.Heads, cfg.InterLayers, cfg.Dropout)
	if err != nil {
		return nil, err
	}

	pretrained, err := r.resolvePretrained(opts.Pretrained)
	if err != nil {
		return nil, err
	}
	if err := r.initialize(pretrained); err != nil {
		return nil, err
	}

	if cfg.FixEmb {
		r.Embeddings.Freeze()
		r.embDropout = 0
	}

	r.cache = NewReviewCache(opts.ReviewCount, cfg.EmbeddingSize, r.encodeForCache, CacheOptions{
		SliceSize: cfg.CacheSliceSize,
		Workers:   cfg.CacheWorkers,
		Frozen:    cfg.FixEmb,
		Seed:      uint64(cfg.Seed),
		Metrics:   metrics.NewCacheMetrics(opts.Registerer, "reviewrank"),
		Logger:    opts.Logger,
	})
	return r, nil
}

func (r *ProductRanker) padReviewWords(rows [][]int, reviewCount int) ([][]int, error) {
	if len(rows) != reviewCount-1 && len(rows) != reviewCount {
		return nil, fmt.Errorf("%w: %d review word rows for review count %d", ErrInvalidBatch, len(rows), reviewCount)
	}
	vocab := r.Embeddings.Words.Num()
	out := make([][]int, reviewCount-1)
	for i := range out {
		if err := checkIDs(rows[i], vocab, "review word"); err != nil {
			return nil, fmt.Errorf("review %d: %w", i, err)
		}
		out[i] = rows[i]
	}
	return out, nil
}

// resolvePretrained 优先使用显式传入的表，否则从 PretrainEmbDir 读取。
func (r *ProductRanker) resolvePretrained(explicit *PretrainedEmbeddings) (*PretrainedEmbeddings, error) {
	if explicit != nil {
		return explicit, nil
	}
	dir := r.cfg.PretrainEmbDir
	if dir == "" {
		return nil, nil
	}
	wordFile := PretrainContextFile
	if r.ReviewEncoder.Name() == config.EncoderPV {
		wordFile = PretrainWordFile
	}
	p := &PretrainedEmbeddings{}
	var err error
	if p.Words, err = LoadPretrainEmbeddingsFile(filepath.Join(dir, wordFile)); err != nil {
		return nil, err
	}
	if r.ReviewEncoder.Name() == config.EncoderPV {
		if p.Reviews, err = LoadPretrainEmbeddingsFile(filepath.Join(dir, PretrainReviewFile)); err != nil {
			return nil, err
		}
	}
	r.log.Info("pretrained embeddings loaded", "dir", dir, "words", len(p.Words), "reviews", len(p.Reviews))
	return p, nil
}

func (r *ProductRanker) initialize(pretrained *PretrainedEmbeddings) error {
	r.log.Info("ProductRanker initialization started")
	rng := nn.NewRand(uint64(r.cfg.Seed))
	r.Embeddings.Reset(rng, true)
	r.ReviewEncoder.ResetParameters(rng)
	r.QueryEncoder.Reset(rng)
	r.Scorer.Reset(rng)

	if pretrained != nil {
		if pretrained.Words != nil {
			if err := r.Embeddings.Words.LoadPretrained(pretrained.Words); err != nil {
				return err
			}
			r.Embeddings.Words.ZeroPad()
		}
		if pv, ok := r.ReviewEncoder.(*ParagraphVector); ok && pretrained.Reviews != nil {
			if err := pv.LoadPretrained(pretrained.Reviews); err != nil {
				return err
			}
			pv.Reviews.ZeroPad()
		}
	}
	r.log.Info("ProductRanker initialization finished", "params", len(r.Parameters()))
	return nil
}

// encodeForCache 在推理模式下编码一组评论，供 ReviewCache 调用。
func (r *ProductRanker) encodeForCache(rt *nn.Runtime, ids []int) [][]float64 {
	words := make([][]int, len(ids))
	for i, id := range ids {
		words[i] = r.reviewWords[id]
	}
	return nn.ValuesSeq(r.ReviewEncoder.EncodeReviews(rt.Eval(), ReviewInput{IDs: ids, WordIDs: words}))
}

// Config 返回模型实际使用的配置（已应用 pvc→pv 回退）。
func (r *ProductRanker) Config() *config.Config { return r.cfg }

// Cache 返回评论向量缓存。
func (r *ProductRanker) Cache() *ReviewCache { return r.cache }

// VocabSize 与 ReviewCount 返回 id 空间大小。
func (r *ProductRanker) VocabSize() int   { return r.Embeddings.Words.Num() }
func (r *ProductRanker) ReviewCount() int { return r.reviewPad + 1 }

// Parameters 按固定顺序返回全部参数。
func (r *ProductRanker) Parameters() []*nn.Param {
	return nn.Collect(r.Embeddings, r.ReviewEncoder, r.QueryEncoder, r.Scorer)
}

// TrainableParameters 返回未冻结的参数，交给外部优化器。
func (r *ProductRanker) TrainableParameters() []*nn.Param {
	var out []*nn.Param
	for _, p := range r.Parameters() {
		if !p.Frozen {
			out = append(out, p)
		}
	}
	return out
}

func (r *ProductRanker) encodeQuery(rt *nn.Runtime, ids [][]int) []nn.Vec {
	return r.QueryEncoder.Encode(rt, r.Embeddings.LookupWords(ids), r.Embeddings.WordMask(ids))
}

// cached 从评论缓存读取向量，作为常量节点参与计算。
func (r *ProductRanker) cached(ctx context.Context, ids []int) ([]nn.Vec, error) {
	if err := r.cache.EnsureBuilt(ctx); err != nil {
		return nil, err
	}
	rows, err := r.cache.Lookup(ids)
	if err != nil {
		return nil, err
	}
	return nn.ConstSeq(rows), nil
}

// BatchScores 是一个 batch 的前向结果。
type BatchScores struct {
	Pos   []float64   // B
	Neg   [][]float64 // B × K
	Valid [][]bool    // B × K，候选是否至少有一条有效评论
	// PVLoss 是段落向量损失（按非 padding 正样本评论数平均），HasPVLoss 为 false 时无意义
	PVLoss    float64
	HasPVLoss bool

	posLogits []nn.Vec
	negLogits [][]nn.Vec
	pvLoss    nn.Vec
}

// Loss 返回排序损失与段落向量损失之和。
func (s *BatchScores) Loss() float64 {
	return nn.Scalar(s.lossNode())
}

// lossNode 是 Loss 的计算图节点，训练步从这里反向传播。
func (s *BatchScores) lossNode() nn.Vec {
	loss := rankingLoss(s.posLogits, s.negLogits, s.Valid)
	if s.HasPVLoss {
		loss = nn.Add(loss, s.pvLoss)
	}
	return loss
}

// Scores 对一个训练 batch 做前向计算。
// trainPV 为 true 且评论编码器是可训练的段落向量时，正样本评论重新计算并产生 PVLoss。
func (r *ProductRanker) Scores(ctx context.Context, rt *nn.Runtime, b *Batch, trainPV bool) (*BatchScores, error) {
	if err := b.Validate(r.VocabSize(), r.ReviewCount()); err != nil {
		return nil, err
	}
	out := &BatchScores{}

	posIDs, posOffsets := flatten(b.PosProdRidxs)
	posVecs, err := r.positiveReviews(ctx, rt, b, posIDs, trainPV, out)
	if err != nil {
		return nil, err
	}

	negRows, negCounts := flatten(b.NegProdRidxs)
	negIDs, negOffsets := flatten(negRows)
	negVecs, err := r.negativeReviews(ctx, rt, b, negIDs, trainPV)
	if err != nil {
		return nil, err
	}

	query := r.encodeQuery(rt, b.QueryWordIdxs)

	n := b.Size()
	seqs := make([][]nn.Vec, n)
	masks := make([][]bool, n)
	for i := 0; i < n; i++ {
		seqs[i], masks[i] = Fuse(r.Embeddings.Segments, r.reviewPad, query[i],
			posVecs[posOffsets[i]:posOffsets[i+1]], b.PosProdRidxs[i], b.PosSegIdxs[i])
	}
	out.posLogits = r.Scorer.ScoreBatch(rt, seqs, masks)
	out.Pos = scalars(out.posLogits)

	// 负样本展平为 (B·K) 条序列，打分后再还原为 B × K
	negSeqs := make([][]nn.Vec, len(negRows))
	negMasks := make([][]bool, len(negRows))
	row := 0
	for i := 0; i < n; i++ {
		for k := range b.NegProdRidxs[i] {
			negSeqs[row], negMasks[row] = Fuse(r.Embeddings.Segments, r.reviewPad, query[i],
				negVecs[negOffsets[row]:negOffsets[row+1]], b.NegProdRidxs[i][k], b.NegSegIdxs[i][k])
			row++
		}
	}
	flat := r.Scorer.ScoreBatch(rt, negSeqs, negMasks)

	out.Neg = make([][]float64, n)
	out.negLogits = make([][]nn.Vec, n)
	out.Valid = make([][]bool, n)
	for i := 0; i < n; i++ {
		out.negLogits[i] = flat[negCounts[i]:negCounts[i+1]]
		out.Neg[i] = scalars(out.negLogits[i])
		out.Valid[i] = make([]bool, len(b.NegProdRidxs[i]))
		for k, ridxs := range b.NegProdRidxs[i] {
			out.Valid[i][k] = candidateValid(ridxs, r.reviewPad)
		}
	}
	return out, nil
}

func (r *ProductRanker) positiveReviews(ctx context.Context, rt *nn.Runtime, b *Batch, ids []int, trainPV bool, out *BatchScores) ([]nn.Vec, error) {
	words, _ := flatten(b.PosProdRwordIdxs)
	var masks [][]bool
	if b.PosProdRwordMasks != nil {
		masks, _ = flatten(b.PosProdRwordMasks)
	}

	if r.paragraph == nil {
		return r.ReviewEncoder.EncodeReviews(rt, ReviewInput{IDs: ids, WordIDs: words, WordMask: masks}), nil
	}

	var vecs []nn.Vec
	switch {
	case r.cfg.FixEmb:
		var err error
		if vecs, err = r.cached(ctx, ids); err != nil {
			return nil, err
		}
	case trainPV:
		var corrupted [][]int
		if b.PosProdRwordIdxsPVC != nil {
			corrupted, _ = flatten(b.PosProdRwordIdxsPVC)
		}
		in := ReviewInput{IDs: ids, WordIDs: words, WordMask: masks}
		var losses []nn.Vec
		vecs, losses = r.paragraph.TrainStep(rt, in, corrupted, r.cfg.NegPerPos)
		if losses != nil {
			count := 0
			for _, id := range ids {
				if id != r.reviewPad {
					count++
				}
			}
			out.pvLoss = nn.ScaleVec(nn.SumVecs(losses, 1), MaskedMean(1, count))
			out.PVLoss = nn.Scalar(out.pvLoss)
			out.HasPVLoss = true
		}
	default:
		vecs = r.paragraph.EncodeReviews(rt, ReviewInput{IDs: ids, WordIDs: words, WordMask: masks})
	}
	return nn.DropoutSeq(rt, vecs, r.embDropout), nil
}

func (r *ProductRanker) negativeReviews(ctx context.Context, rt *nn.Runtime, b *Batch, ids []int, trainPV bool) ([]nn.Vec, error) {
	if r.paragraph != nil && r.cfg.FixEmb {
		vecs, err := r.cached(ctx, ids)
		if err != nil {
			return nil, err
		}
		return nn.DropoutSeq(rt, vecs, r.embDropout), nil
	}

	source := b.NegProdRwordIdxs
	if r.paragraph != nil && trainPV && b.NegProdRwordIdxsPVC != nil {
		source = b.NegProdRwordIdxsPVC
	}
	var words [][]int
	if source != nil {
		rows, _ := flatten(source)
		words, _ = flatten(rows)
	} else if r.ReviewEncoder.Name() != config.EncoderPV && len(ids) > 0 {
		return nil, batchErr("negative review words are required by the %s encoder", r.ReviewEncoder.Name())
	}
	var masks [][]bool
	if r.paragraph == nil && b.NegProdRwordMasks != nil {
		rows, _ := flatten(b.NegProdRwordMasks)
		masks, _ = flatten(rows)
	}

	vecs := r.ReviewEncoder.EncodeReviews(rt, ReviewInput{IDs: ids, WordIDs: words, WordMask: masks})
	if r.paragraph != nil {
		vecs = nn.DropoutSeq(rt, vecs, r.embDropout)
	}
	return vecs, nil
}

// Forward 返回多个 batch 的平均损失。
func (r *ProductRanker) Forward(ctx context.Context, rt *nn.Runtime, batches []*Batch, trainPV bool) (float64, error) {
	loss, err := r.forward(ctx, rt, batches, trainPV)
	if err != nil {
		return 0, err
	}
	return nn.Scalar(loss), nil
}

// forward 返回平均损失的计算图节点。
func (r *ProductRanker) forward(ctx context.Context, rt *nn.Runtime, batches []*Batch, trainPV bool) (nn.Vec, error) {
	if len(batches) == 0 {
		return nil, batchErr("no batches")
	}
	losses := make([]nn.Vec, len(batches))
	for i, b := range batches {
		scores, err := r.Scores(ctx, rt, b, trainPV)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
		losses[i] = scores.lossNode()
	}
	return nn.ScaleVec(nn.SumVecs(losses, 1), 1/float64(len(batches))), nil
}

// Test 对评估 batch 打分，返回 B × K 的 logit 矩阵。评论向量只从缓存读取。
func (r *ProductRanker) Test(ctx context.Context, tb *TestBatch) ([][]float64, error) {
	if err := tb.Validate(r.VocabSize(), r.ReviewCount()); err != nil {
		return nil, err
	}
	if err := r.cache.EnsureBuilt(ctx); err != nil {
		return nil, err
	}
	rt := nn.NewRuntime(false, uint64(r.cfg.Seed))
	query := r.encodeQuery(rt, tb.QueryWordIdxs)

	rows, counts := flatten(tb.CandiProdRidxs)
	seqs := make([][]nn.Vec, len(rows))
	masks := make([][]bool, len(rows))
	row := 0
	for i := range tb.CandiProdRidxs {
		for k, ridxs := range tb.CandiProdRidxs[i] {
			vecs, err := r.cached(ctx, ridxs)
			if err != nil {
				return nil, err
			}
			seqs[row], masks[row] = Fuse(r.Embeddings.Segments, r.reviewPad, query[i], vecs, ridxs, tb.CandiSegIdxs[i][k])
			row++
		}
	}
	flat := scalars(r.Scorer.ScoreBatch(rt, seqs, masks))
	out := make([][]float64, len(tb.CandiProdRidxs))
	for i := range out {
		out[i] = flat[counts[i]:counts[i+1]]
	}
	return out, nil
}

// zeroPads 在参数更新后把所有 padding 行恢复为零。
func (r *ProductRanker) zeroPads() {
	r.Embeddings.ZeroPads()
	if pv, ok := r.ReviewEncoder.(*ParagraphVector); ok {
		pv.Reviews.ZeroPad()
	}
}

func scalars(vs []nn.Vec) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = nn.Scalar(v)
	}
	return out
}

// flatten 拼接所有行，offsets[i]..offsets[i+1] 是第 i 行在结果中的位置。
func flatten[T any](rows [][]T) ([]T, []int) {
	offsets := make([]int, len(rows)+1)
	total := 0
	for i, row := range rows {
		offsets[i] = total
		total += len(row)
	}
	offsets[len(rows)] = total
	flat := make([]T, 0, total)
	for _, row := range rows {
		flat = append(flat, row...)
	}
	return flat, offsets
}
