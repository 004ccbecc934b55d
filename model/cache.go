package model

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/reviewrank/pkg/logger"
	"github.com/rushteam/reviewrank/pkg/metrics"
	"github.com/rushteam/reviewrank/pkg/nn"
)

// EncodeFunc 计算一组评论 id 的向量，由缓存在推理模式下调用。
type EncodeFunc func(rt *nn.Runtime, ids []int) [][]float64

// CacheOptions 配置评论向量缓存。
type CacheOptions struct {
	// SliceSize 是每片的评论数，<= 0 时为 128
	SliceSize int
	// Workers 是并发片数上限，<= 0 时为 1
	Workers int
	// Frozen 为 true 时 Invalidate 不清空缓存
	Frozen  bool
	Seed    uint64
	Metrics *metrics.CacheMetrics
	Logger  *logger.Logger
}

// ReviewCache 是所有评论向量的预计算表，行数为 reviewCount，最后一行（padding）恒为零。
//
// 并发约定：
//   - 读者看到的要么是旧表要么是完整的新表，不会看到部分结果
//   - 重建在新 buffer 上分片并发计算，完成后在写锁下一次性发布
//   - 训练更新评论编码器参数后必须调用 Invalidate
type ReviewCache struct {
	mu   sync.RWMutex
	rows [][]float64

	buildMu sync.Mutex
	seeds   uint64

	reviewCount int
	dim         int
	encode      EncodeFunc
	opts        CacheOptions
	builds      atomic.Int64
	log         *logger.Logger
}

func NewReviewCache(reviewCount, dim int, encode EncodeFunc, opts CacheOptions) *ReviewCache {
	if opts.SliceSize <= 0 {
		opts.SliceSize = 128
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &ReviewCache{
		reviewCount: reviewCount,
		dim:         dim,
		encode:      encode,
		opts:        opts,
		seeds:       opts.Seed,
		log:         logger.OrNoop(opts.Logger).WithComponent("review_cache"),
	}
}

// IsValid 表示缓存存在。
func (c *ReviewCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rows != nil
}

// Frozen 表示缓存永不失效。
func (c *ReviewCache) Frozen() bool { return c.opts.Frozen }

// BuildCount 返回完成的重建次数。
func (c *ReviewCache) BuildCount() int64 { return c.builds.Load() }

// EnsureBuilt 在缓存缺失时重建，已存在时直接返回。
func (c *ReviewCache) EnsureBuilt(ctx context.Context) error {
	if c.IsValid() {
		return nil
	}
	c.buildMu.Lock()
	defer c.buildMu.Unlock()
	if c.IsValid() {
		return nil
	}

	start := time.Now()
	rows, err := c.build(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.rows = rows
	c.mu.Unlock()

	elapsed := time.Since(start)
	c.builds.Add(1)
	c.opts.Metrics.ObserveBuild(len(rows), elapsed)
	c.log.Debug("review cache rebuilt", "rows", len(rows), "elapsed", elapsed)
	return nil
}

func (c *ReviewCache) build(ctx context.Context) ([][]float64, error) {
	rows := make([][]float64, c.reviewCount)
	n := max(c.reviewCount-1, 0)
	size := c.opts.SliceSize
	slices := (n + size - 1) / size

	// 每片的随机种子在启动前确定，结果与调度顺序无关
	seeds := make([]uint64, slices)
	for i := range seeds {
		c.seeds++
		seeds[i] = c.seeds
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i := 0; i < slices; i++ {
		lo := i * size
		hi := min(lo+size, n)
		seed := seeds[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ids := make([]int, hi-lo)
			for j := range ids {
				ids[j] = lo + j
			}
			vecs := c.encode(nn.NewRuntime(false, seed), ids)
			if len(vecs) != len(ids) {
				return fmt.Errorf("review cache: slice [%d,%d) encoded %d vectors", lo, hi, len(vecs))
			}
			copy(rows[lo:hi], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if c.reviewCount > 0 {
		rows[c.reviewCount-1] = nn.Zeros(c.dim)
	}
	return rows, nil
}

// Invalidate 清空缓存；冻结时为空操作。返回缓存是否被清空。
func (c *ReviewCache) Invalidate() bool {
	if c.opts.Frozen {
		c.opts.Metrics.ObserveInvalidate(false)
		return false
	}
	c.clear()
	c.opts.Metrics.ObserveInvalidate(true)
	return true
}

// Reset 无条件清空缓存（例如载入新参数后）。
func (c *ReviewCache) Reset() {
	c.clear()
}

func (c *ReviewCache) clear() {
	c.mu.Lock()
	c.rows = nil
	c.mu.Unlock()
}

// Lookup 返回评论 id 对应向量的拷贝；缓存缺失时返回 ErrCacheNotBuilt。
func (c *ReviewCache) Lookup(ids []int) ([][]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rows == nil {
		return nil, ErrCacheNotBuilt
	}
	out := make([][]float64, len(ids))
	for i, id := range ids {
		if id < 0 || id >= len(c.rows) {
			return nil, batchErr("review id %d out of range [0,%d)", id, len(c.rows))
		}
		out[i] = nn.Clone(c.rows[id])
	}
	return out, nil
}

// Rows 返回整张表的拷贝；缓存缺失时返回 nil。
func (c *ReviewCache) Rows() [][]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.rows == nil {
		return nil
	}
	out := make([][]float64, len(c.rows))
	for i, row := range c.rows {
		out[i] = nn.Clone(row)
	}
	return out
}
