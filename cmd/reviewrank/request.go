package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rushteam/reviewrank/model"
	"github.com/rushteam/reviewrank/rank"
)

// scoreRequest 描述一次打分请求。文件可以是 YAML 或 JSON。
type scoreRequest struct {
	VocabSize   int       `yaml:"vocab_size"`
	ReviewCount int       `yaml:"review_count"`
	ReviewWords [][]int   `yaml:"review_words"`
	WordFreqs   []float64 `yaml:"word_freqs"`
	Queries     []query   `yaml:"queries"`
}

type query struct {
	ID         string      `yaml:"id"`
	Words      []int       `yaml:"words"`
	Candidates []candidate `yaml:"candidates"`
}

type candidate struct {
	ID      string `yaml:"id"`
	Reviews []int  `yaml:"reviews"`
	// Segments 长度为 len(Reviews)+1；为空时按 query/product/pad 推导
	Segments []int `yaml:"segments"`
	// Meta 供 --filter 表达式以 meta.<key> 访问
	Meta map[string]any `yaml:"meta"`
}

func loadRequest(path string) (*scoreRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	req := &scoreRequest{}
	if err := yaml.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("parse request %s: %w", path, err)
	}
	if len(req.Queries) == 0 {
		return nil, fmt.Errorf("request %s: no queries", path)
	}
	return req, nil
}

func (r *scoreRequest) options() model.Options {
	return model.Options{
		VocabSize:   r.VocabSize,
		ReviewCount: r.ReviewCount,
		ReviewWords: r.ReviewWords,
		WordFreqs:   r.WordFreqs,
	}
}

// testBatch 把请求转换为打分 batch 与对应的 id。
func (r *scoreRequest) testBatch() (*model.TestBatch, rank.Candidates) {
	pad := r.ReviewCount - 1
	tb := &model.TestBatch{
		QueryWordIdxs:  make([][]int, len(r.Queries)),
		CandiProdRidxs: make([][][]int, len(r.Queries)),
		CandiSegIdxs:   make([][][]int, len(r.Queries)),
	}
	cands := rank.Candidates{
		QueryIDs:   make([]string, len(r.Queries)),
		ProductIDs: make([][]string, len(r.Queries)),
		Meta:       make([][]map[string]any, len(r.Queries)),
	}
	for i, q := range r.Queries {
		tb.QueryWordIdxs[i] = q.Words
		cands.QueryIDs[i] = q.ID
		if q.ID == "" {
			cands.QueryIDs[i] = fmt.Sprint(i)
		}
		rids := make([][]int, len(q.Candidates))
		segs := make([][]int, len(q.Candidates))
		pids := make([]string, len(q.Candidates))
		metas := make([]map[string]any, len(q.Candidates))
		for k, c := range q.Candidates {
			metas[k] = c.Meta
			rids[k] = c.Reviews
			segs[k] = c.Segments
			if len(segs[k]) == 0 {
				segs[k] = defaultSegments(c.Reviews, pad)
			}
			pids[k] = c.ID
			if c.ID == "" {
				pids[k] = fmt.Sprint(k)
			}
		}
		tb.CandiProdRidxs[i] = rids
		tb.CandiSegIdxs[i] = segs
		cands.ProductIDs[i] = pids
		cands.Meta[i] = metas
	}
	return tb, cands
}

func defaultSegments(reviews []int, pad int) []int {
	segs := make([]int, 0, len(reviews)+1)
	segs = append(segs, model.SegQuery)
	for _, rid := range reviews {
		if rid == pad {
			segs = append(segs, model.SegPad)
		} else {
			segs = append(segs, model.SegProduct)
		}
	}
	return segs
}
