// Package rank 把模型输出的 B × K 分数矩阵整理成排序列表：排序、过滤、截断与 TREC 输出。
package rank

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/rushteam/reviewrank/pkg/dsl"
)

// Entry 是排序列表中的一项，Rank 从 1 开始。
type Entry struct {
	ProductID string
	Score     float64
	Rank      int
}

// Ranklist 是一个查询的排序结果。
type Ranklist struct {
	QueryID string
	Entries []Entry
}

// Candidates 给出分数矩阵每行、每列对应的 id；为 nil 时使用下标。
// Meta 是候选的附加属性，过滤表达式中以 meta 访问。
type Candidates struct {
	QueryIDs   []string
	ProductIDs [][]string
	Meta       [][]map[string]any
}

func (c Candidates) queryID(i int) string {
	if i < len(c.QueryIDs) {
		return c.QueryIDs[i]
	}
	return strconv.Itoa(i)
}

func (c Candidates) productID(i, k int) string {
	if i < len(c.ProductIDs) && k < len(c.ProductIDs[i]) {
		return c.ProductIDs[i][k]
	}
	return strconv.Itoa(k)
}

func (c Candidates) meta(i, k int) map[string]any {
	if i < len(c.Meta) && k < len(c.Meta[i]) {
		return c.Meta[i][k]
	}
	return nil
}

// BuildRanklists 对每个查询的候选按分数降序排序（同分保持候选顺序），
// 用 filter 过滤（表达式中的 rank 是过滤前的名次），再截取前 cutoff 项并重新编号。
// cutoff <= 0 表示不截断，filter 为 nil 表示不过滤。
func BuildRanklists(scores [][]float64, cands Candidates, cutoff int, filter *dsl.Eval) ([]Ranklist, error) {
	if cands.QueryIDs != nil && len(cands.QueryIDs) != len(scores) {
		return nil, fmt.Errorf("rank: %d query ids for %d score rows", len(cands.QueryIDs), len(scores))
	}
	out := make([]Ranklist, len(scores))
	for i, row := range scores {
		qid := cands.queryID(i)
		entries := make([]Entry, len(row))
		order := make([]int, len(row))
		for k, s := range row {
			entries[k] = Entry{ProductID: cands.productID(i, k), Score: s}
			order[k] = k
		}
		sort.SliceStable(order, func(a, b int) bool {
			return row[order[a]] > row[order[b]]
		})

		kept := make([]Entry, 0, len(row))
		for pos, k := range order {
			e := entries[k]
			e.Rank = pos + 1
			ok, err := filter.Evaluate(dsl.Entry{
				QueryID:   qid,
				ProductID: e.ProductID,
				Rank:      e.Rank,
				Score:     e.Score,
				Meta:      cands.meta(i, k),
			})
			if err != nil {
				return nil, fmt.Errorf("rank: query %s product %s: %w", qid, e.ProductID, err)
			}
			if ok {
				kept = append(kept, e)
			}
		}
		if cutoff > 0 && len(kept) > cutoff {
			kept = kept[:cutoff]
		}
		for pos := range kept {
			kept[pos].Rank = pos + 1
		}
		out[i] = Ranklist{QueryID: qid, Entries: kept}
	}
	return out, nil
}
