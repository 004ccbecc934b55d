package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rushteam/reviewrank/checkpoint"
	"github.com/rushteam/reviewrank/core"
	"github.com/rushteam/reviewrank/model"
	"github.com/rushteam/reviewrank/pkg/dsl"
	"github.com/rushteam/reviewrank/rank"
	"github.com/rushteam/reviewrank/store"
)

// fileCheckpointKey 是从文件载入时在内存存储中使用的 key
const fileCheckpointKey = "checkpoint"

type sourceFlags struct {
	request   string
	redisAddr string
	redisDB   int
	key       string
	file      string
	relaxed   bool
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.request, "request", "", "request file (YAML or JSON)")
	cmd.Flags().StringVar(&f.redisAddr, "checkpoint-redis", "", "redis address (host:port or redis:// URL) holding the checkpoint")
	cmd.Flags().IntVar(&f.redisDB, "checkpoint-db", 0, "redis database")
	cmd.Flags().StringVar(&f.key, "checkpoint-key", "", "checkpoint key in redis")
	cmd.Flags().StringVar(&f.file, "checkpoint-file", "", "checkpoint file written by export")
	cmd.Flags().BoolVar(&f.relaxed, "relaxed", false, "allow checkpoint parameters to mismatch the model")
	_ = cmd.MarkFlagRequired("request")
	cmd.MarkFlagsMutuallyExclusive("checkpoint-redis", "checkpoint-file")
	cmd.MarkFlagsRequiredTogether("checkpoint-redis", "checkpoint-key")
}

// openStore 返回存放 checkpoint 的存储与 key；未指定来源时返回 nil。
func (f *sourceFlags) openStore(ctx context.Context) (core.Store, string, error) {
	switch {
	case f.redisAddr != "":
		st, err := store.OpenRedis(f.redisAddr, f.redisDB)
		if err != nil {
			return nil, "", err
		}
		return st, f.key, nil
	case f.file != "":
		data, err := os.ReadFile(f.file)
		if err != nil {
			return nil, "", fmt.Errorf("read checkpoint: %w", err)
		}
		cp, err := checkpoint.Decode(data)
		if err != nil {
			return nil, "", err
		}
		// 文件是单块编码，存入内存存储时按 Save 的分块布局写入
		st := store.NewMemoryStore()
		if err := checkpoint.Save(ctx, st, fileCheckpointKey, cp); err != nil {
			_ = st.Close()
			return nil, "", err
		}
		return st, fileCheckpointKey, nil
	}
	return nil, "", nil
}

// loadRanker 从 checkpoint 恢复模型；没有 checkpoint 时按当前配置新建。
func (a *app) loadRanker(ctx context.Context, f *sourceFlags, req *scoreRequest) (*model.ProductRanker, error) {
	opts := req.options()
	opts.Logger = a.log

	st, key, err := f.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		a.log.Warn("no checkpoint given, scoring with a freshly initialized model")
		return model.NewProductRanker(a.cfg, opts)
	}
	defer st.Close()

	res, err := checkpoint.Resume(ctx, st, key, a.cfg, opts, checkpoint.ResumeOptions{
		Relaxed: f.relaxed,
		Logger:  a.log,
	})
	if err != nil {
		return nil, err
	}
	a.cfg = res.Config
	return res.Ranker, nil
}

func newScoreCmd(a *app) *cobra.Command {
	var (
		src    sourceFlags
		cutoff int
		filter string
		run    string
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score candidate products and print TREC ranklists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			eval, err := dsl.Compile(filter)
			if err != nil {
				return err
			}
			req, err := loadRequest(src.request)
			if err != nil {
				return err
			}
			r, err := a.loadRanker(ctx, &src, req)
			if err != nil {
				return err
			}

			tb, cands := req.testBatch()
			scores, err := r.Test(ctx, tb)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("cutoff") {
				cutoff = a.cfg.RankCutoff
			}
			lists, err := rank.BuildRanklists(scores, cands, cutoff, eval)
			if err != nil {
				return err
			}
			a.log.Info("scored", "queries", len(lists), "cutoff", cutoff, "filter", eval.String())
			return rank.WriteTREC(cmd.OutOrStdout(), lists, run)
		},
	}
	src.register(cmd)
	cmd.Flags().IntVar(&cutoff, "cutoff", 0, "keep the top N products per query (default: rank_cutoff from config, 0 keeps all)")
	cmd.Flags().StringVar(&filter, "filter", "", "CEL expression over score, rank, product_id, query_id and candidate meta")
	cmd.Flags().StringVar(&run, "run", rank.DefaultRunName, "run name in the last TREC column")
	return cmd
}
