package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rushteam/reviewrank/checkpoint"
	"github.com/rushteam/reviewrank/model"
	"github.com/rushteam/reviewrank/store"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		request   string
		out       string
		redisAddr string
		redisDB   int
		key       string
		epoch     int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Initialize a model from the config and save it as a checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if out == "" && redisAddr == "" {
				return fmt.Errorf("one of --out or --checkpoint-redis is required")
			}
			req, err := loadRequest(request)
			if err != nil {
				return err
			}
			opts := req.options()
			opts.Logger = a.log
			r, err := model.NewProductRanker(a.cfg, opts)
			if err != nil {
				return err
			}
			cp, err := checkpoint.New(r, nil, nil, epoch)
			if err != nil {
				return err
			}

			if out != "" {
				data, err := checkpoint.Encode(cp)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return fmt.Errorf("write checkpoint: %w", err)
				}
				a.log.Info("checkpoint written", "file", out, "bytes", len(data))
			}
			if redisAddr != "" {
				st, err := store.OpenRedis(redisAddr, redisDB)
				if err != nil {
					return err
				}
				defer st.Close()
				if err := checkpoint.Save(ctx, st, key, cp); err != nil {
					return err
				}
				a.log.Info("checkpoint saved", "store", st.Name(), "key", key)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&request, "request", "", "request file providing vocabulary and reviews")
	cmd.Flags().StringVar(&out, "out", "", "checkpoint output file")
	cmd.Flags().StringVar(&redisAddr, "checkpoint-redis", "", "redis address (host:port or redis:// URL) to save the checkpoint to")
	cmd.Flags().IntVar(&redisDB, "checkpoint-db", 0, "redis database")
	cmd.Flags().StringVar(&key, "checkpoint-key", "checkpoint:init", "checkpoint key in redis")
	cmd.Flags().IntVar(&epoch, "epoch", 0, "epoch recorded in the checkpoint")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}
