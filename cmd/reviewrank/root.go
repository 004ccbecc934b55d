package main

import (
	"github.com/spf13/cobra"

	"github.com/rushteam/reviewrank/config"
	"github.com/rushteam/reviewrank/pkg/logger"
)

// app 保存所有子命令共享的状态，由 PersistentPreRunE 初始化。
type app struct {
	cfgFile   string
	logLevel  string
	logFormat string

	cfg *config.Config
	log *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "reviewrank",
		Short: "Review-based product ranking",
		Long: `reviewrank scores candidate products for a query from their reviews.

Example usage:
  reviewrank config --config model.yaml
  reviewrank export --request req.json --out init.ckpt
  reviewrank score --request req.json --checkpoint-file init.ckpt --cutoff 10
  reviewrank score --request req.json --checkpoint-redis 127.0.0.1:6379 --checkpoint-key ckpt:best`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "YAML config file (default: built-in defaults)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(newConfigCmd(a), newScoreCmd(a), newExportCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	level := logger.ParseLevel(a.logLevel)
	if a.logFormat == "json" {
		a.log = logger.NewJSON(cmd.ErrOrStderr(), level)
	} else {
		a.log = logger.NewText(cmd.ErrOrStderr(), level)
	}

	if a.cfgFile == "" {
		a.cfg = config.Default()
	} else {
		cfg, err := config.LoadFromYAML(a.cfgFile)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	a.log.Debug("config loaded", "file", a.cfgFile)
	return nil
}
