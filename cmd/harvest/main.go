// harvest 按日期分片、断点续传地从分页 HTTP 接口抓取多个分区的数据。
//
// 配置从 harvest.yaml（可通过 --config 修改文件名）、.env 与 HARVEST_ 前缀的
// 环境变量加载，例如 HARVEST_SOURCE_BASE_URL、HARVEST_STORAGE_PATH。
//
//	harvest run --since 2024-01-01 --until 2024-03-31 --subject octo octo/api octo/web
//	harvest status <operation-id>
//	harvest resume <operation-id>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

var version = "dev"

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "harvest",
		Usage:   "resumable, rate-limited multi-partition fetcher",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file name without extension",
				Value:   "harvest",
				Sources: cli.EnvVars("HARVEST_CONFIG"),
			},
			&cli.StringSliceFlag{
				Name:  "config-path",
				Usage: "directories searched for the config file (default: . and ./config)",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			resumeCommand(),
			statusCommand(),
			listCommand(),
			cleanupCommand(),
			chunksCommand(),
			retryChunksCommand(),
			circuitsCommand(),
			resetCircuitCommand(),
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newApp().Run(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "harvest:", err)
		os.Exit(1)
	}
}
