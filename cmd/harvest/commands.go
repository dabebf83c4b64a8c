package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/urfave/cli/v3"

	"github.com/ceyewan/harvest/chunk"
	"github.com/ceyewan/harvest/clog"
	"github.com/ceyewan/harvest/orchestrator"
	"github.com/ceyewan/harvest/record"
	"github.com/ceyewan/harvest/xerrors"
)

// action 在组件初始化完成后执行的命令体
type action func(ctx context.Context, cmd *cli.Command, c *Container) error

// withContainer 为每次命令执行创建 Container，并在返回前释放
func withContainer(fn action) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) (err error) {
		c, err := newContainer(ctx, cmd.String("config"), cmd.StringSlice("config-path"))
		if err != nil {
			return err
		}
		defer func() {
			if cerr := c.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
				err = cerr
			}
		}()
		return fn(ctx, cmd, c)
	}
}

func output(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func rangeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "since", Usage: "first day, YYYY-MM-DD", Required: true},
		&cli.StringFlag{Name: "until", Usage: "last day (inclusive), YYYY-MM-DD", Required: true},
		&cli.StringFlag{Name: "filter", Usage: "optional filter passed to the source"},
	}
}

var outputFlag = &cli.StringFlag{
	Name:  "output",
	Usage: "write fetched records as JSON to this file",
}

func requireArgs(cmd *cli.Command, n int, usage string) error {
	if cmd.Args().Len() < n {
		return xerrors.Wrapf(xerrors.ErrInvalidInput, "%s: expected %s", cmd.Name, usage)
	}
	return nil
}

// ============================================================================
// 抓取
// ============================================================================

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "create an operation and fetch every partition",
		ArgsUsage: "<partition>...",
		Flags: append(rangeFlags(),
			&cli.StringFlag{Name: "subject", Usage: "who or what the operation is about"},
			&cli.StringFlag{Name: "kind", Usage: "operation kind", Value: "fetch"},
			outputFlag,
		),
		Action: withContainer(func(ctx context.Context, cmd *cli.Command, c *Container) error {
			if err := requireArgs(cmd, 1, "at least one partition"); err != nil {
				return err
			}
			orch, err := c.Orchestrator()
			if err != nil {
				return err
			}
			id, results, err := orch.Start(ctx, orchestrator.Request{
				Kind:       cmd.String("kind"),
				Subject:    cmd.String("subject"),
				Partitions: cmd.Args().Slice(),
				Since:      cmd.String("since"),
				Until:      cmd.String("until"),
				Filter:     cmd.String("filter"),
			})
			if err != nil {
				return err
			}
			return report(ctx, cmd, c, id, results)
		}),
	}
}

func resumeCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "continue an interrupted operation, skipping completed partitions",
		ArgsUsage: "<operation-id>",
		Flags:     []cli.Flag{outputFlag},
		Action: withContainer(func(ctx context.Context, cmd *cli.Command, c *Container) error {
			if err := requireArgs(cmd, 1, "an operation id"); err != nil {
				return err
			}
			orch, err := c.Orchestrator()
			if err != nil {
				return err
			}
			id := cmd.Args().First()
			results, err := orch.Resume(ctx, id)
			if err != nil {
				return err
			}
			return report(ctx, cmd, c, id, results)
		}),
	}
}

// report 打印每个分区的条数与操作状态，指定 --output 时写出全部数据
func report(ctx context.Context, cmd *cli.Command, c *Container, id string, results map[string][]record.Record) error {
	w := output(cmd)
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	sum, err := c.Progress.Summary(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "operation: %s\n", id)
	fmt.Fprintf(w, "status: %s (%.0f%%)\n", sum.Operation.Status, sum.Percent)
	if sum.Operation.Error != "" {
		fmt.Fprintf(w, "error: %s\n", sum.Operation.Error)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTITION\tITEMS")
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%d\n", name, len(results[name]))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	path := cmd.String("output")
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(struct {
		OperationID string                     `json:"operation_id"`
		Results     map[string][]record.Record `json:"results"`
	}{id, results}, "", "  ")
	if err != nil {
		return xerrors.Wrap(err, "encode results")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return xerrors.Wrapf(err, "write %s", path)
	}
	c.Log.Info("results written", clog.String("path", path), clog.Int("partitions", len(results)))
	return nil
}

// ============================================================================
// 进度查询
// ============================================================================

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "show an operation and its partitions",
		ArgsUsage: "<operation-id>",
		Action: withContainer(func(ctx context.Context, cmd *cli.Command, c *Container) error {
			if err := requireArgs(cmd, 1, "an operation id"); err != nil {
				return err
			}
			id := cmd.Args().First()
			sum, err := c.Progress.Summary(ctx, id)
			if err != nil {
				return err
			}
			rows, err := c.Progress.Partitions(ctx, id)
			if err != nil {
				return err
			}

			op := sum.Operation
			w := output(cmd)
			fmt.Fprintf(w, "operation: %s\n", op.ID)
			fmt.Fprintf(w, "kind: %s  subject: %s  range: %s..%s\n", op.Kind, op.Subject, op.Since, op.Until)
			fmt.Fprintf(w, "status: %s (%.0f%%)  partitions: %d/%d  items: %d\n",
				op.Status, sum.Percent, op.CompletedPartitions, op.TotalPartitions, op.TotalItems)
			if op.Error != "" {
				fmt.Fprintf(w, "error: %s\n", op.Error)
			}

			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PARTITION\tSTATUS\tITEMS\tCHUNKS\tRETRIES\tERROR")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d/%d\t%d\t%s\n",
					r.PartitionName, r.Status, r.ItemCount, r.CompletedChunks, r.ChunkCount, r.RetryCount, oneLine(r.Error))
			}
			return tw.Flush()
		}),
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list recent operations",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Usage: "only operations for this subject"},
			&cli.IntFlag{Name: "limit", Usage: "maximum number of operations", Value: 20},
		},
		Action: withContainer(func(ctx context.Context, cmd *cli.Command, c *Container) error {
			ops, err := c.Progress.ListRecent(ctx, cmd.Int("limit"), cmd.String("subject"))
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(output(cmd), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tSUBJECT\tSTATUS\tRANGE\tPARTITIONS\tCREATED")
			for _, op := range ops {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s..%s\t%d/%d\t%s\n",
					op.ID, op.Kind, op.Subject, op.Status, op.Since, op.Until,
					op.CompletedPartitions, op.TotalPartitions, op.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		}),
	}
}

func cleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "delete finished operations older than N days",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Usage: "age threshold in days", Value: 30},
			&cli.BoolFlag{Name: "cache", Usage: "also purge expired cache entries"},
		},
		Action: withContainer(func(ctx context.Context, cmd *cli.Command, c *Container) error {
			n, err := c.Progress.CleanupOlderThan(ctx, cmd.Int("days"))
			if err != nil {
				return err
			}
			w := output(cmd)
			fmt.Fprintf(w, "deleted %d operations\n", n)
			if !cmd.Bool("cache") {
				return nil
			}
			purged, err := c.Cache.Purge(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "purged %d cache entries\n", purged)
			return nil
		}),
	}
}

// ============================================================================
// 分片
// ============================================================================

func chunkRequest(cmd *cli.Command) chunk.Request {
	return chunk.Request{
		Partition: cmd.Args().First(),
		Since:     cmd.String("since"),
		Until:     cmd.String("until"),
		Filter:    cmd.String("filter"),
	}
}

func chunksCommand() *cli.Command {
	return &cli.Command{
		Name:      "chunks",
		Usage:     "show chunk progress of one partition",
		ArgsUsage: "<partition>",
		Flags:     rangeFlags(),
		Action: withContainer(func(ctx context.Context, cmd *cli.Command, c *Container) error {
			if err := requireArgs(cmd, 1, "a partition"); err != nil {
				return err
			}
			engine, err := c.Engine()
			if err != nil {
				return err
			}
			p, err := engine.ProgressOf(ctx, chunkRequest(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(output(cmd), "status: %s  chunks: %d/%d  failed: %d  items: %d  (%.0f%%)\n",
				p.Status, p.Completed, p.Total, p.Failed, p.Items, p.Percent)
			return nil
		}),
	}
}

func retryChunksCommand() *cli.Command {
	return &cli.Command{
		Name:      "retry-chunks",
		Usage:     "re-fetch only the failed chunks of one partition",
		ArgsUsage: "<partition>",
		Flags:     rangeFlags(),
		Action: withContainer(func(ctx context.Context, cmd *cli.Command, c *Container) error {
			if err := requireArgs(cmd, 1, "a partition"); err != nil {
				return err
			}
			engine, err := c.Engine()
			if err != nil {
				return err
			}
			res, err := engine.RetryFailed(ctx, chunkRequest(cmd))
			if err != nil {
				return err
			}
			w := output(cmd)
			fmt.Fprintf(w, "chunks: %d/%d completed, %d failed, %d items\n",
				res.Completed, res.Total, res.Failed, len(res.Items))
			indexes := make([]int, 0, len(res.Errors))
			for idx := range res.Errors {
				indexes = append(indexes, idx)
			}
			sort.Ints(indexes)
			for _, idx := range indexes {
				fmt.Fprintf(w, "chunk %d: %s\n", idx, oneLine(res.Errors[idx]))
			}
			return nil
		}),
	}
}

// ============================================================================
// 熔断
// ============================================================================

func circuitsCommand() *cli.Command {
	return &cli.Command{
		Name:  "circuits",
		Usage: "list persisted circuit breakers",
		Action: withContainer(func(ctx context.Context, cmd *cli.Command, c *Container) error {
			snaps, err := c.Breakers.List(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(output(cmd), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENDPOINT\tSTATE\tFAILURES\tOPENED")
			for _, s := range snaps {
				opened := "-"
				if !s.OpenedAt.IsZero() {
					opened = s.OpenedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Endpoint, s.State, s.Failures, opened)
			}
			return tw.Flush()
		}),
	}
}

func resetCircuitCommand() *cli.Command {
	return &cli.Command{
		Name:      "reset-circuit",
		Usage:     "force a circuit back to CLOSED",
		ArgsUsage: "<endpoint>",
		Action: withContainer(func(ctx context.Context, cmd *cli.Command, c *Container) error {
			if err := requireArgs(cmd, 1, "an endpoint"); err != nil {
				return err
			}
			b, err := c.Breakers.Get(ctx, cmd.Args().First())
			if err != nil {
				return err
			}
			if err := b.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintf(output(cmd), "%s: %s\n", b.Endpoint(), b.State())
			return nil
		}),
	}
}

// oneLine 合并换行并按字符截断到 120 个
func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) > 120 {
		return string([]rune(s)[:120]) + "..."
	}
	return s
}
