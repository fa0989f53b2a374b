package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/convsim/internal/config"
	"github.com/fyrsmithlabs/convsim/internal/definition"
	"github.com/fyrsmithlabs/convsim/internal/workflows"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a Temporal worker for batch trajectory workflows",
		Long: `Poll temporal.task_queue and execute BatchWorkflow and its trajectory run
activities. Start batches with "convsim batch".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func dialTemporal(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create Temporal client: %w", err)
	}
	return c, nil
}

func runWorker(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	c, err := dialTemporal(a.cfg.Temporal)
	if err != nil {
		return err
	}
	defer c.Close()

	w := worker.New(c, a.cfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: a.cfg.Temporal.MaxConcurrent,
	})
	w.RegisterWorkflow(workflows.BatchWorkflow)
	w.RegisterActivity(&workflows.Activities{Registry: a.registry})

	a.logger.Info(ctx, "worker configured",
		zap.String("temporal_host", a.cfg.Temporal.HostPort),
		zap.String("task_queue", a.cfg.Temporal.TaskQueue),
	)

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- w.Run(worker.InterruptCh())
	}()

	select {
	case err := <-workerErrors:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info(ctx, "shutdown signal received")
		w.Stop()
	}

	a.logger.Info(ctx, "worker stopped gracefully")
	return nil
}

func newBatchCmd() *cobra.Command {
	var (
		parallel int
		wait     bool
	)
	cmd := &cobra.Command{
		Use:   "batch <document>...",
		Short: "Start a batch workflow on the Temporal worker",
		Long: `Submit documents to BatchWorkflow. Each document runs as its own activity
on whichever worker picks it up; the batch reports stop reason counts.

Examples:
  convsim batch --parallel 8 trajectories/*.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitBatch(cmd.Context(), cmd, args, parallel, wait)
		},
	}
	cmd.Flags().IntVar(&parallel, "parallel", workflows.DefaultMaxParallel, "documents run concurrently")
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the batch result")
	return cmd
}

// batchDocuments reads documents from disk for inline submission.
func batchDocuments(paths []string) ([]workflows.BatchDocument, error) {
	docs := make([]workflows.BatchDocument, 0, len(paths))
	for _, p := range paths {
		format, err := definition.FormatOf(p)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		docs = append(docs, workflows.BatchDocument{Name: name, Format: format, Content: string(data)})
	}
	return docs, nil
}

func submitBatch(ctx context.Context, cmd *cobra.Command, paths []string, parallel int, wait bool) error {
	docs, err := batchDocuments(paths)
	if err != nil {
		return err
	}
	batch := workflows.BatchConfig{Documents: docs, MaxParallel: parallel}
	if err := batch.Validate(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := dialTemporal(cfg.Temporal)
	if err != nil {
		return err
	}
	defer c.Close()

	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "convsim-batch-" + uuid.NewString(),
		TaskQueue: cfg.Temporal.TaskQueue,
	}, workflows.BatchWorkflow, batch)
	if err != nil {
		return fmt.Errorf("starting batch: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", labelStyle.Render("workflow:"), run.GetID())
	if !wait {
		return nil
	}

	var result workflows.BatchResult
	if err := run.Get(ctx, &result); err != nil {
		return fmt.Errorf("batch failed: %w", err)
	}
	fmt.Fprintln(out, renderBatch(&result))
	if result.Failed > 0 {
		return &exitError{code: 1, err: fmt.Errorf("%d of %d runs failed", result.Failed, len(result.Runs))}
	}
	return nil
}
