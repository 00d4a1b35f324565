package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/changhorizon/content-collector/internal/app"
	"github.com/changhorizon/content-collector/internal/collector"
)

const taskPollInterval = 2 * time.Second

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawls the configured site once and exits",
		Long: `Launches one crawl task for the configured entry URL, runs the
pipeline workers until the task reaches a terminal status, and exits.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	done := make(chan struct{})
	go func() {
		a.Dispatcher.Run(workerCtx)
		close(done)
	}()

	entry, err := collector.NormalizeURL(a.Config.Site.Entry)
	if err != nil {
		return fmt.Errorf("normalize entry url: %w", err)
	}
	host, err := collector.HostOf(entry)
	if err != nil {
		return fmt.Errorf("resolve entry host: %w", err)
	}

	taskID, err := a.Starter.Run(ctx, host, a.Config.ToParams())
	if err != nil {
		return fmt.Errorf("start crawl: %w", err)
	}

	task, err := waitForTask(ctx, a, taskID)
	if err != nil {
		return err
	}

	cancelWorkers()
	<-done

	a.Logger.Info("crawl finished",
		zap.String("task_id", taskID),
		zap.String("status", string(task.Status)),
	)
	if task.Status != collector.TaskStatusFinished {
		return fmt.Errorf("task %s ended with status %s", taskID, task.Status)
	}
	return nil
}

// waitForTask polls the task row until it leaves the running state.
func waitForTask(ctx context.Context, a *app.App, taskID string) (collector.Task, error) {
	ticker := time.NewTicker(taskPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return collector.Task{}, fmt.Errorf("crawl interrupted: %w", ctx.Err())
		case <-ticker.C:
		}

		task, err := a.Store.GetTask(ctx, taskID)
		if err != nil {
			return collector.Task{}, fmt.Errorf("poll task: %w", err)
		}
		if task.Status != collector.TaskStatusRunning {
			return task, nil
		}
	}
}
