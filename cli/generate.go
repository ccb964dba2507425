package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/examforge/examforge/engine/core"
	"github.com/examforge/examforge/engine/orchestrator"
	"github.com/examforge/examforge/engine/task"
	"github.com/examforge/examforge/pkg/config"
	"github.com/examforge/examforge/pkg/logger"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const defaultPollInterval = 500 * time.Millisecond

func GenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Submit a PAPER or INTENSIVE generation task",
		Long: `Submit a generation task described by a YAML or JSON request file.

Sync tasks run inline and leave no record. Async tasks are stored and their
progress is followed until they finish.`,
		Example: `  examforge generate --file paper.yaml
  examforge generate --file drills.yaml --async --owner alice`,
		RunE: runGenerate,
	}
	cmd.Flags().StringP("file", "f", "", "Request file (YAML or JSON)")
	cmd.Flags().Bool("async", false, "Run as a background task and follow its progress")
	cmd.Flags().String("owner", "", "Owner id; overrides the request file")
	cmd.Flags().Duration("poll", defaultPollInterval, "Progress polling interval for async tasks")
	cmd.Flags().Bool("serve-metrics", false, "Expose metrics and health while the task runs")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	req, err := readRequest(cmd)
	if err != nil {
		return err
	}
	serve, _ := cmd.Flags().GetBool("serve-metrics")
	a, err := newApp(ctx, cfg, appOptions{withEngine: true, serveOps: serve})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	sub, err := a.orchestrator.Submit(ctx, req)
	var taskErr *orchestrator.TaskError
	switch {
	case errors.As(err, &taskErr):
		if sub != nil && sub.Task != nil {
			_ = writeTask(cmd, sub.Task)
		}
		return err
	case err != nil:
		return err
	}
	if !req.Async {
		return writeOutcome(cmd, sub.Task)
	}
	poll, _ := cmd.Flags().GetDuration("poll")
	final, err := follow(ctx, a.orchestrator, sub.TaskID, req.OwnerID, poll)
	if err != nil {
		return err
	}
	if err := writeOutcome(cmd, final); err != nil {
		return err
	}
	if final.Status == task.StatusFailed {
		return &orchestrator.TaskError{TaskID: final.ID, Message: final.Message}
	}
	return nil
}

func readRequest(cmd *cobra.Command) (*orchestrator.SubmitRequest, error) {
	path, err := cmd.Flags().GetString("file")
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading request file: %w", err)
	}
	// YAML is a superset of JSON, one decoder serves both
	req := &orchestrator.SubmitRequest{}
	if err := yaml.Unmarshal(raw, req); err != nil {
		return nil, fmt.Errorf("parsing request file %s: %w", path, err)
	}
	if owner, _ := cmd.Flags().GetString("owner"); owner != "" {
		req.OwnerID = owner
	}
	if cmd.Flags().Changed("async") {
		req.Async, _ = cmd.Flags().GetBool("async")
	}
	kind, err := task.ParseKind(string(req.Kind))
	if err != nil {
		return nil, err
	}
	req.Kind = kind
	return req, nil
}

// follow polls the task until it is terminal, logging progress changes.
func follow(
	ctx context.Context,
	o *orchestrator.Orchestrator,
	taskID core.ID,
	owner string,
	interval time.Duration,
) (*task.Task, error) {
	log := logger.FromContext(ctx)
	ticker := time.NewTicker(max(interval, 10*time.Millisecond))
	defer ticker.Stop()
	last := -1
	for {
		t, err := o.GetTask(ctx, taskID, owner)
		if err != nil {
			return nil, err
		}
		if t.Progress != last {
			log.Info("Task progress", "task_id", t.ID, "status", t.Status, "progress", t.Progress)
			last = t.Progress
		}
		if t.Status.IsTerminal() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// writeOutcome prints the result payload in JSON mode and a summary otherwise.
func writeOutcome(cmd *cobra.Command, t *task.Task) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	if format == formatJSON && len(t.Result) > 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(t.Result)))
		return err
	}
	return writeTask(cmd, t)
}
