package cli

import (
	"fmt"
	"strings"

	"github.com/examforge/examforge/engine/core"
	"github.com/examforge/examforge/engine/task"
	"github.com/examforge/examforge/pkg/config"
	"github.com/spf13/cobra"
)

func TasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and delete stored tasks",
	}
	cmd.PersistentFlags().String("owner", "", "Owner id the tasks belong to")
	_ = cmd.MarkPersistentFlagRequired("owner")
	cmd.AddCommand(
		tasksListCmd(),
		tasksGetCmd(),
		tasksResultCmd(),
		tasksDeleteCmd(),
	)
	return cmd
}

func tasksListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the owner's most recent tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			kindFlag, _ := cmd.Flags().GetString("kind")
			var kind task.Kind
			if kindFlag != "" {
				k, err := task.ParseKind(kindFlag)
				if err != nil {
					return err
				}
				kind = k
			}
			a, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())
			tasks, err := a.store.TaskRepo().FindRecentByOwner(cmd.Context(), owner(cmd), task.ClampLimit(limit), kind)
			if err != nil {
				return err
			}
			return writeTasks(cmd, tasks)
		},
	}
	cmd.Flags().Int("limit", task.DefaultListLimit, "Maximum number of tasks (1-100)")
	cmd.Flags().String("kind", "", "Only list PAPER or INTENSIVE tasks")
	return cmd
}

func tasksGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a task's status and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, a, err := ownedTask(cmd, args[0])
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())
			return writeTask(cmd, t)
		},
	}
}

func tasksResultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "result <task-id>",
		Short: "Print the result payload of a succeeded task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, a, err := ownedTask(cmd, args[0])
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())
			if t.Status != task.StatusSucceeded {
				return fmt.Errorf("task %s is %s, no result available", t.ID, t.Status)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(t.Result)))
			return err
		},
	}
}

func tasksDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			a, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())
			ok, err := a.store.TaskRepo().Delete(cmd.Context(), id, owner(cmd))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("task %s: %w", id, task.ErrNotFound)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return err
		},
	}
}

// openStore wires only the task store; inspection needs no providers.
func openStore(cmd *cobra.Command) (*app, error) {
	return newApp(cmd.Context(), config.FromContext(cmd.Context()), appOptions{})
}

func ownedTask(cmd *cobra.Command, rawID string) (*task.Task, *app, error) {
	id, err := parseTaskID(rawID)
	if err != nil {
		return nil, nil, err
	}
	a, err := openStore(cmd)
	if err != nil {
		return nil, nil, err
	}
	t, err := a.store.TaskRepo().FindByID(cmd.Context(), id)
	if err == nil && t.OwnerID != owner(cmd) {
		err = task.ErrNotFound
	}
	if err != nil {
		a.close(cmd.Context())
		return nil, nil, fmt.Errorf("task %s: %w", id, err)
	}
	return t, a, nil
}

func owner(cmd *cobra.Command) string {
	v, _ := cmd.Flags().GetString("owner")
	return v
}

func parseTaskID(s string) (core.ID, error) {
	id, err := core.ParseID(strings.TrimSpace(s))
	if err != nil {
		return "", core.NewValidationError("task_id", err.Error())
	}
	return id, nil
}
