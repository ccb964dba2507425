package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/examforge/examforge/engine/task"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const (
	formatJSON  = "json"
	formatTable = "table"

	timeFormat = "2006-01-02 15:04:05"
)

// outputFormat honors --format and otherwise picks table for terminals and
// JSON for pipes.
func outputFormat(cmd *cobra.Command) (string, error) {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return "", err
	}
	switch strings.ToLower(format) {
	case formatJSON:
		return formatJSON, nil
	case formatTable:
		return formatTable, nil
	case "":
		if f, ok := cmd.OutOrStdout().(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			return formatTable, nil
		}
		return formatJSON, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (use json or table)", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTasks(cmd *cobra.Command, tasks []*task.Task) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	if format == formatJSON {
		if tasks == nil {
			tasks = []*task.Task{}
		}
		return writeJSON(cmd.OutOrStdout(), tasks)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tPROGRESS\tGENERATED\tFAILED\tCREATED")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%d\t%d\t%s\n",
			t.ID, t.Kind, t.Status, t.Progress, t.GeneratedCount, t.FailedCount,
			t.CreatedAt.Local().Format(timeFormat))
	}
	return tw.Flush()
}

func writeTask(cmd *cobra.Command, t *task.Task) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	if format == formatJSON {
		return writeJSON(cmd.OutOrStdout(), t)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"ID", t.ID.String()},
		{"Owner", t.OwnerID},
		{"Kind", string(t.Kind)},
		{"Status", string(t.Status)},
		{"Progress", fmt.Sprintf("%d%%", t.Progress)},
		{"Source", t.Source},
		{"Requested", fmt.Sprint(t.RequestedTotal)},
		{"Generated", fmt.Sprint(t.GeneratedCount)},
		{"Failed", fmt.Sprint(t.FailedCount)},
		{"Failed kinds", strings.Join(t.FailedKinds, ", ")},
		{"Message", t.Message},
		{"Created", t.CreatedAt.Local().Format(timeFormat)},
		{"Completed", formatOptional(t.CompletedAt)},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s:\t%s\n", r[0], r[1])
	}
	return tw.Flush()
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(timeFormat)
}
