package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/gammadia/gpumux/api"
	"github.com/gammadia/gpumux/client/ui"
	"github.com/gammadia/gpumux/inventory"
	"github.com/rivo/uniseg"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"ps"},
	Short:   "Show running, completed and pending jobs",
	Args:    cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}

		output := lo.Must(cmd.Flags().GetString("output"))
		completed := lo.Must(cmd.Flags().GetInt("completed"))
		return printStatus(cmd.OutOrStdout(), status, output, completed, ui.Width(os.Stdout, 120))
	},
}

func init() {
	statusCmd.Flags().StringP("output", "o", "table", "output format (table, yaml, json)")
	statusCmd.Flags().Int("completed", 10, "number of completed jobs to show in table output")
}

func printStatus(w io.Writer, status *api.Status, output string, completed, width int) error {
	switch output {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(status)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		return encoder.Encode(status)
	case "table":
		renderStatus(w, status, completed, width)
		return nil
	default:
		return fmt.Errorf("unknown output format '%s'", output)
	}
}

func renderStatus(w io.Writer, status *api.Status, completed, width int) {
	fmt.Fprintf(w, "%s %s  %s\n", color.HiWhiteString("Server:"), color.HiCyanString(status.Server), status.Version)
	thread := color.HiGreenString("alive")
	if !status.JobThread {
		thread = color.HiRedString("stopped")
	}
	fmt.Fprintf(w, "%s %s  %s %s\n", color.HiWhiteString("Job thread:"), thread,
		color.HiWhiteString("GPUs:"), strings.Join(lo.Map(status.Resources, func(r inventory.Resource, _ int) string {
			return fmt.Sprint(r.ID)
		}), ","))
	if status.Host != nil {
		fmt.Fprintf(w, "%s %.2f  %s %.0f%%  %s %.0f%%\n",
			color.HiWhiteString("Load:"), status.Host.Load1,
			color.HiWhiteString("Memory:"), status.Host.MemUsedPercent,
			color.HiWhiteString("Disk:"), status.Host.DiskUsedPercent,
		)
	}

	fmt.Fprintf(w, "\n%s\n", color.HiWhiteString("Running (%d)", len(status.Running)))
	for _, job := range status.Running {
		fmt.Fprintln(w, jobLine(job, width))
	}

	shown := lo.Subset(status.Completed, 0, uint(max(completed, 0)))
	fmt.Fprintf(w, "\n%s\n", color.HiWhiteString("Completed (%d)", len(status.Completed)))
	for _, job := range shown {
		fmt.Fprintln(w, jobLine(job, width))
	}
	if hidden := len(status.Completed) - len(shown); hidden > 0 {
		fmt.Fprintln(w, color.HiBlackString("  ... %d more", hidden))
	}

	pending := pendingLines(status.Pending)
	fmt.Fprintf(w, "\n%s\n", color.HiWhiteString("Pending (%d)", len(pending)))
	for _, line := range pending {
		fmt.Fprintf(w, "  %s\n", truncate(line, width-2))
	}
}

// jobLine renders "  #id  gpu  status  elapsed  command", the command being truncated to fit width.
func jobLine(job api.Job, width int) string {
	resource := "-"
	if job.Resource != nil {
		resource = fmt.Sprint(*job.Resource)
	}

	label, paint := "run", color.HiYellowString
	if job.Status != nil {
		label, paint = fmt.Sprint(*job.Status), color.HiRedString
		if *job.Status == 0 {
			label, paint = "ok", color.HiGreenString
		}
	}
	label = fmt.Sprintf("%-4s", label)

	format := "  #%-5d gpu %-3s %s %11s  "
	visible := uniseg.StringWidth(fmt.Sprintf(format, job.ID, resource, label, job.Elapsed))
	return fmt.Sprintf(format, job.ID, resource, paint(label), job.Elapsed) + truncate(job.Command, width-visible)
}

func pendingLines(pending string) []string {
	return lo.Filter(strings.Split(pending, "\n"), func(line string, _ int) bool {
		return strings.TrimSpace(line) != ""
	})
}

// truncate shortens s to at most width terminal cells, marking the cut with an ellipsis.
func truncate(s string, width int) string {
	if width <= 0 || uniseg.StringWidth(s) <= width {
		return s
	}

	var b strings.Builder
	used := 0
	state := -1
	rest := s
	for len(rest) > 0 {
		var cluster string
		var w int
		cluster, rest, w, state = uniseg.FirstGraphemeClusterInString(rest, state)
		if used+w > width-1 {
			break
		}
		b.WriteString(cluster)
		used += w
	}
	b.WriteString("…")
	return b.String()
}
