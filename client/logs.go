package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:     "logs <job>",
	Aliases: []string{"tail"},
	Short:   "Print the log of a job",
	Args:    cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid job id '%s'", args[0])
		}

		lines, err := cmd.Flags().GetInt("lines")
		if err != nil {
			return err
		}

		follow, err := cmd.Flags().GetBool("follow")
		if err != nil {
			return err
		}

		data, err := client.JobLog(cmd.Context(), id, lines)
		if err != nil {
			return err
		}
		if _, err := cmd.OutOrStdout().Write(data); err != nil {
			return err
		}
		if !follow {
			return nil
		}

		full, err := client.JobLog(cmd.Context(), id, 0)
		if err != nil {
			return err
		}
		return followLog(cmd.Context(), func(ctx context.Context) ([]byte, error) {
			return client.JobLog(ctx, id, 0)
		}, len(full), cmd.OutOrStdout(), 2*time.Second)
	},
}

// followLog polls the whole log and writes what was appended since offset. It returns on context cancellation.
func followLog(ctx context.Context, fetch func(context.Context) ([]byte, error), offset int, w io.Writer, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		data, err := fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if len(data) < offset {
			// screen truncated the log, start over
			offset = 0
		}
		if len(data) > offset {
			if _, err := w.Write(data[offset:]); err != nil {
				return err
			}
			offset = len(data)
		}
	}
}

func init() {
	logsCmd.Flags().IntP("lines", "n", 100, "number of lines to print (0 for the whole log)")
	logsCmd.Flags().BoolP("follow", "f", false, "follow log output (like tail -f)")
}
