package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gammadia/gpumux/api"
	"github.com/gammadia/gpumux/client/ui"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or change the pending queue",
}

var queueShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the pending queue, one command per line",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}
		for _, line := range pendingLines(status.Pending) {
			cmd.Println(line)
		}
		return nil
	},
}

var queueSetCmd = &cobra.Command{
	Use:   "set [FILE]",
	Short: "Replace the pending queue with the lines of FILE (or stdin)",
	Long: "Replace the pending queue with the lines of FILE (or stdin). " +
		"The last replacement received by the server before its next tick wins.",
	Args: cobra.MaximumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		name := "-"
		if len(args) > 0 {
			name = args[0]
		}
		text, err := readQueueInput(cmd.InOrStdin(), name)
		if err != nil {
			return err
		}
		return updateQueue(cmd, text)
	},
}

var queueAddCmd = &cobra.Command{
	Use:   "add COMMAND...",
	Short: "Append commands to the end of the pending queue",
	Args:  cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		commands := lo.Filter(args, func(c string, _ int) bool { return strings.TrimSpace(c) != "" })
		if len(commands) == 0 {
			return errors.New("no command to append")
		}

		s := ui.NewSpinner(fmt.Sprintf("Appending %d command(s)", len(commands)))
		if err := client.AppendQueue(cmd.Context(), commands); err != nil {
			s.Fail()
			return err
		}
		s.Success(fmt.Sprintf("Appended %d command(s)", len(commands)))
		return nil
	},
}

var queueEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit the pending queue in $EDITOR",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := client.Status(cmd.Context())
		if err != nil {
			return err
		}

		edited, err := editText(status.Pending)
		if err != nil {
			return err
		}
		if edited == status.Pending {
			cmd.PrintErrln("Queue unchanged")
			return nil
		}
		return updateQueue(cmd, edited)
	},
}

func init() {
	queueCmd.AddCommand(queueAddCmd)
	queueCmd.AddCommand(queueEditCmd)
	queueCmd.AddCommand(queueSetCmd)
	queueCmd.AddCommand(queueShowCmd)
}

func updateQueue(cmd *cobra.Command, text string) error {
	count := len(pendingLines(text))
	s := ui.NewSpinner(fmt.Sprintf("Replacing pending queue with %d command(s)", count))

	before, err := client.Status(cmd.Context())
	if err != nil {
		s.Fail()
		return err
	}
	if err := client.UpdateQueue(cmd.Context(), text); err != nil {
		s.Fail()
		return err
	}
	if err := waitForTick(cmd.Context(), client.Status, before.TickedAt, 200*time.Millisecond, 10*time.Second); err != nil {
		s.Fail(fmt.Sprintf("Pending queue sent, but %s", err))
		return nil
	}
	s.Success(fmt.Sprintf("Pending queue replaced with %d command(s)", count))
	return nil
}

// waitForTick polls the server until it reports a tick more recent than since.
func waitForTick(ctx context.Context, status func(context.Context) (*api.Status, error), since time.Time, interval, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.New("the server did not tick in time")
		case <-ticker.C:
		}

		current, err := status(ctx)
		if err != nil {
			continue
		}
		if !current.JobThread {
			return errors.New("the server job thread is stopped")
		}
		if current.TickedAt.After(since) {
			return nil
		}
	}
}

// readQueueInput reads the queue text from a file, or from stdin when name is "-".
func readQueueInput(stdin io.Reader, name string) (string, error) {
	var data []byte
	var err error
	if name == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read queue: %w", err)
	}
	return string(bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))), nil
}

func editText(text string) (string, error) {
	f, err := os.CreateTemp("", "gpumux-queue-*.txt")
	if err != nil {
		return "", err
	}
	defer os.Remove(f.Name())

	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	editor := lo.Must(lo.Coalesce(os.Getenv("VISUAL"), os.Getenv("EDITOR"), "vi"))
	command := exec.Command("sh", "-c", fmt.Sprintf(`%s "$1"`, editor), "sh", f.Name())
	command.Stdin, command.Stdout, command.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := command.Run(); err != nil {
		return "", fmt.Errorf("editor failed: %w", err)
	}

	data, err := os.ReadFile(f.Name())
	if err != nil {
		return "", err
	}
	return string(data), nil
}
